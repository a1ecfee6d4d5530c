package detector

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/MeKo-Tech/bubblenav/internal/onnx"
	"github.com/MeKo-Tech/bubblenav/internal/onnx/mock"
	"github.com/MeKo-Tech/bubblenav/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInterpreter answers with detections only when the first input value satisfies accept.
type fakeInterpreter struct {
	mu      sync.Mutex
	input   []int64
	hit     []onnx.Tensor
	miss    []onnx.Tensor
	accept  func(first float32) bool
	calls   int
	inputs  [][]int64
	closed  bool
	failErr error
}

func newFlatFake(accept func(float32) bool) *fakeInterpreter {
	return &fakeInterpreter{
		input:  []int64{1, 3, 32, 32},
		hit:    []onnx.Tensor{mock.NewFlat([]float32{0.5, 0.5, 0.2, 0.1, 0.9, 0}, []float32{0.2, 0.2, 0.1, 0.1, 0.8, 1})},
		miss:   []onnx.Tensor{mock.NewFlat([]float32{0.5, 0.5, 0.2, 0.1, 0.01, 0})},
		accept: accept,
	}
}

func (f *fakeInterpreter) Run(in onnx.Tensor) ([]onnx.Tensor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, in.Shape)
	if f.failErr != nil {
		return nil, f.failErr
	}
	if f.accept(in.Data[0]) {
		return f.hit, nil
	}
	return f.miss, nil
}

func (f *fakeInterpreter) InputShape() []int64 { return f.input }

func (f *fakeInterpreter) OutputShapes() [][]int64 { return mock.Shapes(f.hit) }

func (f *fakeInterpreter) Close() error {
	f.closed = true
	return nil
}

func redPage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 96))
	for y := range 96 {
		for x := range 64 {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	return img
}

func TestDetectPrimaryChannelOrder(t *testing.T) {
	fake := newFlatFake(func(first float32) bool { return first > 0.5 }) // red first: RGB
	d, err := New(DefaultConfig(), fake)
	require.NoError(t, err)
	assert.Equal(t, LayoutFlat, d.Layout())

	res, err := d.Detect(context.Background(), redPage())
	require.NoError(t, err)
	assert.Equal(t, utils.ChannelRGB, res.ChannelOrder)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 2, res.Candidates)
	require.Len(t, res.Balloons, 1)
	require.Len(t, res.Panels, 1)
	assert.Equal(t, []int64{1, 3, 32, 32}, fake.inputs[0])
}

func TestDetectFallsBackToSecondaryOrder(t *testing.T) {
	fake := newFlatFake(func(first float32) bool { return first < 0.5 }) // blue first: BGR
	d, err := New(DefaultConfig(), fake)
	require.NoError(t, err)

	res, err := d.Detect(context.Background(), redPage())
	require.NoError(t, err)
	assert.Equal(t, utils.ChannelBGR, res.ChannelOrder)
	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, res.Balloons, 1)
}

func TestDetectSingleAttemptPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channels = ChannelOrderPolicy{Primary: utils.ChannelRGB}
	fake := newFlatFake(func(float32) bool { return false })
	d, err := New(cfg, fake)
	require.NoError(t, err)

	res, err := d.Detect(context.Background(), redPage())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, res.Balloons)
}

func TestDetectNHWCInput(t *testing.T) {
	fake := newFlatFake(func(float32) bool { return true })
	fake.input = []int64{1, 24, 16, 3}
	d, err := New(DefaultConfig(), fake)
	require.NoError(t, err)
	w, h := d.InputSize()
	assert.Equal(t, 16, w)
	assert.Equal(t, 24, h)

	_, err = d.Detect(context.Background(), redPage())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 24, 16, 3}, fake.inputs[0])
}

func TestDetectDynamicInputUsesConfiguredSize(t *testing.T) {
	fake := newFlatFake(func(float32) bool { return true })
	fake.input = []int64{-1, 3, -1, -1}
	d, err := New(DefaultConfig(), fake)
	require.NoError(t, err)
	w, h := d.InputSize()
	assert.Equal(t, 416, w)
	assert.Equal(t, 416, h)
}

func TestDetectPropagatesInferenceError(t *testing.T) {
	fake := newFlatFake(func(float32) bool { return true })
	fake.failErr = errors.New("boom")
	d, err := New(DefaultConfig(), fake)
	require.NoError(t, err)

	_, err = d.Detect(context.Background(), redPage())
	require.Error(t, err)
}

func TestDetectHonoursCancellation(t *testing.T) {
	fake := newFlatFake(func(float32) bool { return true })
	d, err := New(DefaultConfig(), fake)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Detect(ctx, redPage())
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fake.calls)
}

func TestWarmupAndClose(t *testing.T) {
	fake := newFlatFake(func(float32) bool { return true })
	d, err := New(DefaultConfig(), fake)
	require.NoError(t, err)

	require.NoError(t, d.Warmup(3))
	assert.Equal(t, 3, fake.calls)
	require.NoError(t, d.Close())
	assert.True(t, fake.closed)
	require.NoError(t, d.Close())
}

func TestDetectAfterCloseFails(t *testing.T) {
	fake := newFlatFake(func(float32) bool { return true })
	d, err := New(DefaultConfig(), fake)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	_, err = d.Detect(context.Background(), redPage())
	require.ErrorIs(t, err, ErrDetectorClosed)
	require.ErrorIs(t, d.Warmup(1), ErrDetectorClosed)
	assert.Zero(t, fake.calls)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NMSThreshold = 2
	_, err := New(cfg, newFlatFake(func(float32) bool { return true }))
	require.Error(t, err)

	_, err = New(DefaultConfig(), nil)
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.AnchorMasks = [][]int{{0, 9}}
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Channels.Fallback = "rgba"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MinAspectRatio = 7
	require.Error(t, cfg.Validate())
}

func TestChannelOrderPolicyAttempts(t *testing.T) {
	assert.Equal(t, []utils.ChannelOrder{utils.ChannelRGB, utils.ChannelBGR}, DefaultChannelOrderPolicy().Attempts())
	assert.Equal(t, []utils.ChannelOrder{utils.ChannelBGR},
		ChannelOrderPolicy{Primary: utils.ChannelBGR, Fallback: utils.ChannelBGR}.Attempts())
	assert.Equal(t, []utils.ChannelOrder{utils.ChannelRGB}, ChannelOrderPolicy{}.Attempts())
}
