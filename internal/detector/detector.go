package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/bubblenav/internal/mempool"
	"github.com/MeKo-Tech/bubblenav/internal/onnx"
	"github.com/MeKo-Tech/bubblenav/internal/utils"
)

// ErrDetectorClosed is returned by Detect and Warmup after Close.
var ErrDetectorClosed = errors.New("detector closed")

// PageDetection is the suppressed detection result for one page image.
type PageDetection struct {
	Balloons      []DetectedObject
	Panels        []DetectedObject
	Candidates    int                // decoded detections before suppression
	ChannelOrder  utils.ChannelOrder // order that produced the result
	Attempts      int                // inference calls made
	FilterSkipped bool
	Layout        LayoutKind
	Duration      time.Duration
}

// Detector decodes and suppresses balloon detections for page images. Calls are
// serialized because the underlying interpreter is not reentrant.
type Detector struct {
	config       Config
	interp       Interpreter
	layout       Layout
	inputW       int
	inputH       int
	tensorLayout utils.TensorLayout
	mu           sync.Mutex
}

// New builds a detector around an already loaded interpreter and selects the
// output layout from the interpreter's shapes.
func New(config Config, interp Interpreter) (*Detector, error) {
	if interp == nil {
		return nil, errors.New("interpreter is nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector config: %w", err)
	}

	inShape := interp.InputShape()
	tensorLayout, w, h := inputGeometry(inShape, config.InputWidth, config.InputHeight)
	layout := SelectLayout(interp.OutputShapes(), config, w, h)

	if layout.Kind() == LayoutUnknown {
		slog.Warn("Unrecognized detector output layout, detections will be empty",
			"output_shapes", interp.OutputShapes())
	}
	slog.Debug("Detector initialized",
		"layout", layout.Kind().String(),
		"input_width", w,
		"input_height", h,
		"channels_last", tensorLayout == utils.LayoutNHWC)

	return &Detector{
		config:       config,
		interp:       interp,
		layout:       layout,
		inputW:       w,
		inputH:       h,
		tensorLayout: tensorLayout,
	}, nil
}

// NewFromModel loads the ONNX model named in config and optionally warms it up.
func NewFromModel(config Config) (*Detector, error) {
	interp, err := NewONNXInterpreter(config)
	if err != nil {
		return nil, err
	}
	d, err := New(config, interp)
	if err != nil {
		_ = interp.Close()
		return nil, err
	}
	if err := d.Warmup(config.WarmupIterations); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("warmup failed: %w", err)
	}
	return d, nil
}

// inputGeometry reads layout and size from a rank-4 input shape. A channel axis of 3
// in position 1 means NCHW, in position 3 NHWC. Dynamic sizes fall back to the defaults.
func inputGeometry(shape []int64, defW, defH int) (utils.TensorLayout, int, int) {
	w, h := defW, defH
	if len(shape) != 4 {
		return utils.LayoutNCHW, w, h
	}
	layout := utils.LayoutNCHW
	hIdx, wIdx := 2, 3
	if shape[1] != 3 && shape[3] == 3 {
		layout = utils.LayoutNHWC
		hIdx, wIdx = 1, 2
	}
	if shape[hIdx] > 0 {
		h = int(shape[hIdx])
	}
	if shape[wIdx] > 0 {
		w = int(shape[wIdx])
	}
	return layout, w, h
}

// Layout returns the decoder kind chosen at load time.
func (d *Detector) Layout() LayoutKind { return d.layout.Kind() }

// InputSize returns the model input width and height.
func (d *Detector) InputSize() (int, int) { return d.inputW, d.inputH }

// GetConfig returns a copy of the detector's configuration.
func (d *Detector) GetConfig() Config { return d.config }

// Detect runs the channel-order policy on img and suppresses the first non-empty
// decode. The image is stretched to the model input, so normalized boxes map
// directly onto the page.
func (d *Detector) Detect(ctx context.Context, img image.Image) (PageDetection, error) {
	start := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.interp == nil {
		return PageDetection{}, ErrDetectorClosed
	}

	resized, err := utils.ResizeExact(img, d.inputW, d.inputH)
	if err != nil {
		return PageDetection{}, err
	}

	res := PageDetection{Layout: d.layout.Kind()}
	var decoded []DetectedObject
	for _, order := range d.config.Channels.Attempts() {
		if err := ctx.Err(); err != nil {
			return PageDetection{}, err
		}
		decoded, err = d.decodeWith(resized, order)
		res.Attempts++
		res.ChannelOrder = order
		if err != nil {
			return PageDetection{}, err
		}
		if len(decoded) > 0 {
			break
		}
		slog.Debug("No detections for channel order", "order", string(order))
	}

	sup := Suppress(decoded, d.config)
	res.Candidates = len(decoded)
	res.Balloons = sup.Balloons
	res.Panels = sup.Panels
	res.FilterSkipped = sup.FilterSkipped
	res.Duration = time.Since(start)

	slog.Debug("Page detection complete",
		"candidates", res.Candidates,
		"balloons", len(res.Balloons),
		"panels", len(res.Panels),
		"channel_order", string(res.ChannelOrder),
		"filter_skipped", res.FilterSkipped,
		"duration_ms", res.Duration.Milliseconds())
	return res, nil
}

// decodeWith runs one inference with the given channel order and decodes it.
func (d *Detector) decodeWith(img image.Image, order utils.ChannelOrder) ([]DetectedObject, error) {
	data, w, h, err := utils.ImageToTensorData(img, order, d.tensorLayout)
	if err != nil {
		return nil, fmt.Errorf("failed to build input tensor: %w", err)
	}
	defer mempool.PutFloat32(data)

	tensor, err := onnx.NewImageTensor(data, 3, h, w, d.tensorLayout == utils.LayoutNHWC)
	if err != nil {
		return nil, fmt.Errorf("failed to create tensor: %w", err)
	}
	outputs, err := d.interp.Run(tensor)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return d.layout.Decode(outputs), nil
}

// Warmup runs forward passes on a blank input to reduce first-page latency.
func (d *Detector) Warmup(iterations int) error {
	if iterations <= 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.interp == nil {
		return ErrDetectorClosed
	}

	blank := image.NewRGBA(image.Rect(0, 0, d.inputW, d.inputH))
	for range iterations {
		if _, err := d.decodeWith(blank, d.config.Channels.Attempts()[0]); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the interpreter.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.interp == nil {
		return nil
	}
	err := d.interp.Close()
	d.interp = nil
	return err
}
