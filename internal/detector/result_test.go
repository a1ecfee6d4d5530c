package detector

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingModelIsUnavailable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")

	r := Load(cfg)
	assert.False(t, r.Available())
	require.Error(t, r.Err())
	assert.ErrorIs(t, r.Err(), ErrUnavailable)

	var ie *InitError
	require.ErrorAs(t, r.Err(), &ie)
	assert.Equal(t, cfg.ModelPath, ie.ModelPath)

	_, err := r.Detector()
	require.ErrorIs(t, err, ErrUnavailable)

	res, err := r.Detect(context.Background(), redPage())
	require.NoError(t, err)
	assert.Empty(t, res.Balloons)
	require.NoError(t, r.Close())
}

func TestReadyResult(t *testing.T) {
	d, err := New(DefaultConfig(), newFlatFake(func(float32) bool { return true }))
	require.NoError(t, err)

	r := Ready(d)
	assert.True(t, r.Available())
	require.NoError(t, r.Err())

	res, err := r.Detect(context.Background(), redPage())
	require.NoError(t, err)
	assert.Len(t, res.Balloons, 1)
}

func TestReadyNilIsUnavailable(t *testing.T) {
	r := Ready(nil)
	assert.False(t, r.Available())

	u := Unavailable("m.onnx", nil)
	require.Error(t, u.Err())
	assert.False(t, errors.Is(u.Err(), context.Canceled))
}
