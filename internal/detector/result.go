package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
)

// ErrUnavailable is matched by every InitError.
var ErrUnavailable = errors.New("balloon detector unavailable")

// InitError records why a detector could not be created.
type InitError struct {
	ModelPath string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("balloon detector unavailable (model %q): %v", e.ModelPath, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUnavailable) hold for any InitError.
func (e *InitError) Is(target error) bool { return target == ErrUnavailable }

// BalloonDetector is the detection capability consumed by indexing.
type BalloonDetector interface {
	Detect(ctx context.Context, img image.Image) (PageDetection, error)
	Close() error
}

// Result holds either a ready detector or the error that prevented loading it.
// It is created once and the unavailable state is sticky.
type Result struct {
	det BalloonDetector
	err *InitError
}

// Load creates a detector from config and captures a load failure as an InitError.
func Load(config Config) Result {
	d, err := NewFromModel(config)
	if err != nil {
		slog.Warn("Balloon detector unavailable", "model_path", config.ModelPath, "error", err)
		return Unavailable(config.ModelPath, err)
	}
	return Ready(d)
}

// Ready wraps an initialized detector.
func Ready(d BalloonDetector) Result {
	if d == nil {
		return Unavailable("", errors.New("detector is nil"))
	}
	return Result{det: d}
}

// Unavailable builds a failed result.
func Unavailable(modelPath string, err error) Result {
	if err == nil {
		err = errors.New("unknown error")
	}
	return Result{err: &InitError{ModelPath: modelPath, Err: err}}
}

// Available reports whether detection can run.
func (r Result) Available() bool { return r.det != nil }

// Err returns the InitError, or nil when the detector is available.
func (r Result) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

// Detector returns the detector or the InitError.
func (r Result) Detector() (BalloonDetector, error) {
	if r.det == nil {
		return nil, r.Err()
	}
	return r.det, nil
}

// Detect delegates to the detector. When unavailable it returns an empty result
// and no error; callers read Available for diagnostics.
func (r Result) Detect(ctx context.Context, img image.Image) (PageDetection, error) {
	if r.det == nil {
		return PageDetection{}, nil
	}
	return r.det.Detect(ctx, img)
}

// Close releases the detector if there is one.
func (r Result) Close() error {
	if r.det == nil {
		return nil
	}
	return r.det.Close()
}
