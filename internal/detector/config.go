package detector

import (
	"errors"
	"fmt"
	"os"

	"github.com/MeKo-Tech/bubblenav/internal/models"
	"github.com/MeKo-Tech/bubblenav/internal/onnx"
	"github.com/MeKo-Tech/bubblenav/internal/utils"
)

// Anchor is a reference box size in model input pixels.
type Anchor struct {
	W float64
	H float64
}

// Config holds configuration for the balloon detector.
type Config struct {
	ModelPath           string   // Path to ONNX detection model
	ConfidenceThreshold float64  // Minimum combined confidence (default: 0.30)
	NMSThreshold        float64  // IoU above which lower-scored boxes are dropped (default: 0.45)
	NumClasses          int      // Number of classes the model predicts (default: 2)
	Anchors             []Anchor // Anchor table for grid layouts
	AnchorMasks         [][]int  // Anchor indices per grid output, in output order
	MinBalloonSize      float64  // Minimum normalized width/height (default: 0.01)
	MaxBalloonSize      float64  // Maximum normalized width/height (default: 0.70)
	MinAspectRatio      float64  // Minimum width/height ratio (default: 0.15)
	MaxAspectRatio      float64  // Maximum width/height ratio (default: 6.0)
	InputWidth          int      // Used when the model input is dynamic (default: 416)
	InputHeight         int      // Used when the model input is dynamic (default: 416)
	Channels            ChannelOrderPolicy
	NumThreads          int            // Number of CPU threads (default: 0 for auto)
	WarmupIterations    int            // Dummy inferences run after load
	GPU                 onnx.GPUConfig // GPU acceleration configuration
}

// DefaultAnchors is the six-anchor table of the tiny grid detector family.
func DefaultAnchors() []Anchor {
	return []Anchor{
		{W: 10, H: 14}, {W: 23, H: 27}, {W: 37, H: 58},
		{W: 81, H: 82}, {W: 135, H: 169}, {W: 344, H: 319},
	}
}

// DefaultAnchorMasks assigns the large anchors to the coarse output and the small ones to the fine output.
func DefaultAnchorMasks() [][]int {
	return [][]int{{3, 4, 5}, {0, 1, 2}}
}

// DefaultConfig returns a default detector configuration.
func DefaultConfig() Config {
	return Config{
		ModelPath:           models.GetDetectorModelPath("", false),
		ConfidenceThreshold: 0.30,
		NMSThreshold:        0.45,
		NumClasses:          2,
		Anchors:             DefaultAnchors(),
		AnchorMasks:         DefaultAnchorMasks(),
		MinBalloonSize:      0.01,
		MaxBalloonSize:      0.70,
		MinAspectRatio:      0.15,
		MaxAspectRatio:      6.0,
		InputWidth:          416,
		InputHeight:         416,
		Channels:            DefaultChannelOrderPolicy(),
		NumThreads:          0,
		WarmupIterations:    0,
		GPU:                 onnx.DefaultGPUConfig(),
	}
}

// UpdateModelPath updates the ModelPath based on modelsDir.
func (c *Config) UpdateModelPath(modelsDir string, lite bool) {
	c.ModelPath = models.GetDetectorModelPath(modelsDir, lite)
}

// Validate checks the decode and filter parameters.
func (c Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got %f", c.ConfidenceThreshold)
	}
	if c.NMSThreshold < 0 || c.NMSThreshold > 1 {
		return fmt.Errorf("nms threshold must be in [0,1], got %f", c.NMSThreshold)
	}
	if c.NumClasses < 1 {
		return fmt.Errorf("num classes must be positive, got %d", c.NumClasses)
	}
	if c.MinBalloonSize < 0 || c.MaxBalloonSize > 1 || c.MinBalloonSize > c.MaxBalloonSize {
		return fmt.Errorf("invalid balloon size range [%f, %f]", c.MinBalloonSize, c.MaxBalloonSize)
	}
	if c.MinAspectRatio <= 0 || c.MinAspectRatio > c.MaxAspectRatio {
		return fmt.Errorf("invalid aspect ratio range [%f, %f]", c.MinAspectRatio, c.MaxAspectRatio)
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return fmt.Errorf("invalid input size %dx%d", c.InputWidth, c.InputHeight)
	}
	for i, a := range c.Anchors {
		if a.W <= 0 || a.H <= 0 {
			return fmt.Errorf("anchor %d must have positive size", i)
		}
	}
	for i, mask := range c.AnchorMasks {
		for _, idx := range mask {
			if idx < 0 || idx >= len(c.Anchors) {
				return fmt.Errorf("anchor mask %d references anchor %d of %d", i, idx, len(c.Anchors))
			}
		}
	}
	return c.Channels.Validate()
}

// validateModelFile checks if the model file exists.
func validateModelFile(modelPath string) error {
	if modelPath == "" {
		return errors.New("model path cannot be empty")
	}
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}

// ChannelOrderPolicy is the explicit two-attempt input ordering: the primary order is
// always tried, the fallback only when the primary decodes to nothing.
type ChannelOrderPolicy struct {
	Primary  utils.ChannelOrder
	Fallback utils.ChannelOrder // empty disables the second attempt
}

// DefaultChannelOrderPolicy tries RGB, then BGR.
func DefaultChannelOrderPolicy() ChannelOrderPolicy {
	return ChannelOrderPolicy{Primary: utils.ChannelRGB, Fallback: utils.ChannelBGR}
}

// Attempts returns the orders to try, in sequence.
func (p ChannelOrderPolicy) Attempts() []utils.ChannelOrder {
	primary := p.Primary
	if primary == "" {
		primary = utils.ChannelRGB
	}
	if p.Fallback == "" || p.Fallback == primary {
		return []utils.ChannelOrder{primary}
	}
	return []utils.ChannelOrder{primary, p.Fallback}
}

// Validate rejects unknown channel orders.
func (p ChannelOrderPolicy) Validate() error {
	for _, o := range []utils.ChannelOrder{p.Primary, p.Fallback} {
		if o == "" {
			continue
		}
		if _, err := utils.ParseChannelOrder(string(o)); err != nil {
			return err
		}
	}
	return nil
}
