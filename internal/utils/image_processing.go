package utils

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/MeKo-Tech/bubblenav/internal/mempool"
	"github.com/disintegration/imaging"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// ChannelOrder is the order of color channels written into the input tensor.
type ChannelOrder string

const (
	ChannelRGB ChannelOrder = "rgb"
	ChannelBGR ChannelOrder = "bgr"
)

// ParseChannelOrder parses "rgb" or "bgr" (case-insensitive).
func ParseChannelOrder(s string) (ChannelOrder, error) {
	switch ChannelOrder(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelRGB:
		return ChannelRGB, nil
	case ChannelBGR:
		return ChannelBGR, nil
	}
	return "", fmt.Errorf("unknown channel order %q (want rgb or bgr)", s)
}

// TensorLayout is the memory layout of an image tensor.
type TensorLayout int

const (
	// LayoutNCHW stores planes: [1, 3, H, W].
	LayoutNCHW TensorLayout = iota
	// LayoutNHWC stores interleaved pixels: [1, H, W, 3].
	LayoutNHWC
)

// ResizeExact stretches img to exactly width x height, which is what fixed-input
// detectors expect. Normalized detections map back to the page without offsets.
func ResizeExact(img image.Image, width, height int) (image.Image, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "resize", Err: errors.New("input image is nil")}
	}
	if width <= 0 || height <= 0 {
		return nil, &ImageProcessingError{
			Operation: "resize",
			Err:       fmt.Errorf("invalid target dimensions: %dx%d", width, height),
		}
	}
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img, nil
	}
	return imaging.Resize(img, width, height, imaging.Linear), nil
}

// ImageToTensorData converts img into float32 values scaled to [0,1] using the requested
// channel order and layout. The buffer comes from the shared pool; release it with
// mempool.PutFloat32 when the inference call has finished.
func ImageToTensorData(img image.Image, order ChannelOrder, layout TensorLayout) ([]float32, int, int, error) {
	if img == nil {
		return nil, 0, 0, &ImageProcessingError{Operation: "normalize", Err: errors.New("input image is nil")}
	}

	nrgba := imaging.Clone(img)
	bounds := nrgba.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, 0, 0, &ImageProcessingError{Operation: "normalize", Err: errors.New("invalid image dimensions")}
	}

	plane := width * height
	data := mempool.GetFloat32(3 * plane)

	c0, c2 := 0, 2
	if order == ChannelBGR {
		c0, c2 = 2, 0
	}

	for y := range height {
		row := nrgba.Pix[y*nrgba.Stride:]
		for x := range width {
			px := row[x*4 : x*4+3]
			r := float32(px[0]) / 255.0
			g := float32(px[1]) / 255.0
			b := float32(px[2]) / 255.0
			idx := y*width + x
			switch layout {
			case LayoutNHWC:
				data[idx*3+c0] = r
				data[idx*3+1] = g
				data[idx*3+c2] = b
			default:
				data[c0*plane+idx] = r
				data[plane+idx] = g
				data[c2*plane+idx] = b
			}
		}
	}

	return data, width, height, nil
}
