package render

import (
	"context"
	"image"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
	"github.com/MeKo-Tech/bubblenav/internal/book"
	"github.com/disintegration/imaging"
)

// PopupOptions sizes a balloon popup.
type PopupOptions struct {
	Padding   int // pixels added around the balloon before cropping
	MaxWidth  int // 0 keeps the crop size
	MaxHeight int
}

// DefaultPopupOptions pads by 8 pixels and does not scale.
func DefaultPopupOptions() PopupOptions {
	return PopupOptions{Padding: 8}
}

// Popup crops balloon b from a page for display. The crop is scaled down to fit
// MaxWidth x MaxHeight when either is set; it is never enlarged.
func Popup(ctx context.Context, src book.Source, page int, b balloon.Balloon, opts PopupOptions) (image.Image, error) {
	img, err := book.Crop(ctx, src, page, b.Rect, opts.Padding)
	if err != nil {
		return nil, err
	}
	return fit(img, opts.MaxWidth, opts.MaxHeight), nil
}

func fit(img image.Image, maxW, maxH int) image.Image {
	if maxW <= 0 && maxH <= 0 {
		return img
	}
	b := img.Bounds()
	if maxW <= 0 {
		maxW = b.Dx()
	}
	if maxH <= 0 {
		maxH = b.Dy()
	}
	if b.Dx() <= maxW && b.Dy() <= maxH {
		return img
	}
	return imaging.Fit(img, maxW, maxH, imaging.Lanczos)
}
