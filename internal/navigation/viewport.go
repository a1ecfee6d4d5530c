package navigation

import "github.com/MeKo-Tech/bubblenav/internal/balloon"

// Viewport maps page pixels to screen coordinates: screen = page*scale + offset.
type Viewport struct {
	OffsetX float64
	OffsetY float64
	ScaleX  float64
	ScaleY  float64
}

// Identity is the viewport where the page is drawn at 1:1 at the origin.
func Identity() Viewport {
	return Viewport{ScaleX: 1, ScaleY: 1}
}

// FitViewport scales a page uniformly to fit the screen and centers it.
func FitViewport(pageW, pageH int, screenW, screenH float64) Viewport {
	if pageW <= 0 || pageH <= 0 || screenW <= 0 || screenH <= 0 {
		return Identity()
	}
	s := min(screenW/float64(pageW), screenH/float64(pageH))
	return Viewport{
		OffsetX: (screenW - float64(pageW)*s) / 2,
		OffsetY: (screenH - float64(pageH)*s) / 2,
		ScaleX:  s,
		ScaleY:  s,
	}
}

// Project maps a page rectangle to the screen.
func (v Viewport) Project(r balloon.Rect) balloon.Rect {
	return balloon.Rect{
		Left:   r.Left*v.ScaleX + v.OffsetX,
		Top:    r.Top*v.ScaleY + v.OffsetY,
		Right:  r.Right*v.ScaleX + v.OffsetX,
		Bottom: r.Bottom*v.ScaleY + v.OffsetY,
	}
}
