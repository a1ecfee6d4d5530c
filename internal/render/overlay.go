// Package render draws balloon detections for inspection and crops balloons for popups.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
	"github.com/MeKo-Tech/bubblenav/internal/utils"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Style controls overlay drawing.
type Style struct {
	Box       colorful.Color
	Current   colorful.Color
	Thickness int
	Labels    bool
}

// DefaultStyle draws red boxes, the current balloon in yellow, with reading-order labels.
func DefaultStyle() Style {
	s, _ := ParseStyle("#e53935", "#fdd835")
	return s
}

// ParseStyle builds a style from hex colours such as "#ff0000".
func ParseStyle(box, current string) (Style, error) {
	b, err := colorful.Hex(box)
	if err != nil {
		return Style{}, fmt.Errorf("invalid box colour %q: %w", box, err)
	}
	c, err := colorful.Hex(current)
	if err != nil {
		return Style{}, fmt.Errorf("invalid current colour %q: %w", current, err)
	}
	return Style{Box: b, Current: c, Thickness: 3, Labels: true}, nil
}

// Overlay copies img and draws each balloon's rectangle and 1-based reading
// order on top. current highlights one balloon; pass -1 for none. Rectangles
// are rescaled when the page was ordered at a different size than img.
func Overlay(img image.Image, page balloon.PageBalloons, current int, style Style) *image.RGBA {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	sx, sy := 1.0, 1.0
	if page.PageWidth > 0 && page.PageHeight > 0 {
		sx = float64(b.Dx()) / float64(page.PageWidth)
		sy = float64(b.Dy()) / float64(page.PageHeight)
	}
	for _, bl := range page.Balloons {
		col := style.Box
		thickness := style.Thickness
		if bl.Index == current {
			col = style.Current
			thickness++
		}
		r := bl.Rect.Scale(sx, sy)
		rect := image.Rect(int(r.Left+0.5), int(r.Top+0.5), int(r.Right+0.5), int(r.Bottom+0.5))
		utils.DrawRect(dst, rect, col.Clamped(), thickness)
		if style.Labels {
			drawLabel(dst, rect.Min, strconv.Itoa(bl.Index+1), col)
		}
	}
	return dst
}

// drawLabel writes text on a filled tag at the rectangle's top-left corner.
func drawLabel(dst *image.RGBA, at image.Point, text string, bg colorful.Color) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil() + 4
	h := face.Metrics().Height.Ceil() + 2
	tag := image.Rect(at.X, at.Y, at.X+w, at.Y+h).Intersect(dst.Bounds())
	if tag.Empty() {
		return
	}
	draw.Draw(dst, tag, &image.Uniform{bg.Clamped()}, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  &image.Uniform{labelColor(bg)},
		Face: face,
		Dot:  fixed.P(at.X+2, at.Y+face.Metrics().Ascent.Ceil()+1),
	}
	d.DrawString(text)
}

// labelColor picks black or white text for a background.
func labelColor(bg colorful.Color) color.Color {
	l, _, _ := bg.Lab()
	if l > 0.6 {
		return color.Black
	}
	return color.White
}
