package testutil

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ImageSize represents common image dimensions.
type ImageSize struct {
	Width  int
	Height int
}

var (
	// Common test page sizes.
	SmallSize = ImageSize{320, 480}
	PageSize  = ImageSize{800, 1200}
)

// ComicPageConfig describes a synthetic comic page.
type ComicPageConfig struct {
	Size       ImageSize
	Background color.Color
	Ink        color.Color
	// Balloons are drawn as white boxes with an ink outline and a number.
	Balloons []image.Rectangle
	FontFace font.Face
	// Blur softens the page like a scan.
	Blur float64
}

// DefaultComicPageConfig returns a grey page with two balloons on one row.
func DefaultComicPageConfig() ComicPageConfig {
	return ComicPageConfig{
		Size:       SmallSize,
		Background: color.RGBA{200, 200, 200, 255},
		Ink:        color.Black,
		Balloons: []image.Rectangle{
			image.Rect(20, 40, 140, 100),
			image.Rect(180, 40, 300, 100),
		},
		FontFace: basicfont.Face7x13,
	}
}

// GenerateComicPage draws a page with numbered balloons.
func GenerateComicPage(config ComicPageConfig) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, config.Size.Width, config.Size.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{config.Background}, image.Point{}, draw.Src)

	ink := &image.Uniform{config.Ink}
	face := config.FontFace
	if face == nil {
		face = basicfont.Face7x13
	}
	for i, r := range config.Balloons {
		draw.Draw(img, r, ink, image.Point{}, draw.Src)
		draw.Draw(img, r.Inset(2), &image.Uniform{color.White}, image.Point{}, draw.Src)

		label := fmt.Sprintf("%d", i+1)
		w := font.MeasureString(face, label).Ceil()
		h := face.Metrics().Ascent.Ceil()
		drawer := &font.Drawer{Dst: img, Src: ink, Face: face}
		drawer.Dot = fixed.P(r.Min.X+(r.Dx()-w)/2, r.Min.Y+(r.Dy()+h)/2)
		drawer.DrawString(label)
	}

	if config.Blur > 0 {
		blurred := imaging.Blur(img, config.Blur)
		out := image.NewRGBA(blurred.Bounds())
		draw.Draw(out, out.Bounds(), blurred, blurred.Bounds().Min, draw.Src)
		return out
	}
	return img
}

// SaveImage saves an image to the specified path.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	dir := filepath.Dir(path)
	require.NoError(t, EnsureDir(dir), "Failed to create directory %s", dir)

	file, err := os.Create(path) //nolint:gosec // G304: Test file creation with controlled path
	require.NoError(t, err, "Failed to create file %s", path)
	defer func() {
		require.NoError(t, file.Close())
	}()

	require.NoError(t, png.Encode(file, img), "Failed to encode PNG image")
}

// LoadImage loads an image from the specified path.
func LoadImage(t *testing.T, path string) image.Image {
	t.Helper()

	img, err := LoadImageFile(path)
	require.NoError(t, err)
	return img
}

// CompareImages reports whether two images of equal bounds differ by at most
// tolerance, as a fraction of the largest possible mean pixel distance.
func CompareImages(img1, img2 image.Image, tolerance float64) bool {
	bounds := img1.Bounds()
	if bounds != img2.Bounds() {
		return false
	}

	var totalDiff, pixelCount float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r1, g1, b1, a1 := img1.At(x, y).RGBA()
			r2, g2, b2, a2 := img2.At(x, y).RGBA()

			dr := float64(r1) - float64(r2)
			dg := float64(g1) - float64(g2)
			db := float64(b1) - float64(b2)
			da := float64(a1) - float64(a2)

			totalDiff += math.Sqrt(dr*dr + dg*dg + db*db + da*da)
			pixelCount++
		}
	}
	if pixelCount == 0 {
		return true
	}

	maxDiff := math.Sqrt(4 * 65535 * 65535)
	return (totalDiff/pixelCount)/maxDiff <= tolerance
}

// CreateTestImage creates a simple test image with the specified dimensions and color.
func CreateTestImage(width, height int, backgroundColor color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{backgroundColor}, image.Point{}, draw.Src)
	return img
}

// LoadImageFile loads an image from the specified path (non-testing version).
func LoadImageFile(path string) (image.Image, error) {
	file, err := os.Open(path) //nolint:gosec // G304: Opening user-provided image file is expected
	if err != nil {
		return nil, fmt.Errorf("failed to open image file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	return img, nil
}
