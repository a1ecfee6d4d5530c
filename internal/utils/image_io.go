package utils

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// SupportedImageExtensions lists supported page image extensions.
var SupportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp", ".gif"}

// IsSupportedImage reports whether the path has a supported image extension.
func IsSupportedImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedImageExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// ImageMetadata captures lightweight file and pixel information.
type ImageMetadata struct {
	Path   string
	Format string
	Width  int
	Height int
}

// LoadImage opens and decodes an image file, returning the image and metadata.
func LoadImage(path string) (image.Image, ImageMetadata, error) {
	if path == "" {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "load", Err: errors.New("empty path")}
	}
	if !IsSupportedImage(path) {
		err := &ImageProcessingError{Operation: "load", Err: fmt.Errorf("unsupported format: %s", filepath.Ext(path))}
		return nil, ImageMetadata{}, err
	}

	f, err := os.Open(path) //nolint:gosec // G304: page paths come from the book source
	if err != nil {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "load", Err: err}
	}
	defer func() { _ = f.Close() }()

	img, meta, err := DecodeImage(f)
	if err != nil {
		return nil, ImageMetadata{}, err
	}
	meta.Path = path
	return img, meta, nil
}

// DecodeImage decodes any registered image format from r.
func DecodeImage(r io.Reader) (image.Image, ImageMetadata, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "decode", Err: err}
	}
	b := img.Bounds()
	return img, ImageMetadata{Format: format, Width: b.Dx(), Height: b.Dy()}, nil
}
