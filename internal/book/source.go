// Package book provides page images for comic books stored as image
// directories, CBZ archives or PDF files.
package book

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
	"github.com/MeKo-Tech/bubblenav/internal/utils"
	"github.com/disintegration/imaging"
)

// ErrPageNotFound is returned for page numbers outside the book.
var ErrPageNotFound = errors.New("page not found")

// Page identifies one page. Numbers are zero-based and dense.
type Page struct {
	Number int    `json:"number"`
	Name   string `json:"name"`
}

// Source yields the pages of one book.
type Source interface {
	ID() string
	Pages() []Page
	Load(ctx context.Context, page int) (image.Image, error)
	Close() error
}

// Open picks a source implementation from the path: directories are image
// folders, .cbz/.zip files are archives and .pdf files are PDFs.
func Open(path string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open book: %w", err)
	}
	if info.IsDir() {
		return OpenDir(path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cbz", ".zip":
		return OpenCBZ(path)
	case ".pdf":
		return OpenPDF(path)
	}
	return nil, fmt.Errorf("unsupported book format: %s", filepath.Ext(path))
}

// IDFromPath derives a book ID from its file or directory name.
func IDFromPath(path string) string {
	base := filepath.Base(filepath.Clean(path))
	if ext := filepath.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

func checkPage(page, count int) error {
	if page < 0 || page >= count {
		return fmt.Errorf("%w: %d (book has %d pages)", ErrPageNotFound, page, count)
	}
	return nil
}

// Crop loads a page and returns the part covered by r (in page pixels) grown by
// pad pixels on each side and clipped to the page.
func Crop(ctx context.Context, src Source, page int, r balloon.Rect, pad int) (image.Image, error) {
	img, err := src.Load(ctx, page)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	rect := image.Rect(
		int(r.Left)-pad+b.Min.X, int(r.Top)-pad+b.Min.Y,
		int(r.Right+0.5)+pad+b.Min.X, int(r.Bottom+0.5)+pad+b.Min.Y,
	).Intersect(b)
	if rect.Empty() {
		return nil, &utils.ImageProcessingError{Operation: "crop", Err: fmt.Errorf("rectangle %v outside page %d", r, page)}
	}
	return imaging.Crop(img, rect), nil
}
