package book

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"

	"github.com/MeKo-Tech/bubblenav/internal/utils"
)

// DirSource reads pages from image files in one directory, in natural name order.
type DirSource struct {
	id    string
	dir   string
	files []string
}

// OpenDir lists the supported images in dir. Subdirectories are ignored.
func OpenDir(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list book directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !utils.IsSupportedImage(e.Name()) {
			continue
		}
		files = append(files, e.Name())
	}
	if len(files) == 0 {
		return nil, errors.New("book directory contains no page images")
	}
	sort.SliceStable(files, func(i, j int) bool { return NaturalLess(files[i], files[j]) })
	return &DirSource{id: IDFromPath(dir), dir: dir, files: files}, nil
}

func (s *DirSource) ID() string { return s.id }

func (s *DirSource) Pages() []Page {
	out := make([]Page, len(s.files))
	for i, f := range s.files {
		out[i] = Page{Number: i, Name: f}
	}
	return out
}

func (s *DirSource) Load(ctx context.Context, page int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkPage(page, len(s.files)); err != nil {
		return nil, err
	}
	img, _, err := utils.LoadImage(filepath.Join(s.dir, s.files[page]))
	return img, err
}

func (s *DirSource) Close() error { return nil }
