package book

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"image"
	"path"
	"sort"
	"strings"

	"github.com/MeKo-Tech/bubblenav/internal/utils"
)

// CBZSource reads pages from a zip archive. Image entries in any folder are
// pages, ordered naturally by their full path.
type CBZSource struct {
	id      string
	archive *zip.ReadCloser
	entries []*zip.File
}

// OpenCBZ opens the archive and indexes its image entries.
func OpenCBZ(file string) (*CBZSource, error) {
	rc, err := zip.OpenReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	var entries []*zip.File
	for _, f := range rc.File {
		if f.FileInfo().IsDir() || isHiddenEntry(f.Name) || !utils.IsSupportedImage(f.Name) {
			continue
		}
		entries = append(entries, f)
	}
	if len(entries) == 0 {
		_ = rc.Close()
		return nil, errors.New("archive contains no page images")
	}
	sort.SliceStable(entries, func(i, j int) bool { return NaturalLess(entries[i].Name, entries[j].Name) })
	return &CBZSource{id: IDFromPath(file), archive: rc, entries: entries}, nil
}

// isHiddenEntry skips dotfiles and macOS resource forks.
func isHiddenEntry(name string) bool {
	if strings.HasPrefix(name, "__MACOSX/") {
		return true
	}
	return strings.HasPrefix(path.Base(name), ".")
}

func (s *CBZSource) ID() string { return s.id }

func (s *CBZSource) Pages() []Page {
	out := make([]Page, len(s.entries))
	for i, f := range s.entries {
		out[i] = Page{Number: i, Name: f.Name}
	}
	return out
}

func (s *CBZSource) Load(ctx context.Context, page int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkPage(page, len(s.entries)); err != nil {
		return nil, err
	}
	r, err := s.entries[page].Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open page %d: %w", page, err)
	}
	defer func() { _ = r.Close() }()
	img, _, err := utils.DecodeImage(r)
	return img, err
}

func (s *CBZSource) Close() error { return s.archive.Close() }
