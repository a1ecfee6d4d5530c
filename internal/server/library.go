package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MeKo-Tech/bubblenav/internal/book"
)

// ErrUnknownBook is returned for book IDs the library cannot resolve.
var ErrUnknownBook = errors.New("unknown book")

// BookInfo describes one book in the library.
type BookInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Format string `json:"format"`
}

// Library resolves book IDs to page sources.
type Library interface {
	List() ([]BookInfo, error)
	Open(id string) (book.Source, error)
}

// DirLibrary serves the image folders, CBZ archives and PDFs directly inside root.
type DirLibrary struct {
	root string
}

// NewDirLibrary creates a library over root.
func NewDirLibrary(root string) (*DirLibrary, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open library: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("library path is not a directory: %s", root)
	}
	return &DirLibrary{root: root}, nil
}

// List returns the books under root sorted by ID.
func (l *DirLibrary) List() ([]BookInfo, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list library: %w", err)
	}
	var out []BookInfo
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		format := bookFormat(e)
		if format == "" {
			continue
		}
		out = append(out, BookInfo{ID: book.IDFromPath(e.Name()), Name: e.Name(), Format: format})
	}
	sort.Slice(out, func(i, j int) bool { return book.NaturalLess(out[i].ID, out[j].ID) })
	return out, nil
}

// Open resolves id against the library listing, so paths outside root are never opened.
func (l *DirLibrary) Open(id string) (book.Source, error) {
	books, err := l.List()
	if err != nil {
		return nil, err
	}
	for _, b := range books {
		if b.ID == id {
			return book.Open(filepath.Join(l.root, b.Name))
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownBook, id)
}

func bookFormat(e os.DirEntry) string {
	if e.IsDir() {
		return "dir"
	}
	switch strings.ToLower(filepath.Ext(e.Name())) {
	case ".cbz", ".zip":
		return "cbz"
	case ".pdf":
		return "pdf"
	}
	return ""
}
