package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
)

const indexExt = ".json"

// FileStore keeps one JSON file per book in a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("index directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// Dir returns the storage directory.
func (s *FileStore) Dir() string { return s.dir }

// Path returns the file used for a book.
func (s *FileStore) Path(bookID string) (string, error) {
	key, err := BookKey(bookID)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, key+indexExt), nil
}

// Load reads a book's index. Missing, unreadable and corrupt files are absent.
// A successful load marks the book as opened for retention.
func (s *FileStore) Load(ctx context.Context, bookID string) (*balloon.Index, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	path, err := s.Path(bookID)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is built from a sanitized id
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Failed to read index", "book", bookID, "path", path, "error", err)
		}
		return nil, false, nil
	}
	idx, err := Decode(data)
	if err != nil {
		slog.Warn("Ignoring corrupt index", "book", bookID, "path", path, "error", err)
		return nil, false, nil
	}
	switch idx.BookID {
	case "":
		idx.BookID = bookID
	case bookID:
	default:
		slog.Warn("Ignoring index stored for another book", "book", bookID, "stored_book", idx.BookID, "path", path)
		return nil, false, nil
	}
	now := s.now()
	if err := os.Chtimes(path, now, now); err != nil {
		slog.Debug("Failed to touch index", "path", path, "error", err)
	}
	return idx, true, nil
}

// Save writes the index atomically through a temporary file in the same directory.
func (s *FileStore) Save(ctx context.Context, bookID string, idx *balloon.Index) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if idx == nil {
		return errNilIndex
	}
	path, err := s.Path(bookID)
	if err != nil {
		return err
	}
	out := idx.Clone()
	out.BookID = bookID
	data, err := Encode(out)
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".index-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close index: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace index: %w", err)
	}
	tmpName = ""
	slog.Debug("Saved index", "book", bookID, "path", path, "pages", out.Len())
	return nil
}

// Clear removes a book's index. Clearing an absent index is not an error.
func (s *FileStore) Clear(ctx context.Context, bookID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.Path(bookID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove index: %w", err)
	}
	return nil
}

// Prune removes indexes last opened or saved before cutoff and returns their
// book IDs. Files whose book ID cannot be read are reported by key.
func (s *FileStore) Prune(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list index directory: %w", err)
	}
	var removed []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return sortedIDs(removed), err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), indexExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		id := storedBookID(path, strings.TrimSuffix(e.Name(), indexExt))
		if err := os.Remove(path); err != nil {
			slog.Warn("Failed to prune index", "file", e.Name(), "error", err)
			continue
		}
		removed = append(removed, id)
	}
	return sortedIDs(removed), nil
}

// storedBookID reads the book ID recorded in an index file, or returns fallback.
func storedBookID(path, fallback string) string {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the store directory listing
	if err != nil {
		return fallback
	}
	idx, err := Decode(data)
	if err != nil || idx.BookID == "" {
		return fallback
	}
	return idx.BookID
}
