package index

import (
	"context"
	"sync"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
)

// MemoryStore keeps indexes in memory. Stored values are copies.
type MemoryStore struct {
	mu      sync.Mutex
	indexes map[string]*balloon.Index
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{indexes: make(map[string]*balloon.Index)}
}

func (s *MemoryStore) Load(ctx context.Context, bookID string) (*balloon.Index, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[bookID]
	if !ok {
		return nil, false, nil
	}
	return idx.Clone(), true, nil
}

func (s *MemoryStore) Save(ctx context.Context, bookID string, idx *balloon.Index) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if idx == nil {
		return errNilIndex
	}
	out := idx.Clone()
	out.BookID = bookID
	s.mu.Lock()
	s.indexes[bookID] = out
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, bookID string) error {
	s.mu.Lock()
	delete(s.indexes, bookID)
	s.mu.Unlock()
	return nil
}
