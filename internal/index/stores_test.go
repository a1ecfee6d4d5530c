package index

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Store

func newTestFileStore(t *testing.T) Store {
	t.Helper()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "indexes"))
	require.NoError(t, err)
	return s
}

func newTestSQLiteStore(t *testing.T) Store {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var factories = map[string]storeFactory{
	"file":   newTestFileStore,
	"sqlite": newTestSQLiteStore,
	"memory": func(*testing.T) Store { return NewMemoryStore() },
}

func TestStoreRoundTrip(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			idx := sampleIndex()

			require.NoError(t, s.Save(ctx, "book-1", idx))
			got, ok, err := s.Load(ctx, "book-1")
			require.NoError(t, err)
			require.True(t, ok)
			if diff := cmp.Diff(idx, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStoreAbsent(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			got, ok, err := factory(t).Load(context.Background(), "missing")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Nil(t, got)
		})
	}
}

func TestStoreMergeThenSaveReplaces(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			require.NoError(t, s.Save(ctx, "book-1", sampleIndex()))

			loaded, ok, err := s.Load(ctx, "book-1")
			require.NoError(t, err)
			require.True(t, ok)
			require.NoError(t, s.Save(ctx, "book-1", Merge(loaded, 0, samplePage(0, 1))))

			got, ok, err := s.Load(ctx, "book-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 3, got.Len(), "merge never appends a second record for a page")
			p, _ := got.Page(0)
			assert.Len(t, p.Balloons, 1)
		})
	}
}

func TestStoreClear(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			require.NoError(t, s.Save(ctx, "book-1", sampleIndex()))
			require.NoError(t, s.Save(ctx, "book-2", sampleIndex()))
			require.NoError(t, s.Clear(ctx, "book-1"))
			require.NoError(t, s.Clear(ctx, "book-1"), "clearing twice is fine")

			_, ok, err := s.Load(ctx, "book-1")
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok, err = s.Load(ctx, "book-2")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestStoreRejectsNilIndex(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, factory(t).Save(context.Background(), "b", nil))
		})
	}
}

func TestFileStoreCorruptIsAbsent(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	path, err := s.Path("book")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(`{"book_id":"book","version":1,"pages":[`), 0o600))

	got, ok, err := s.Load(ctx, "book")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "Astérix", sampleIndex()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	key, err := BookKey("Astérix")
	require.NoError(t, err)
	assert.Equal(t, key+".json", entries[0].Name())
	assert.True(t, strings.HasPrefix(entries[0].Name(), "Asterix-"))
}

func TestStoreKeepsSimilarBookIDsApart(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			vol := balloon.NewIndex("Vol 1")
			vol.Pages[0] = samplePage(0, 1)
			folder := balloon.NewIndex("Vol_1")
			folder.Pages[0] = samplePage(0, 4)

			require.NoError(t, s.Save(ctx, "Vol 1", vol))
			_, ok, err := s.Load(ctx, "Vol_1")
			require.NoError(t, err)
			assert.False(t, ok, "a book never sees another book's index")

			require.NoError(t, s.Save(ctx, "Vol_1", folder))
			got, ok, err := s.Load(ctx, "Vol 1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "Vol 1", got.BookID)
			p, _ := got.Page(0)
			assert.Len(t, p.Balloons, 1, "saving the other book left this one intact")
		})
	}
}

func TestFileStoreIgnoresIndexOfAnotherBook(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	other := balloon.NewIndex("Vol_1")
	other.Pages[0] = samplePage(0, 2)
	data, err := Encode(other)
	require.NoError(t, err)
	path, err := s.Path("Vol 1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	got, ok, err := s.Load(ctx, "Vol 1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestStoreEmptyRefreshClearsPage(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			idx := balloon.NewIndex("book-1")
			idx.Pages[3] = samplePage(3, 5)
			require.NoError(t, s.Save(ctx, "book-1", idx))

			loaded, ok, err := s.Load(ctx, "book-1")
			require.NoError(t, err)
			require.True(t, ok)
			merged := Merge(loaded, 3, balloon.PageBalloons{PageWidth: 1988, PageHeight: 3056})
			p, _ := merged.Page(3)
			assert.Equal(t, 0, p.Len())
			require.NoError(t, s.Save(ctx, "book-1", merged))

			got, ok, err := s.Load(ctx, "book-1")
			require.NoError(t, err)
			require.True(t, ok)
			p, ok = got.Page(3)
			require.True(t, ok, "the page entry stays, with no balloons")
			assert.Equal(t, 0, p.Len())
			assert.Equal(t, 0, got.BalloonCount())
		})
	}
}

func TestFileStoreSavesUnderCallerID(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	idx := sampleIndex()
	idx.BookID = "something-else"
	require.NoError(t, s.Save(ctx, "book-9", idx))

	got, ok, err := s.Load(ctx, "book-9")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "book-9", got.BookID)
	assert.Equal(t, "something-else", idx.BookID, "caller's index untouched")
}

func TestFileStorePrune(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "old", sampleIndex()))
	require.NoError(t, s.Save(ctx, "fresh", sampleIndex()))

	oldPath, err := s.Path("old")
	require.NoError(t, err)
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	r := Retention{MaxAge: 24 * time.Hour}
	removed, err := r.Apply(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, removed)

	_, ok, err := s.Load(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteStorePrune(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	require.NoError(t, s.Save(ctx, "old", sampleIndex()))
	s.now = func() time.Time { return base.Add(72 * time.Hour) }
	require.NoError(t, s.Save(ctx, "fresh", sampleIndex()))

	r := Retention{MaxAge: 24 * time.Hour, Now: func() time.Time { return base.Add(73 * time.Hour) }}
	removed, err := r.Apply(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, removed)
}

func TestSQLiteStoreLoadTouchesBook(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	require.NoError(t, s.Save(ctx, "book", sampleIndex()))
	s.now = func() time.Time { return base.Add(48 * time.Hour) }
	_, ok, err := s.Load(ctx, "book")
	require.NoError(t, err)
	require.True(t, ok)

	removed, err := s.Prune(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, removed, "a recent open keeps the book")
}

func TestSQLiteStoreCorruptRowIsAbsent(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Save(ctx, "book", sampleIndex()))
	_, err = s.db.ExecContext(ctx, `UPDATE pages SET balloons = '{broken' WHERE page_number = 7`)
	require.NoError(t, err)

	got, ok, err := s.Load(ctx, "book")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestSQLiteStoreMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)

	version, dirty, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
	require.NoError(t, s.MigrateUp(), "re-running is a no-op")
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	version, _, err = reopened.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestRetentionDisabled(t *testing.T) {
	removed, err := Retention{}.Apply(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, removed)
}

var _ Store = (*FileStore)(nil)
var _ Store = (*SQLiteStore)(nil)
var _ Store = (*MemoryStore)(nil)
var _ Pruner = (*FileStore)(nil)
var _ Pruner = (*SQLiteStore)(nil)

func TestIndexHelpersOnLoaded(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)
	require.NoError(t, s.Save(ctx, "book-1", sampleIndex()))
	got, _, err := s.Load(ctx, "book-1")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 7}, got.PageNumbers())
	assert.Equal(t, 4, got.BalloonCount())
	_, ok := got.Page(3)
	assert.False(t, ok)
	var empty *balloon.Index
	assert.Equal(t, 0, empty.Len())
}
