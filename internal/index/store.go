// Package index persists per-book balloon indexes.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FormatVersion is the version written to persisted indexes.
const FormatVersion = 1

// ErrInvalidBookID is returned for book IDs that sanitize to nothing.
var ErrInvalidBookID = errors.New("invalid book id")

var errNilIndex = errors.New("nil index")

// Store loads and saves book indexes. A missing or unreadable index is reported
// as absent (ok == false) with a nil error.
type Store interface {
	Load(ctx context.Context, bookID string) (*balloon.Index, bool, error)
	Save(ctx context.Context, bookID string, idx *balloon.Index) error
	Clear(ctx context.Context, bookID string) error
}

// Merge returns a new index with the entry for pageNumber replaced by page.
// existing is not modified; a nil existing starts an empty index.
func Merge(existing *balloon.Index, pageNumber int, page balloon.PageBalloons) *balloon.Index {
	page.PageIndex = pageNumber
	return existing.WithPage(page)
}

type wireIndex struct {
	BookID  string                 `json:"book_id"`
	Version int                    `json:"version"`
	Pages   []balloon.PageBalloons `json:"pages"`
}

// Encode serializes an index in the persisted JSON format. Pages are written in
// ascending page order.
func Encode(idx *balloon.Index) ([]byte, error) {
	if idx == nil {
		return nil, errNilIndex
	}
	w := wireIndex{BookID: idx.BookID, Version: FormatVersion, Pages: make([]balloon.PageBalloons, 0, len(idx.Pages))}
	for _, n := range idx.PageNumbers() {
		p := idx.Pages[n]
		if p.Balloons == nil {
			p.Balloons = []balloon.Balloon{}
		}
		w.Pages = append(w.Pages, p)
	}
	return json.MarshalIndent(w, "", "  ")
}

// Decode parses the persisted JSON format.
func Decode(data []byte) (*balloon.Index, error) {
	var w wireIndex
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to parse index: %w", err)
	}
	if w.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported index version %d", w.Version)
	}
	idx := balloon.NewIndex(w.BookID)
	for _, p := range w.Pages {
		if _, dup := idx.Pages[p.PageIndex]; dup {
			return nil, fmt.Errorf("duplicate entry for page %d", p.PageIndex)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if p.Balloons == nil {
			p.Balloons = []balloon.Balloon{}
		}
		idx.Pages[p.PageIndex] = p
	}
	return idx, nil
}

// SanitizeBookID maps a book ID to a filesystem-safe key: accents are stripped,
// letters and digits kept, and every other run of characters becomes a single '_'.
func SanitizeBookID(bookID string) (string, error) {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, bookID)
	if err != nil {
		return "", fmt.Errorf("failed to normalize book id: %w", err)
	}

	var b strings.Builder
	pendingSep := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.' {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidBookID, bookID)
	}
	return out, nil
}

// BookKey maps a book ID to a storage key that is unique per raw ID: the
// sanitized ID followed by a hash of the unsanitized one. "Vol 1" and "Vol_1"
// sanitize alike but get different keys.
func BookKey(bookID string) (string, error) {
	name, err := SanitizeBookID(bookID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%016x", name, xxhash.Sum64String(bookID)), nil
}

// sortedIDs returns ids in ascending order.
func sortedIDs(ids []string) []string {
	sort.Strings(ids)
	return ids
}
