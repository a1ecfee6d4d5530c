package index

import (
	"errors"
	"strings"
	"testing"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePage(page, n int) balloon.PageBalloons {
	p := balloon.PageBalloons{PageIndex: page, PageWidth: 1988, PageHeight: 3056, Balloons: []balloon.Balloon{}}
	for i := range n {
		norm := balloon.Rect{Left: 0.1 * float64(i), Top: 0.2, Right: 0.1*float64(i) + 0.05, Bottom: 0.3}
		p.Balloons = append(p.Balloons, balloon.Balloon{
			Index:          i,
			Rect:           norm.Scale(1988, 3056),
			NormalizedRect: norm,
			Confidence:     0.5 + 0.1*float64(i),
		})
	}
	return p
}

func sampleIndex() *balloon.Index {
	idx := balloon.NewIndex("book-1")
	idx.Pages[0] = samplePage(0, 3)
	idx.Pages[1] = samplePage(1, 0)
	idx.Pages[7] = samplePage(7, 1)
	return idx
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	idx := sampleIndex()
	data, err := Encode(idx)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	if diff := cmp.Diff(idx, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeWireFormat(t *testing.T) {
	idx := balloon.NewIndex("b")
	idx.Pages[2] = samplePage(2, 1)
	idx.Pages[0] = balloon.PageBalloons{PageIndex: 0, PageWidth: 10, PageHeight: 20}

	data, err := Encode(idx)
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, `"book_id": "b"`)
	assert.Contains(t, s, `"version": 1`)
	assert.Contains(t, s, `"page_number": 2`)
	assert.Contains(t, s, `"normalized_rect"`)
	assert.Contains(t, s, `"balloons": []`, "empty pages are written as an empty list")
	assert.Less(t, indexOf(s, `"page_number": 0`), indexOf(s, `"page_number": 2`))
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestDecodeRejects(t *testing.T) {
	tests := map[string]string{
		"garbage":        `{not json`,
		"wrong version":  `{"book_id":"b","version":2,"pages":[]}`,
		"duplicate page": `{"book_id":"b","version":1,"pages":[{"page_number":1,"balloons":[]},{"page_number":1,"balloons":[]}]}`,
		"sparse indices": `{"book_id":"b","version":1,"pages":[{"page_number":1,"balloons":[{"index":1}]}]}`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestMergeReplacesPage(t *testing.T) {
	idx := sampleIndex()
	before := idx.Clone()

	merged := Merge(idx, 0, samplePage(99, 1))
	require.Len(t, merged.Pages, 3)
	assert.Len(t, merged.Pages[0].Balloons, 1)
	assert.Equal(t, 0, merged.Pages[0].PageIndex, "page number comes from the merge key")

	if diff := cmp.Diff(before, idx); diff != "" {
		t.Errorf("existing index was mutated:\n%s", diff)
	}
}

func TestMergeIntoNil(t *testing.T) {
	merged := Merge(nil, 4, samplePage(4, 2))
	require.NotNil(t, merged)
	assert.Equal(t, []int{4}, merged.PageNumbers())
}

func TestMergeEmptyResultIntoFullPage(t *testing.T) {
	idx := balloon.NewIndex("b")
	idx.Pages[4] = samplePage(4, 5)

	merged := Merge(idx, 4, balloon.PageBalloons{})
	p, ok := merged.Page(4)
	require.True(t, ok)
	assert.Equal(t, 0, p.Len())
	orig, _ := idx.Page(4)
	assert.Equal(t, 5, orig.Len())
}

func TestBookKey(t *testing.T) {
	a, err := BookKey("Vol 1")
	require.NoError(t, err)
	b, err := BookKey("Vol_1")
	require.NoError(t, err)
	again, err := BookKey("Vol 1")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, again)
	assert.True(t, strings.HasPrefix(a, "Vol_1-"))
	_, err = BookKey("!?")
	assert.ErrorIs(t, err, ErrInvalidBookID)
}

func TestSanitizeBookID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"simple", "simple"},
		{"Astérix & Obélix", "Asterix_Obelix"},
		{"../../etc/passwd", "etc_passwd"},
		{"vol.1 (2020)", "vol.1_2020"},
		{"  spaced  out  ", "spaced_out"},
		{"ﬁle", "file"},
		{"漫画 第1巻", "漫画_第1巻"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SanitizeBookID(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "///", "..", "!?"} {
		_, err := SanitizeBookID(bad)
		assert.True(t, errors.Is(err, ErrInvalidBookID), bad)
	}
}
