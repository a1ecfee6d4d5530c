package balloon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func page(n, count int) PageBalloons {
	p := PageBalloons{PageIndex: n, PageWidth: 100, PageHeight: 200}
	for i := range count {
		p.Balloons = append(p.Balloons, Balloon{Index: i, Confidence: 0.5})
	}
	return p
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("RTL")
	require.NoError(t, err)
	assert.Equal(t, RightToLeft, d)
	assert.Equal(t, "rtl", d.String())

	d, err = ParseDirection("left-to-right")
	require.NoError(t, err)
	assert.Equal(t, LeftToRight, d)

	_, err = ParseDirection("ttb")
	require.Error(t, err)
}

func TestPageBalloonsValidate(t *testing.T) {
	p := page(0, 3)
	require.NoError(t, p.Validate())
	p.Balloons[1].Index = 5
	require.Error(t, p.Validate())

	_, ok := p.At(3)
	assert.False(t, ok)
	b, ok := p.At(0)
	assert.True(t, ok)
	assert.Equal(t, 0, b.Index)
}

func TestIndexWithPageReplacesAndCopies(t *testing.T) {
	x := NewIndex("book")
	x.Pages[3] = page(3, 5)

	y := x.WithPage(page(3, 0))
	p, ok := y.Page(3)
	require.True(t, ok)
	assert.Empty(t, p.Balloons)

	orig, _ := x.Page(3)
	assert.Len(t, orig.Balloons, 5, "original index is not modified")
	assert.Equal(t, "book", y.BookID)
}

func TestIndexAccessors(t *testing.T) {
	var nilIndex *Index
	assert.Zero(t, nilIndex.Len())
	assert.Nil(t, nilIndex.PageNumbers())
	_, ok := nilIndex.Page(0)
	assert.False(t, ok)

	x := nilIndex.WithPage(page(2, 1)).WithPage(page(0, 2))
	assert.Equal(t, []int{0, 2}, x.PageNumbers())
	assert.Equal(t, 3, x.BalloonCount())

	c := x.Clone()
	c.Pages[0].Balloons[0].Confidence = 1
	assert.InDelta(t, 0.5, x.Pages[0].Balloons[0].Confidence, 1e-12)
}

func TestRect(t *testing.T) {
	r := Rect{Left: 1, Top: 2, Right: 4, Bottom: 6}
	assert.InDelta(t, 3, r.Width(), 1e-12)
	assert.InDelta(t, 4, r.Height(), 1e-12)
	assert.True(t, r.Contains(1, 6))
	assert.False(t, r.Contains(0, 3))
	assert.Equal(t, Rect{Left: 2, Top: 6, Right: 8, Bottom: 18}, r.Scale(2, 3))
}
