package balloon

import (
	"testing"

	"github.com/MeKo-Tech/bubblenav/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cand(x1, y1, x2, y2 float64) Candidate {
	return Candidate{Box: utils.NewBox(x1, y1, x2, y2), Confidence: 0.9}
}

// px builds a candidate from reference-page pixel coordinates.
func px(l, t, r, b float64) Candidate {
	return cand(l/ReferenceWidth, t/ReferenceHeight, r/ReferenceWidth, b/ReferenceHeight)
}

func lefts(bs []Balloon) []float64 {
	out := make([]float64, len(bs))
	for i, b := range bs {
		out[i] = b.NormalizedRect.Left
	}
	return out
}

func TestSortTwoBoxesSameRow(t *testing.T) {
	left := cand(0.1, 0.1, 0.2, 0.2)
	right := cand(0.7, 0.1, 0.8, 0.2)
	in := []Candidate{right, left}

	ltr := Sort(in, 1000, 1500, LeftToRight)
	require.Len(t, ltr, 2)
	assert.InDelta(t, 0.1, ltr[0].NormalizedRect.Left, 1e-12)
	assert.InDelta(t, 0.7, ltr[1].NormalizedRect.Left, 1e-12)

	rtl := Sort(in, 1000, 1500, RightToLeft)
	require.Len(t, rtl, 2)
	assert.InDelta(t, 0.7, rtl[0].NormalizedRect.Left, 1e-12)
	assert.InDelta(t, 0.1, rtl[1].NormalizedRect.Left, 1e-12)

	for i := range 2 {
		assert.Equal(t, i, ltr[i].Index)
		assert.Equal(t, i, rtl[i].Index)
	}
}

func TestSortPixelRectMatchesNormalized(t *testing.T) {
	bs := Sort([]Candidate{cand(0.1, 0.2, 0.3, 0.4)}, 1000, 2000, LeftToRight)
	require.Len(t, bs, 1)
	assert.InDelta(t, 100, bs[0].Rect.Left, 1e-9)
	assert.InDelta(t, 400, bs[0].Rect.Top, 1e-9)
	assert.InDelta(t, 300, bs[0].Rect.Right, 1e-9)
	assert.InDelta(t, 800, bs[0].Rect.Bottom, 1e-9)
	assert.InDelta(t, 0.9, bs[0].Confidence, 1e-12)
}

func TestSortClampsNormalizedRect(t *testing.T) {
	bs := Sort([]Candidate{cand(-0.1, 0.5, 1.2, 0.7)}, 100, 100, LeftToRight)
	require.Len(t, bs, 1)
	assert.Equal(t, Rect{Left: 0, Top: 0.5, Right: 1, Bottom: 0.7}, bs[0].NormalizedRect)
}

func TestSortGroupsReadTopToBottom(t *testing.T) {
	lower := px(100, 1500, 400, 1700)
	upper := px(1500, 200, 1800, 400)
	bs := Sort([]Candidate{lower, upper}, int(ReferenceWidth), int(ReferenceHeight), LeftToRight)
	require.Len(t, bs, 2)
	assert.Greater(t, bs[0].NormalizedRect.Left, bs[1].NormalizedRect.Left, "upper group first even though it is on the right")
}

func TestSortBandsWithinGroup(t *testing.T) {
	// neighbours (10px apart); tops 95 and 101 fall into the same 15px band
	a := px(100, 101, 300, 200)
	b := px(310, 95, 500, 190)

	ltr := Sort([]Candidate{b, a}, int(ReferenceWidth), int(ReferenceHeight), LeftToRight)
	assert.InDeltaSlice(t, []float64{100 / ReferenceWidth, 310 / ReferenceWidth}, lefts(ltr), 1e-12)

	rtl := Sort([]Candidate{a, b}, int(ReferenceWidth), int(ReferenceHeight), RightToLeft)
	assert.InDeltaSlice(t, []float64{310 / ReferenceWidth, 100 / ReferenceWidth}, lefts(rtl), 1e-12)
}

func TestSortStackedBalloonsInOneGroup(t *testing.T) {
	// different bands: the higher balloon is read first regardless of direction
	top := px(300, 100, 500, 200)
	below := px(100, 210, 290, 300)
	for _, dir := range []Direction{LeftToRight, RightToLeft} {
		bs := Sort([]Candidate{below, top}, int(ReferenceWidth), int(ReferenceHeight), dir)
		require.Len(t, bs, 2)
		assert.InDelta(t, 300/ReferenceWidth, bs[0].NormalizedRect.Left, 1e-12, dir.String())
	}
}

func TestSortTransitiveGrouping(t *testing.T) {
	// a-b and b-c are neighbours, a-c are not; all three stay together before d
	a := px(100, 100, 300, 200)
	b := px(310, 100, 500, 200)
	c := px(510, 100, 700, 200)
	d := px(1200, 90, 1400, 150)
	bs := Sort([]Candidate{d, c, a, b}, int(ReferenceWidth), int(ReferenceHeight), LeftToRight)
	require.Len(t, bs, 4)
	// d's group has the smaller top, so it comes first
	assert.InDeltaSlice(t,
		[]float64{1200 / ReferenceWidth, 100 / ReferenceWidth, 310 / ReferenceWidth, 510 / ReferenceWidth},
		lefts(bs), 1e-12)
}

func TestScaledThresholds(t *testing.T) {
	th := ScaledThresholds(int(ReferenceWidth), int(ReferenceHeight))
	assert.InDelta(t, 1.0, th.Scale, 1e-12)
	assert.InDelta(t, 20.0, th.Neighbour, 1e-12)
	assert.InDelta(t, 15.0, th.Band, 1e-12)

	half := ScaledThresholds(994, 1528)
	assert.InDelta(t, 10.0, half.Neighbour, 1e-9)
}

func TestSortEmpty(t *testing.T) {
	bs := Sort(nil, 100, 100, LeftToRight)
	assert.NotNil(t, bs)
	assert.Empty(t, bs)
}

func TestSortPage(t *testing.T) {
	p := SortPage(3, []Candidate{cand(0.1, 0.1, 0.2, 0.2)}, 800, 1200, RightToLeft)
	assert.Equal(t, 3, p.PageIndex)
	assert.Equal(t, 800, p.PageWidth)
	assert.Equal(t, 1200, p.PageHeight)
	require.NoError(t, p.Validate())
}
