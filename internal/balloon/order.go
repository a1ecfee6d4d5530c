package balloon

import (
	"math"
	"sort"

	"github.com/MeKo-Tech/bubblenav/internal/utils"
)

// Reference page size the pixel thresholds below are tuned for.
const (
	ReferenceWidth  = 1988.0
	ReferenceHeight = 3056.0
)

// Ordering thresholds in reference-page pixels. PanelMinDiff and GroupMinDiff belong
// to panel-aware grouping, which is not applied: panel detections are not consumed.
const (
	PanelMinDiff           = 40.0
	GroupMinDiff           = 30.0
	ObjectNeighbourMinDiff = 20.0
	ObjectMinDiff          = 15.0
)

// Candidate is a suppressed speech-balloon detection with a normalized box.
type Candidate struct {
	Box        utils.Box
	Confidence float64
}

// Thresholds are the ordering thresholds scaled to a concrete page.
type Thresholds struct {
	Scale     float64
	Panel     float64
	Group     float64
	Neighbour float64
	Band      float64
}

// ScaledThresholds averages the horizontal and vertical scale against the reference page.
func ScaledThresholds(pageW, pageH int) Thresholds {
	s := (float64(pageW)/ReferenceWidth + float64(pageH)/ReferenceHeight) / 2
	return Thresholds{
		Scale:     s,
		Panel:     PanelMinDiff * s,
		Group:     GroupMinDiff * s,
		Neighbour: ObjectNeighbourMinDiff * s,
		Band:      ObjectMinDiff * s,
	}
}

type item struct {
	rect       Rect
	norm       Rect
	confidence float64
}

// Sort orders balloon candidates for reading and assigns dense indices.
// Neighbouring balloons (both gaps within the scaled neighbour threshold) are grouped
// transitively; groups are read top to bottom, and within a group balloons are read
// by banded top edge, then horizontally in the reading direction.
func Sort(candidates []Candidate, pageW, pageH int, dir Direction) []Balloon {
	if len(candidates) == 0 {
		return []Balloon{}
	}
	th := ScaledThresholds(pageW, pageH)

	items := make([]item, len(candidates))
	for i, c := range candidates {
		n := c.Box.Clamp01()
		norm := Rect{Left: n.MinX, Top: n.MinY, Right: n.MaxX, Bottom: n.MaxY}
		items[i] = item{
			rect:       norm.Scale(float64(pageW), float64(pageH)),
			norm:       norm,
			confidence: c.Confidence,
		}
	}

	groups := groupNeighbours(items, th.Neighbour)
	sortGroups(groups, items, dir)

	out := make([]Balloon, 0, len(items))
	for _, g := range groups {
		sortWithinGroup(g, items, th.Band, dir)
		for _, idx := range g {
			it := items[idx]
			out = append(out, Balloon{
				Index:          len(out),
				Rect:           it.rect,
				NormalizedRect: it.norm,
				Confidence:     it.confidence,
			})
		}
	}
	return out
}

// SortPage wraps Sort into a PageBalloons value.
func SortPage(pageIndex int, candidates []Candidate, pageW, pageH int, dir Direction) PageBalloons {
	return PageBalloons{
		PageIndex:  pageIndex,
		Balloons:   Sort(candidates, pageW, pageH, dir),
		PageWidth:  pageW,
		PageHeight: pageH,
	}
}

func gap(aMin, aMax, bMin, bMax float64) float64 {
	return math.Max(0, math.Max(aMin, bMin)-math.Min(aMax, bMax))
}

func neighbours(a, b Rect, threshold float64) bool {
	return gap(a.Left, a.Right, b.Left, b.Right) <= threshold &&
		gap(a.Top, a.Bottom, b.Top, b.Bottom) <= threshold
}

// groupNeighbours returns connected components of the neighbour relation, found by
// breadth-first expansion from each unassigned item in input order.
func groupNeighbours(items []item, threshold float64) [][]int {
	assigned := make([]bool, len(items))
	var groups [][]int
	for start := range items {
		if assigned[start] {
			continue
		}
		assigned[start] = true
		group := []int{start}
		for q := 0; q < len(group); q++ {
			cur := group[q]
			for j := range items {
				if !assigned[j] && neighbours(items[cur].rect, items[j].rect, threshold) {
					assigned[j] = true
					group = append(group, j)
				}
			}
		}
		groups = append(groups, group)
	}
	return groups
}

type groupBounds struct {
	top   float64
	left  float64
	right float64
}

func boundsOf(g []int, items []item) groupBounds {
	b := groupBounds{top: math.Inf(1), left: math.Inf(1), right: math.Inf(-1)}
	for _, i := range g {
		r := items[i].rect
		b.top = math.Min(b.top, r.Top)
		b.left = math.Min(b.left, r.Left)
		b.right = math.Max(b.right, r.Right)
	}
	return b
}

func sortGroups(groups [][]int, items []item, dir Direction) {
	bounds := make([]groupBounds, len(groups))
	for i, g := range groups {
		bounds[i] = boundsOf(g, items)
	}
	order := make([]int, len(groups))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := bounds[order[i]], bounds[order[j]]
		if a.top != b.top {
			return a.top < b.top
		}
		if dir == RightToLeft {
			return a.right > b.right
		}
		return a.left < b.left
	})
	sorted := make([][]int, len(groups))
	for i, o := range order {
		sorted[i] = groups[o]
	}
	copy(groups, sorted)
}

func band(top, height float64) float64 {
	if height <= 0 {
		return top
	}
	return math.Floor(top/height) * height
}

func sortWithinGroup(g []int, items []item, bandHeight float64, dir Direction) {
	sort.SliceStable(g, func(i, j int) bool {
		a, b := items[g[i]].rect, items[g[j]].rect
		ba, bb := band(a.Top, bandHeight), band(b.Top, bandHeight)
		if ba != bb {
			return ba < bb
		}
		if dir == RightToLeft {
			return a.Right > b.Right
		}
		return a.Left < b.Left
	})
}
