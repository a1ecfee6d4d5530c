package balloon

import (
	"fmt"
	"sort"
	"strings"
)

// Rect is an axis-aligned rectangle, in pixels or normalized to [0,1] depending on the field.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Width returns Right-Left.
func (r Rect) Width() float64 { return r.Right - r.Left }

// Height returns Bottom-Top.
func (r Rect) Height() float64 { return r.Bottom - r.Top }

// Contains reports whether the point lies inside the rectangle (edges inclusive).
func (r Rect) Contains(x, y float64) bool {
	return x >= r.Left && x <= r.Right && y >= r.Top && y <= r.Bottom
}

// Scale multiplies x coordinates by sx and y coordinates by sy.
func (r Rect) Scale(sx, sy float64) Rect {
	return Rect{Left: r.Left * sx, Top: r.Top * sy, Right: r.Right * sx, Bottom: r.Bottom * sy}
}

// Balloon is one speech balloon in reading order. Index is its position in the page's sequence.
type Balloon struct {
	Index          int     `json:"index"`
	Rect           Rect    `json:"rect"`
	NormalizedRect Rect    `json:"normalized_rect"`
	Confidence     float64 `json:"confidence"`
}

// PageBalloons is the ordered balloon list for one page. Later detection passes
// replace the value rather than modifying it.
type PageBalloons struct {
	PageIndex  int       `json:"page_number"`
	Balloons   []Balloon `json:"balloons"`
	PageWidth  int       `json:"page_width"`
	PageHeight int       `json:"page_height"`
}

// Len returns the number of balloons.
func (p PageBalloons) Len() int { return len(p.Balloons) }

// At returns balloon i.
func (p PageBalloons) At(i int) (Balloon, bool) {
	if i < 0 || i >= len(p.Balloons) {
		return Balloon{}, false
	}
	return p.Balloons[i], true
}

// Validate checks that indices are dense and zero-based.
func (p PageBalloons) Validate() error {
	for i, b := range p.Balloons {
		if b.Index != i {
			return fmt.Errorf("page %d: balloon at position %d has index %d", p.PageIndex, i, b.Index)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (p PageBalloons) Clone() PageBalloons {
	out := p
	if p.Balloons != nil {
		out.Balloons = make([]Balloon, len(p.Balloons))
		copy(out.Balloons, p.Balloons)
	}
	return out
}

// Direction is the reading direction of a book.
type Direction int

const (
	LeftToRight Direction = iota
	RightToLeft
)

func (d Direction) String() string {
	if d == RightToLeft {
		return "rtl"
	}
	return "ltr"
}

// ParseDirection parses "ltr" or "rtl" (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ltr", "left-to-right":
		return LeftToRight, nil
	case "rtl", "right-to-left":
		return RightToLeft, nil
	}
	return LeftToRight, fmt.Errorf("unknown reading direction %q (want ltr or rtl)", s)
}

// Index is the page-keyed balloon table for one book. Values are treated as
// immutable; WithPage returns a modified copy.
type Index struct {
	BookID string
	Pages  map[int]PageBalloons
}

// NewIndex creates an empty index.
func NewIndex(bookID string) *Index {
	return &Index{BookID: bookID, Pages: make(map[int]PageBalloons)}
}

// Page returns the entry for a page number.
func (x *Index) Page(n int) (PageBalloons, bool) {
	if x == nil {
		return PageBalloons{}, false
	}
	p, ok := x.Pages[n]
	return p, ok
}

// PageNumbers returns the indexed page numbers in ascending order.
func (x *Index) PageNumbers() []int {
	if x == nil {
		return nil
	}
	out := make([]int, 0, len(x.Pages))
	for n := range x.Pages {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Len returns the number of indexed pages.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.Pages)
}

// BalloonCount returns the total number of balloons across pages.
func (x *Index) BalloonCount() int {
	if x == nil {
		return 0
	}
	n := 0
	for _, p := range x.Pages {
		n += len(p.Balloons)
	}
	return n
}

// Clone returns a deep copy.
func (x *Index) Clone() *Index {
	if x == nil {
		return nil
	}
	out := &Index{BookID: x.BookID, Pages: make(map[int]PageBalloons, len(x.Pages))}
	for n, p := range x.Pages {
		out.Pages[n] = p.Clone()
	}
	return out
}

// WithPage returns a copy of the index whose entry for p.PageIndex is replaced by p.
func (x *Index) WithPage(p PageBalloons) *Index {
	var out *Index
	if x == nil {
		out = NewIndex("")
	} else {
		out = &Index{BookID: x.BookID, Pages: make(map[int]PageBalloons, len(x.Pages)+1)}
		for n, v := range x.Pages {
			out.Pages[n] = v
		}
	}
	out.Pages[p.PageIndex] = p.Clone()
	return out
}
