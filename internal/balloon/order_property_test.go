package balloon

import (
	"testing"

	"github.com/MeKo-Tech/bubblenav/internal/utils"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genRow generates a single horizontal row of n non-overlapping balloons.
func genRow() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(1, 8),
		gen.Float64Range(0.1, 0.8),
		gen.Float64Range(0.2, 0.9),
	).Map(func(vals []interface{}) []Candidate {
		n, ok := vals[0].(int)
		if !ok {
			panic("expected int")
		}
		top, ok := vals[1].(float64)
		if !ok {
			panic("expected float64")
		}
		fill, ok := vals[2].(float64)
		if !ok {
			panic("expected float64")
		}
		slot := 1.0 / float64(n)
		out := make([]Candidate, n)
		for i := range n {
			left := float64(i) * slot
			out[i] = Candidate{Box: utils.NewBox(left, top, left+slot*fill, top+0.05), Confidence: 0.5}
		}
		// interleave so input order is not already the reading order
		for i, j := 0, n-1; i < j; i, j = i+2, j-2 {
			out[i], out[j] = out[j], out[i]
		}
		return out
	})
}

func TestSortProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("indices are dense and zero-based", prop.ForAll(
		func(row []Candidate, w, h int) bool {
			bs := Sort(row, w, h, LeftToRight)
			if len(bs) != len(row) {
				return false
			}
			for i, b := range bs {
				if b.Index != i {
					return false
				}
			}
			return true
		},
		genRow(), gen.IntRange(200, 4000), gen.IntRange(200, 4000),
	))

	properties.Property("flipping direction reverses a single row", prop.ForAll(
		func(row []Candidate, w, h int) bool {
			ltr := Sort(row, w, h, LeftToRight)
			rtl := Sort(row, w, h, RightToLeft)
			n := len(ltr)
			for i := range ltr {
				if ltr[i].NormalizedRect != rtl[n-1-i].NormalizedRect {
					return false
				}
			}
			return true
		},
		genRow(), gen.IntRange(200, 4000), gen.IntRange(200, 4000),
	))

	properties.TestingRun(t)
}
