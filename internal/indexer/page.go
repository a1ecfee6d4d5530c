package indexer

import (
	"github.com/MeKo-Tech/bubblenav/internal/balloon"
	"github.com/MeKo-Tech/bubblenav/internal/detector"
)

// PageFromDetection orders a page's suppressed balloon detections. Panels are
// not used for ordering.
func PageFromDetection(page int, d detector.PageDetection, pageW, pageH int, dir balloon.Direction) balloon.PageBalloons {
	candidates := make([]balloon.Candidate, 0, len(d.Balloons))
	for _, obj := range d.Balloons {
		candidates = append(candidates, balloon.Candidate{Box: obj.Box, Confidence: obj.Confidence})
	}
	return balloon.SortPage(page, candidates, pageW, pageH, dir)
}
