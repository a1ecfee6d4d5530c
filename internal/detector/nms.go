package detector

import (
	"math"
	"sort"

	"github.com/MeKo-Tech/bubblenav/internal/utils"
)

// IoU computes intersection over union between two boxes. It is 0 when the union is empty.
func IoU(a, b utils.Box) float64 {
	x1 := math.Max(a.MinX, b.MinX)
	y1 := math.Max(a.MinY, b.MinY)
	x2 := math.Min(a.MaxX, b.MaxX)
	y2 := math.Min(a.MaxY, b.MaxY)
	iw := x2 - x1
	ih := y2 - y1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// NonMaxSuppression performs greedy NMS independently per class. Within a class the
// highest-confidence box is kept and every remaining box whose IoU with it exceeds
// iouThreshold is discarded. Output is grouped by ascending class id, each group in
// descending confidence order.
func NonMaxSuppression(objects []DetectedObject, iouThreshold float64) []DetectedObject {
	if len(objects) <= 1 {
		return objects
	}

	byClass := make(map[ClassID][]DetectedObject)
	classes := make([]ClassID, 0, 2)
	for _, o := range objects {
		if _, ok := byClass[o.Class]; !ok {
			classes = append(classes, o.Class)
		}
		byClass[o.Class] = append(byClass[o.Class], o)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })

	kept := make([]DetectedObject, 0, len(objects))
	for _, c := range classes {
		kept = append(kept, suppressClass(byClass[c], iouThreshold)...)
	}
	return kept
}

func suppressClass(objects []DetectedObject, iouThreshold float64) []DetectedObject {
	sorted := make([]DetectedObject, len(objects))
	copy(sorted, objects)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })

	suppressed := make([]bool, len(sorted))
	kept := make([]DetectedObject, 0, len(sorted))
	for a := range sorted {
		if suppressed[a] {
			continue
		}
		kept = append(kept, sorted[a])
		for b := a + 1; b < len(sorted); b++ {
			if !suppressed[b] && IoU(sorted[a].Box, sorted[b].Box) > iouThreshold {
				suppressed[b] = true
			}
		}
	}
	return kept
}
