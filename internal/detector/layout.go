package detector

import (
	"github.com/MeKo-Tech/bubblenav/internal/onnx"
)

// LayoutKind identifies how a model's output tensors are arranged.
type LayoutKind int

const (
	LayoutUnknown LayoutKind = iota
	LayoutGrid4D
	LayoutGrid5D
	LayoutFlat
	LayoutPostProcess
	LayoutDetectionAPI
)

func (k LayoutKind) String() string {
	switch k {
	case LayoutGrid4D:
		return "grid4d"
	case LayoutGrid5D:
		return "grid5d"
	case LayoutFlat:
		return "flat"
	case LayoutPostProcess:
		return "postprocess"
	case LayoutDetectionAPI:
		return "detection_api"
	default:
		return "unknown"
	}
}

// Layout decodes the raw outputs of one model into detections. A layout is chosen
// once per model by SelectLayout and reused for every inference.
type Layout interface {
	Kind() LayoutKind
	Decode(outputs []onnx.Tensor) []DetectedObject
}

// decodeParams are the values every decoder needs.
type decodeParams struct {
	threshold  float64
	numClasses int
	inputW     float64
	inputH     float64
}

func newDecodeParams(cfg Config, inputW, inputH int) decodeParams {
	return decodeParams{
		threshold:  cfg.ConfidenceThreshold,
		numClasses: cfg.NumClasses,
		inputW:     float64(inputW),
		inputH:     float64(inputH),
	}
}

// validClass reports whether id names one of the configured classes.
func (p decodeParams) validClass(id int) bool {
	return id >= 0 && id < p.numClasses
}

// SelectLayout inspects the output shapes reported at model load and returns the
// matching decoder. Shapes that match no known layout yield a decoder that always
// returns zero detections.
func SelectLayout(shapes [][]int64, cfg Config, inputW, inputH int) Layout {
	p := newDecodeParams(cfg, inputW, inputH)
	stride := int64(5 + cfg.NumClasses)

	if len(shapes) == 4 {
		if roles, ok := findTensorRoles(shapes, 4); ok && len(roles.rest) == 2 {
			return detectionAPILayout{p: p, boxes: roles.boxes, classes: roles.rest[0], scores: roles.rest[1], count: roles.count}
		}
	}
	if len(shapes) == 3 {
		if roles, ok := findTensorRoles(shapes, 5); ok && len(roles.rest) == 1 {
			return postProcessLayout{p: p, boxes: roles.boxes, classes: roles.rest[0], count: roles.count}
		}
	}
	if len(shapes) == 0 {
		return unknownLayout{}
	}
	if allRank(shapes, 5) && lastDimsEqual(shapes, stride) {
		return gridLayout{kind: LayoutGrid5D, p: p, anchors: cfg.Anchors, masks: cfg.AnchorMasks}
	}
	if allRank(shapes, 4) && lastDimsMultiple(shapes, stride) {
		return gridLayout{kind: LayoutGrid4D, p: p, anchors: cfg.Anchors, masks: cfg.AnchorMasks}
	}
	if len(shapes) == 1 && (len(shapes[0]) == 3 || len(shapes[0]) == 2) && shapes[0][len(shapes[0])-1] >= 6 {
		return flatLayout{p: p}
	}
	return unknownLayout{}
}

type tensorRoles struct {
	boxes int
	count int
	rest  []int
}

// findTensorRoles identifies the boxes tensor (the highest-rank shape with last
// dim == boxWidth, earlier outputs winning ties), the count tensor (the lowest-rank
// single-element shape, later outputs winning ties) and the remaining per-detection
// tensors in their original order.
func findTensorRoles(shapes [][]int64, boxWidth int64) (tensorRoles, bool) {
	roles := tensorRoles{boxes: -1, count: -1}
	for i, s := range shapes {
		if len(s) < 2 || s[len(s)-1] != boxWidth {
			continue
		}
		if roles.boxes < 0 || len(s) > len(shapes[roles.boxes]) {
			roles.boxes = i
		}
	}
	for i, s := range shapes {
		if i == roles.boxes || !isScalarShape(s) {
			continue
		}
		if roles.count < 0 || len(s) <= len(shapes[roles.count]) {
			roles.count = i
		}
	}
	for i := range shapes {
		if i != roles.boxes && i != roles.count {
			roles.rest = append(roles.rest, i)
		}
	}
	return roles, roles.boxes >= 0 && roles.count >= 0
}

func isScalarShape(s []int64) bool {
	for _, d := range s {
		if d != 1 {
			return false
		}
	}
	return len(s) <= 2
}

func allRank(shapes [][]int64, rank int) bool {
	for _, s := range shapes {
		if len(s) != rank {
			return false
		}
	}
	return true
}

func lastDimsEqual(shapes [][]int64, v int64) bool {
	for _, s := range shapes {
		if s[len(s)-1] != v {
			return false
		}
	}
	return true
}

func lastDimsMultiple(shapes [][]int64, stride int64) bool {
	for _, s := range shapes {
		last := s[len(s)-1]
		if last <= 0 || last%stride != 0 {
			return false
		}
	}
	return true
}

type unknownLayout struct{}

func (unknownLayout) Kind() LayoutKind { return LayoutUnknown }

func (unknownLayout) Decode([]onnx.Tensor) []DetectedObject { return nil }
