package detector

import (
	"math"

	"github.com/MeKo-Tech/bubblenav/internal/onnx"
	"github.com/MeKo-Tech/bubblenav/internal/utils"
)

func sigmoid(x float32) float64 {
	return 1.0 / (1.0 + math.Exp(-float64(x)))
}

// finite reports whether none of vals is NaN or infinite.
func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// below is the threshold test for scores. NaN is below every threshold.
func below(score, threshold float64) bool {
	return !(score >= threshold)
}

// gridLayout decodes anchor-based grid outputs, one tensor per detection scale.
// Grid4D packs anchors into the last axis ([1,H,W,A*(5+C)]); Grid5D has its own
// anchor axis ([1,H,W,A,5+C]). The memory order is the same for both.
type gridLayout struct {
	kind    LayoutKind
	p       decodeParams
	anchors []Anchor
	masks   [][]int
}

func (g gridLayout) Kind() LayoutKind { return g.kind }

func (g gridLayout) Decode(outputs []onnx.Tensor) []DetectedObject {
	if len(g.anchors) == 0 {
		return nil
	}
	var out []DetectedObject
	for i, t := range outputs {
		h, w, a, ok := g.dims(t)
		if !ok {
			continue
		}
		out = append(out, g.decodeScale(t.Data, h, w, a, g.maskFor(i, a))...)
	}
	return out
}

// dims returns grid height, width and anchors per cell for one output tensor.
func (g gridLayout) dims(t onnx.Tensor) (int, int, int, bool) {
	stride := 5 + g.p.numClasses
	var h, w, a int
	switch g.kind {
	case LayoutGrid5D:
		s := onnx.SqueezeShape(t.Shape, 4)
		if len(s) != 4 || int(s[3]) != stride {
			return 0, 0, 0, false
		}
		h, w, a = int(s[0]), int(s[1]), int(s[2])
	default:
		s := onnx.SqueezeShape(t.Shape, 3)
		if len(s) != 3 || int(s[2])%stride != 0 {
			return 0, 0, 0, false
		}
		h, w, a = int(s[0]), int(s[1]), int(s[2])/stride
	}
	if h <= 0 || w <= 0 || a <= 0 || len(t.Data) != h*w*a*stride {
		return 0, 0, 0, false
	}
	return h, w, a, true
}

// maskFor returns the anchor indices for output i, falling back to the identity
// mask when the configured mask does not match the tensor's anchor count.
func (g gridLayout) maskFor(i, anchorsPerCell int) []int {
	if i < len(g.masks) && len(g.masks[i]) == anchorsPerCell {
		return g.masks[i]
	}
	mask := make([]int, anchorsPerCell)
	for k := range mask {
		mask[k] = k
	}
	return mask
}

func (g gridLayout) anchor(idx int) Anchor {
	return g.anchors[idx%len(g.anchors)]
}

func (g gridLayout) decodeScale(data []float32, h, w, a int, mask []int) []DetectedObject {
	stride := 5 + g.p.numClasses
	var out []DetectedObject
	for y := range h {
		for x := range w {
			for k := range a {
				off := ((y*w+x)*a + k) * stride
				cell := data[off : off+stride]

				objectness := sigmoid(cell[4])
				if below(objectness, g.p.threshold) {
					continue
				}
				bestClass, bestScore := 0, 0.0
				for c := range g.p.numClasses {
					if s := sigmoid(cell[5+c]); s > bestScore {
						bestClass, bestScore = c, s
					}
				}
				confidence := objectness * bestScore
				if below(confidence, g.p.threshold) {
					continue
				}

				an := g.anchor(mask[k])
				cx := (sigmoid(cell[0]) + float64(x)) / float64(w)
				cy := (sigmoid(cell[1]) + float64(y)) / float64(h)
				bw := math.Exp(float64(cell[2])) * an.W / g.p.inputW
				bh := math.Exp(float64(cell[3])) * an.H / g.p.inputH
				if !finite(confidence, cx, cy, bw, bh) {
					continue
				}

				obj := DetectedObject{
					Class:      ClassID(bestClass),
					Confidence: confidence,
					Box:        utils.BoxFromCenter(cx, cy, bw, bh).Clamp01(),
				}
				if obj.valid() {
					out = append(out, obj)
				}
			}
		}
	}
	return out
}

// flatLayout decodes one candidate per row of a [1,N,V] tensor. Rows carry either
// per-class scores after the objectness column, or a confidence and an explicit class id.
type flatLayout struct {
	p decodeParams
}

func (flatLayout) Kind() LayoutKind { return LayoutFlat }

func (f flatLayout) Decode(outputs []onnx.Tensor) []DetectedObject {
	if len(outputs) != 1 {
		return nil
	}
	s := onnx.SqueezeShape(outputs[0].Shape, 2)
	if len(s) != 2 {
		return nil
	}
	n, v := int(s[0]), int(s[1])
	data := outputs[0].Data
	if n <= 0 || v < 6 || len(data) < n*v {
		return nil
	}

	var out []DetectedObject
	for r := range n {
		row := data[r*v : (r+1)*v]
		class, confidence, ok := f.classify(row)
		if !ok || below(confidence, f.p.threshold) || !f.p.validClass(class) {
			continue
		}

		cx, cy, w, h := float64(row[0]), float64(row[1]), float64(row[2]), float64(row[3])
		if !finite(confidence, cx, cy, w, h) {
			continue
		}
		if cx > 1 || cy > 1 || w > 1 || h > 1 {
			cx, w = cx/f.p.inputW, w/f.p.inputW
			cy, h = cy/f.p.inputH, h/f.p.inputH
		}
		obj := DetectedObject{
			Class:      ClassID(class),
			Confidence: confidence,
			Box:        utils.BoxFromCenter(cx, cy, w, h).Clamp01(),
		}
		if obj.valid() {
			out = append(out, obj)
		}
	}
	return out
}

func (f flatLayout) classify(row []float32) (int, float64, bool) {
	v := len(row)
	switch {
	case v >= 5+f.p.numClasses:
		best, bestScore := 0, float32(-1)
		for c := range f.p.numClasses {
			if row[5+c] > bestScore {
				best, bestScore = c, row[5+c]
			}
		}
		return best, float64(row[4]) * float64(bestScore), true
	case v >= 6:
		return int(math.Round(float64(row[5]))), float64(row[4]), true
	}
	return 0, 0, false
}

// postProcessLayout decodes models with NMS baked in: boxes[N,5] as
// (yMin,xMin,yMax,xMax,score), classes[N] and a valid-row count.
type postProcessLayout struct {
	p       decodeParams
	boxes   int
	classes int
	count   int
}

func (postProcessLayout) Kind() LayoutKind { return LayoutPostProcess }

func (l postProcessLayout) Decode(outputs []onnx.Tensor) []DetectedObject {
	if len(outputs) != 3 {
		return nil
	}
	boxes, classes := outputs[l.boxes].Data, outputs[l.classes].Data
	n := validCount(outputs[l.count].Data, len(boxes)/5, len(classes))
	rows := make([]cornerRow, 0, n)
	for i := range n {
		b := boxes[i*5 : i*5+5]
		rows = append(rows, cornerRow{
			yMin: float64(b[0]), xMin: float64(b[1]), yMax: float64(b[2]), xMax: float64(b[3]),
			score: float64(b[4]), class: classes[i],
		})
	}
	return decodeCornerRows(rows, l.p)
}

// detectionAPILayout decodes the four-tensor object-detection API output:
// boxes[N,4] normalized (yMin,xMin,yMax,xMax), classes[N], scores[N], count.
type detectionAPILayout struct {
	p       decodeParams
	boxes   int
	classes int
	scores  int
	count   int
}

func (detectionAPILayout) Kind() LayoutKind { return LayoutDetectionAPI }

func (l detectionAPILayout) Decode(outputs []onnx.Tensor) []DetectedObject {
	if len(outputs) != 4 {
		return nil
	}
	boxes, classes, scores := outputs[l.boxes].Data, outputs[l.classes].Data, outputs[l.scores].Data
	n := validCount(outputs[l.count].Data, len(boxes)/4, min(len(classes), len(scores)))
	rows := make([]cornerRow, 0, n)
	for i := range n {
		b := boxes[i*4 : i*4+4]
		rows = append(rows, cornerRow{
			yMin: float64(b[0]), xMin: float64(b[1]), yMax: float64(b[2]), xMax: float64(b[3]),
			score: float64(scores[i]), class: classes[i],
		})
	}
	return decodeCornerRows(rows, l.p)
}

type cornerRow struct {
	yMin, xMin, yMax, xMax float64
	score                  float64
	class                  float32
}

// validCount reads the count tensor and clamps it to the rows actually present.
func validCount(count []float32, limits ...int) int {
	if len(count) == 0 {
		return 0
	}
	n := int(count[0])
	for _, l := range limits {
		n = min(n, l)
	}
	return max(n, 0)
}

// decodeCornerRows converts corner rows to detections. When any coordinate exceeds 1
// the rows are in input pixels and are normalized by the input size.
func decodeCornerRows(rows []cornerRow, p decodeParams) []DetectedObject {
	sx, sy := 1.0, 1.0
	for _, r := range rows {
		if !finite(r.xMin, r.yMin, r.xMax, r.yMax) {
			continue
		}
		if r.xMin > 1 || r.yMin > 1 || r.xMax > 1 || r.yMax > 1 {
			sx, sy = 1/p.inputW, 1/p.inputH
			break
		}
	}
	var out []DetectedObject
	for _, r := range rows {
		class := int(math.Round(float64(r.class)))
		if below(r.score, p.threshold) || !p.validClass(class) {
			continue
		}
		if !finite(r.score, r.xMin, r.yMin, r.xMax, r.yMax) {
			continue
		}
		obj := DetectedObject{
			Class:      ClassID(class),
			Confidence: r.score,
			Box:        utils.NewBox(r.xMin*sx, r.yMin*sy, r.xMax*sx, r.yMax*sy).Clamp01(),
		}
		if obj.valid() {
			out = append(out, obj)
		}
	}
	return out
}
