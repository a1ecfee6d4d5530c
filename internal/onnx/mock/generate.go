package mock

import (
	"math"

	"github.com/MeKo-Tech/bubblenav/internal/onnx"
)

// GridCell describes one synthetic prediction placed in a grid-layout output.
// Probabilities are converted to logits so that the decoder's sigmoid recovers them.
type GridCell struct {
	X, Y       int     // grid cell
	Anchor     int     // anchor slot within the cell
	Class      int     // class that receives ClassProb
	Objectness float32 // probability in (0,1)
	ClassProb  float32 // probability in (0,1)
	OffsetX    float32 // sigmoid(tx), in (0,1)
	OffsetY    float32 // sigmoid(ty), in (0,1)
	TW, TH     float32 // raw log-space size
}

// Logit is the inverse of the sigmoid, clamped away from 0 and 1.
func Logit(p float32) float32 {
	q := float64(p)
	if q < 1e-6 {
		q = 1e-6
	}
	if q > 1-1e-6 {
		q = 1 - 1e-6
	}
	return float32(math.Log(q / (1 - q)))
}

// background is the raw objectness written into empty slots; sigmoid(-12) is ~6e-6.
const background = -12

func fillGrid(data []float32, h, w, anchors, classes int, cells []GridCell) {
	stride := 5 + classes
	for i := 0; i < len(data); i += stride {
		data[i+4] = background
		for c := range classes {
			data[i+5+c] = background
		}
	}
	for _, c := range cells {
		if c.X < 0 || c.X >= w || c.Y < 0 || c.Y >= h || c.Anchor < 0 || c.Anchor >= anchors {
			continue
		}
		off := ((c.Y*w+c.X)*anchors + c.Anchor) * stride
		data[off] = Logit(c.OffsetX)
		data[off+1] = Logit(c.OffsetY)
		data[off+2] = c.TW
		data[off+3] = c.TH
		data[off+4] = Logit(c.Objectness)
		if c.Class >= 0 && c.Class < classes {
			data[off+5+c.Class] = Logit(c.ClassProb)
		}
	}
}

// NewGrid4D builds a [1,H,W,A*(5+C)] output tensor.
func NewGrid4D(h, w, anchors, classes int, cells ...GridCell) onnx.Tensor {
	stride := 5 + classes
	data := make([]float32, h*w*anchors*stride)
	fillGrid(data, h, w, anchors, classes, cells)
	return onnx.Tensor{Data: data, Shape: []int64{1, int64(h), int64(w), int64(anchors * stride)}}
}

// NewGrid5D builds a [1,H,W,A,5+C] output tensor with the same cell contents as NewGrid4D.
func NewGrid5D(h, w, anchors, classes int, cells ...GridCell) onnx.Tensor {
	stride := 5 + classes
	data := make([]float32, h*w*anchors*stride)
	fillGrid(data, h, w, anchors, classes, cells)
	return onnx.Tensor{Data: data, Shape: []int64{1, int64(h), int64(w), int64(anchors), int64(stride)}}
}

// NewFlat builds a [1,N,V] tensor from rows of equal length.
func NewFlat(rows ...[]float32) onnx.Tensor {
	if len(rows) == 0 {
		return onnx.Tensor{Data: nil, Shape: []int64{1, 0, 6}}
	}
	v := len(rows[0])
	data := make([]float32, 0, len(rows)*v)
	for _, r := range rows {
		row := make([]float32, v)
		copy(row, r)
		data = append(data, row...)
	}
	return onnx.Tensor{Data: data, Shape: []int64{1, int64(len(rows)), int64(v)}}
}

// PostProcessBox is one row of a post-processed detector: corners in (yMin,xMin,yMax,xMax) order plus score.
type PostProcessBox struct {
	YMin, XMin, YMax, XMax float32
	Score                  float32
	Class                  float32
}

// NewPostProcess builds the three-tensor layout boxes[1,N,5], classes[1,N], count[1].
// Slots beyond len(boxes) up to capacity are zero padded.
func NewPostProcess(capacity int, boxes ...PostProcessBox) []onnx.Tensor {
	if capacity < len(boxes) {
		capacity = len(boxes)
	}
	b := make([]float32, capacity*5)
	cls := make([]float32, capacity)
	for i, r := range boxes {
		copy(b[i*5:], []float32{r.YMin, r.XMin, r.YMax, r.XMax, r.Score})
		cls[i] = r.Class
	}
	return []onnx.Tensor{
		{Data: b, Shape: []int64{1, int64(capacity), 5}},
		{Data: cls, Shape: []int64{1, int64(capacity)}},
		{Data: []float32{float32(len(boxes))}, Shape: []int64{1}},
	}
}

// NewDetectionAPI builds the four-tensor layout boxes[1,N,4], classes[1,N], scores[1,N], count[1].
func NewDetectionAPI(capacity int, boxes ...PostProcessBox) []onnx.Tensor {
	if capacity < len(boxes) {
		capacity = len(boxes)
	}
	b := make([]float32, capacity*4)
	cls := make([]float32, capacity)
	scores := make([]float32, capacity)
	for i, r := range boxes {
		copy(b[i*4:], []float32{r.YMin, r.XMin, r.YMax, r.XMax})
		cls[i] = r.Class
		scores[i] = r.Score
	}
	return []onnx.Tensor{
		{Data: b, Shape: []int64{1, int64(capacity), 4}},
		{Data: cls, Shape: []int64{1, int64(capacity)}},
		{Data: scores, Shape: []int64{1, int64(capacity)}},
		{Data: []float32{float32(len(boxes))}, Shape: []int64{1}},
	}
}

// Shapes returns the shape of every tensor, as a runtime reports them at load time.
func Shapes(ts []onnx.Tensor) [][]int64 {
	out := make([][]int64, len(ts))
	for i, t := range ts {
		out[i] = t.Shape
	}
	return out
}
