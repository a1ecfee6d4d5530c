package onnx

import (
	"errors"
	"fmt"
)

// Tensor is a dense float32 tensor in row-major order. It is the unit exchanged
// with the inference runtime in both directions.
type Tensor struct {
	Data  []float32
	Shape []int64
}

// NewTensor validates that data matches shape and returns the tensor.
func NewTensor(data []float32, shape ...int64) (Tensor, error) {
	if len(shape) == 0 {
		if len(data) != 1 {
			return Tensor{}, fmt.Errorf("scalar tensor needs 1 element, got %d", len(data))
		}
		return Tensor{Data: data, Shape: []int64{}}, nil
	}
	n, err := NumElements(shape)
	if err != nil {
		return Tensor{}, err
	}
	if len(data) != n {
		return Tensor{}, fmt.Errorf("unexpected data length: got %d, want %d for shape %v", len(data), n, shape)
	}
	s := make([]int64, len(shape))
	copy(s, shape)
	return Tensor{Data: data, Shape: s}, nil
}

// NewImageTensor builds a single-image tensor. When channelsLast is false the
// shape is [1, C, H, W], otherwise [1, H, W, C].
func NewImageTensor(data []float32, c, h, w int, channelsLast bool) (Tensor, error) {
	if data == nil {
		return Tensor{}, errors.New("nil data")
	}
	if channelsLast {
		return NewTensor(data, 1, int64(h), int64(w), int64(c))
	}
	return NewTensor(data, 1, int64(c), int64(h), int64(w))
}

// NumElements returns the product of shape dimensions. All dimensions must be positive.
func NumElements(shape []int64) (int, error) {
	n := 1
	for i, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("dimension %d must be > 0, got %d", i, d)
		}
		n *= int(d)
	}
	return n, nil
}

// Rank returns the number of dimensions.
func (t Tensor) Rank() int { return len(t.Shape) }

// Dim returns dimension i, or 0 when out of range.
func (t Tensor) Dim(i int) int {
	if i < 0 || i >= len(t.Shape) {
		return 0
	}
	return int(t.Shape[i])
}

// Len returns the number of elements.
func (t Tensor) Len() int { return len(t.Data) }

// Validate checks that the data length matches the shape.
func (t Tensor) Validate() error {
	if len(t.Shape) == 0 {
		if len(t.Data) != 1 {
			return fmt.Errorf("scalar tensor has %d elements", len(t.Data))
		}
		return nil
	}
	n, err := NumElements(t.Shape)
	if err != nil {
		return err
	}
	if len(t.Data) != n {
		return fmt.Errorf("tensor data length %d != expected %d for shape %v", len(t.Data), n, t.Shape)
	}
	return nil
}

// SqueezeLeading drops leading dimensions of size 1 while the rank exceeds minRank.
// The data slice is shared.
func (t Tensor) SqueezeLeading(minRank int) Tensor {
	shape := t.Shape
	for len(shape) > minRank && shape[0] == 1 {
		shape = shape[1:]
	}
	return Tensor{Data: t.Data, Shape: shape}
}

// SqueezeShape drops leading 1-dimensions from a shape while rank exceeds minRank.
// Dynamic dimensions (<= 0) are kept.
func SqueezeShape(shape []int64, minRank int) []int64 {
	for len(shape) > minRank && shape[0] == 1 {
		shape = shape[1:]
	}
	return shape
}

// TensorStats computes min, max and mean for debug output.
func TensorStats(data []float32) (float32, float32, float32) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	minVal, maxVal := data[0], data[0]
	var sum float64
	for _, v := range data {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
		sum += float64(v)
	}
	return minVal, maxVal, float32(sum / float64(len(data)))
}
