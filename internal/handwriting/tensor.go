package handwriting

import "fmt"

// Tensor is a dense float32 array in row-major order. The batch dimension is
// never stored: the executor always runs a single image.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zeroed tensor.
func NewTensor(shape ...int) *Tensor {
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, shapeSize(shape))}
}

// Size is the number of elements implied by Shape.
func (t *Tensor) Size() int {
	return shapeSize(t.Shape)
}

// Rank is len(Shape).
func (t *Tensor) Rank() int {
	return len(t.Shape)
}

// Rows splits a rank-2 tensor into per-row slices sharing t.Data.
func (t *Tensor) Rows() ([][]float32, error) {
	if t.Rank() != 2 {
		return nil, fmt.Errorf("expected rank 2 tensor, got shape %v", t.Shape)
	}
	rows := make([][]float32, t.Shape[0])
	width := t.Shape[1]
	for i := range rows {
		rows[i] = t.Data[i*width : (i+1)*width]
	}
	return rows, nil
}

func (t *Tensor) clone() *Tensor {
	return &Tensor{Shape: append([]int(nil), t.Shape...), Data: append([]float32(nil), t.Data...)}
}

func shapeSize(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
