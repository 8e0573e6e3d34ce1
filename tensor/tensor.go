package tensor

import (
	"fmt"
)

// Tensor is a CPU-resident dense tensor of float32 values stored in
// row-major order.
type Tensor struct {
	Shape    []int
	Data     []float32
	NumElems int
}

// New creates a tensor with the given shape and data. The data length must
// match the product of the shape dimensions.
func New(shape []int, data []float32) (*Tensor, error) {
	if len(shape) == 0 {
		return nil, fmt.Errorf("tensor shape cannot be empty")
	}

	numElems := 1
	for i, dim := range shape {
		if dim <= 0 {
			return nil, fmt.Errorf("invalid dimension %d at index %d", dim, i)
		}
		numElems *= dim
	}

	if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, numElems)
	}

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return &Tensor{
		Shape:    shapeCopy,
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros creates a zero-filled tensor with the given shape.
func Zeros(shape ...int) *Tensor {
	numElems := 1
	for _, dim := range shape {
		numElems *= dim
	}

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return &Tensor{
		Shape:    shapeCopy,
		Data:     make([]float32, numElems),
		NumElems: numElems,
	}
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	dataCopy := make([]float32, len(t.Data))
	copy(dataCopy, t.Data)

	shapeCopy := make([]int, len(t.Shape))
	copy(shapeCopy, t.Shape)

	return &Tensor{
		Shape:    shapeCopy,
		Data:     dataCopy,
		NumElems: t.NumElems,
	}
}

// CopyFrom overwrites the tensor's data with the values of src. Shapes must
// match exactly.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !SameShape(t, src) {
		return fmt.Errorf("shape mismatch: %v vs %v", t.Shape, src.Shape)
	}
	copy(t.Data, src.Data)
	return nil
}

// SameShape reports whether two tensors have identical shapes.
func SameShape(a, b *Tensor) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i, dim := range a.Shape {
		if dim != b.Shape[i] {
			return false
		}
	}
	return true
}

// Add performs elementwise addition: out = a + b.
func Add(a, b *Tensor) (*Tensor, error) {
	if !SameShape(a, b) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}

	out := make([]float32, a.NumElems)
	for i := range out {
		out[i] = a.Data[i] + b.Data[i]
	}
	return New(a.Shape, out)
}

// Sub performs elementwise subtraction: out = a - b.
func Sub(a, b *Tensor) (*Tensor, error) {
	if !SameShape(a, b) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}

	out := make([]float32, a.NumElems)
	for i := range out {
		out[i] = a.Data[i] - b.Data[i]
	}
	return New(a.Shape, out)
}

// Mul performs elementwise multiplication: out = a * b.
func Mul(a, b *Tensor) (*Tensor, error) {
	if !SameShape(a, b) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}

	out := make([]float32, a.NumElems)
	for i := range out {
		out[i] = a.Data[i] * b.Data[i]
	}
	return New(a.Shape, out)
}

// Scale multiplies every element by s in place.
func (t *Tensor) Scale(s float32) {
	for i := range t.Data {
		t.Data[i] *= s
	}
}

// MatMul computes the matrix product of two 2D tensors:
// [m, k] x [k, n] -> [m, n].
func MatMul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("MatMul requires 2D tensors, got %v and %v", a.Shape, b.Shape)
	}

	m, k := a.Shape[0], a.Shape[1]
	k2, n := b.Shape[0], b.Shape[1]

	if k != k2 {
		return nil, fmt.Errorf("inner dimension mismatch: %v x %v", a.Shape, b.Shape)
	}

	out := make([]float32, m*n)
	for i := 0; i < m; i++ {
		for p := 0; p < k; p++ {
			av := a.Data[i*k+p]
			if av == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				out[i*n+j] += av * b.Data[p*n+j]
			}
		}
	}

	return New([]int{m, n}, out)
}

// Transpose returns the transpose of a 2D tensor.
func Transpose(t *Tensor) (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("Transpose requires a 2D tensor, got %v", t.Shape)
	}

	rows, cols := t.Shape[0], t.Shape[1]
	out := make([]float32, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[j*rows+i] = t.Data[i*cols+j]
		}
	}

	return New([]int{cols, rows}, out)
}
