// Package tensor provides a minimal dense float32 tensor in row-major order.
package tensor

import (
	"fmt"
	"math"
)

// Tensor is a dense row-major float32 array with an explicit shape.
// Image batches use NCHW layout.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New allocates a zero-filled tensor of the given shape.
func New(shape ...int) *Tensor {
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, numel(shape)),
	}
}

// FromData wraps data with the given shape. It panics if the sizes disagree.
func FromData(data []float32, shape ...int) *Tensor {
	if len(data) != numel(shape) {
		panic(fmt.Sprintf("tensor: %d values for shape %v", len(data), shape))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	return len(t.Data)
}

// Stride returns the number of elements spanned by one step in dimension 0.
func (t *Tensor) Stride() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return len(t.Data) / t.Shape[0]
}

// Row returns a view of the i-th slice along dimension 0.
func (t *Tensor) Row(i int) []float32 {
	s := t.Stride()
	return t.Data[i*s : (i+1)*s]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float32(nil), t.Data...),
	}
}

// SameShape reports whether t and o have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	if len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// Zero sets every element to 0.
func (t *Tensor) Zero() {
	for i := range t.Data {
		t.Data[i] = 0
	}
}

// Scale multiplies every element by s in place.
func (t *Tensor) Scale(s float32) {
	for i := range t.Data {
		t.Data[i] *= s
	}
}

// AllFinite reports whether no element is NaN or infinite.
func (t *Tensor) AllFinite() bool {
	for _, v := range t.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// AbsSum returns the sum of absolute values.
func (t *Tensor) AbsSum() float64 {
	var s float64
	for _, v := range t.Data {
		s += math.Abs(float64(v))
	}
	return s
}

// Stack concatenates equally sized rows into a tensor with a leading batch
// dimension, e.g. CHW images into NCHW.
func Stack(rows [][]float32, shape ...int) *Tensor {
	per := numel(shape)
	out := New(append([]int{len(rows)}, shape...)...)
	for i, r := range rows {
		if len(r) != per {
			panic(fmt.Sprintf("tensor: row %d has %d values, want %d", i, len(r), per))
		}
		copy(out.Data[i*per:], r)
	}
	return out
}

// ArgMax returns the index of the largest value in v.
func ArgMax(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// Softmax returns the numerically stable softmax of v.
func Softmax(v []float32) []float64 {
	out := make([]float64, len(v))
	if len(v) == 0 {
		return out
	}
	maxV := float64(v[ArgMax(v)])
	var sum float64
	for i, x := range v {
		out[i] = math.Exp(float64(x) - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
