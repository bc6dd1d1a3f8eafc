package nn

import (
	"fmt"
	"math"
	"math/rand"

	"finger-classifier/internal/tensor"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Linear is a fully connected layer y = x·Wᵀ + b over [N, In] input.
type Linear struct {
	In, Out int
	W       *Param // [Out, In]
	B       *Param // [Out]

	x *tensor.Tensor
}

// NewLinear creates a layer initialised uniformly in ±1/sqrt(in).
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		In: in, Out: out,
		W: newParam(name+".weight", out, in),
		B: newParam(name+".bias", out),
	}
	bound := 1 / math.Sqrt(float64(in))
	for i := range l.W.Value.Data {
		l.W.Value.Data[i] = float32((rng.Float64()*2 - 1) * bound)
	}
	for i := range l.B.Value.Data {
		l.B.Value.Data[i] = float32((rng.Float64()*2 - 1) * bound)
	}
	return l
}

func (l *Linear) Params() []*Param {
	return []*Param{l.W, l.B}
}

func (l *Linear) Forward(x *tensor.Tensor, train bool) *tensor.Tensor {
	if len(x.Shape) != 2 || x.Shape[1] != l.In {
		panic(fmt.Sprintf("linear: input shape %v, want [N %d]", x.Shape, l.In))
	}
	n := x.Shape[0]
	l.x = x

	y := tensor.New(n, l.Out)
	for i := 0; i < n; i++ {
		copy(y.Row(i), l.B.Value.Data)
	}
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: n, Cols: l.In, Stride: l.In, Data: x.Data},
		blas32.General{Rows: l.Out, Cols: l.In, Stride: l.In, Data: l.W.Value.Data},
		1,
		blas32.General{Rows: n, Cols: l.Out, Stride: l.Out, Data: y.Data})
	return y
}

func (l *Linear) Backward(dy *tensor.Tensor) *tensor.Tensor {
	n := dy.Shape[0]
	g := blas32.General{Rows: n, Cols: l.Out, Stride: l.Out, Data: dy.Data}

	blas32.Gemm(blas.Trans, blas.NoTrans, 1, g,
		blas32.General{Rows: n, Cols: l.In, Stride: l.In, Data: l.x.Data},
		1,
		blas32.General{Rows: l.Out, Cols: l.In, Stride: l.In, Data: l.W.Grad.Data})
	for i := 0; i < n; i++ {
		for j, v := range dy.Row(i) {
			l.B.Grad.Data[j] += v
		}
	}

	dx := tensor.New(n, l.In)
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, g,
		blas32.General{Rows: l.Out, Cols: l.In, Stride: l.In, Data: l.W.Value.Data},
		0,
		blas32.General{Rows: n, Cols: l.In, Stride: l.In, Data: dx.Data})
	return dx
}
