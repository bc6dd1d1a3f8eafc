package nn

import (
	"fmt"
	"math"
	"math/rand"

	"finger-classifier/internal/tensor"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Conv2D is a square-kernel 2-D convolution over NCHW input, computed as
// im2col followed by a single GEMM per sample.
type Conv2D struct {
	InC, OutC   int
	K           int
	Stride, Pad int

	// SkipInputGrad disables computing the gradient w.r.t. the input,
	// which the first layer of a network never needs.
	SkipInputGrad bool

	W *Param // [OutC, InC*K*K]
	B *Param // [OutC]

	inShape    []int
	outH, outW int
	cols       [][]float32
}

// NewConv2D creates a convolution with He-normal weights and zero bias.
func NewConv2D(name string, inC, outC, k, stride, pad int, rng *rand.Rand) *Conv2D {
	c := &Conv2D{
		InC: inC, OutC: outC, K: k, Stride: stride, Pad: pad,
		W: newParam(name+".weight", outC, inC*k*k),
		B: newParam(name+".bias", outC),
	}
	std := math.Sqrt(2.0 / float64(inC*k*k))
	for i := range c.W.Value.Data {
		c.W.Value.Data[i] = float32(rng.NormFloat64() * std)
	}
	return c
}

// OutputSize returns the spatial output size for an input of size in.
func (c *Conv2D) OutputSize(in int) int {
	return (in+2*c.Pad-c.K)/c.Stride + 1
}

func (c *Conv2D) Params() []*Param {
	return []*Param{c.W, c.B}
}

func (c *Conv2D) Forward(x *tensor.Tensor, train bool) *tensor.Tensor {
	if len(x.Shape) != 4 || x.Shape[1] != c.InC {
		panic(fmt.Sprintf("conv2d: input shape %v, want [N %d H W]", x.Shape, c.InC))
	}
	n, h, w := x.Shape[0], x.Shape[2], x.Shape[3]
	c.inShape = append(c.inShape[:0], x.Shape...)
	c.outH, c.outW = c.OutputSize(h), c.OutputSize(w)
	ohw := c.outH * c.outW
	ckk := c.InC * c.K * c.K

	if len(c.cols) != n {
		c.cols = make([][]float32, n)
	}
	out := tensor.New(n, c.OutC, c.outH, c.outW)
	weights := blas32.General{Rows: c.OutC, Cols: ckk, Stride: ckk, Data: c.W.Value.Data}

	forEachChunk(n, workerCount(n), func(_, start, end int) {
		for s := start; s < end; s++ {
			if len(c.cols[s]) != ckk*ohw {
				c.cols[s] = make([]float32, ckk*ohw)
			}
			col := c.cols[s]
			c.im2col(x.Row(s), h, w, col)

			dst := out.Row(s)
			for f := 0; f < c.OutC; f++ {
				b := c.B.Value.Data[f]
				row := dst[f*ohw : (f+1)*ohw]
				for i := range row {
					row[i] = b
				}
			}
			blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
				weights,
				blas32.General{Rows: ckk, Cols: ohw, Stride: ohw, Data: col},
				1,
				blas32.General{Rows: c.OutC, Cols: ohw, Stride: ohw, Data: dst})
		}
	})
	return out
}

func (c *Conv2D) Backward(dy *tensor.Tensor) *tensor.Tensor {
	n := dy.Shape[0]
	h, w := c.inShape[2], c.inShape[3]
	ohw := c.outH * c.outW
	ckk := c.InC * c.K * c.K

	var dx *tensor.Tensor
	if !c.SkipInputGrad {
		dx = tensor.New(c.inShape...)
	}
	weights := blas32.General{Rows: c.OutC, Cols: ckk, Stride: ckk, Data: c.W.Value.Data}

	workers := workerCount(n)
	dW := make([][]float32, workers)
	dB := make([][]float32, workers)

	forEachChunk(n, workers, func(wk, start, end int) {
		dW[wk] = make([]float32, c.OutC*ckk)
		dB[wk] = make([]float32, c.OutC)
		var dcol []float32
		if dx != nil {
			dcol = make([]float32, ckk*ohw)
		}
		for s := start; s < end; s++ {
			g := dy.Row(s)
			gm := blas32.General{Rows: c.OutC, Cols: ohw, Stride: ohw, Data: g}
			colm := blas32.General{Rows: ckk, Cols: ohw, Stride: ohw, Data: c.cols[s]}

			blas32.Gemm(blas.NoTrans, blas.Trans, 1, gm, colm, 1,
				blas32.General{Rows: c.OutC, Cols: ckk, Stride: ckk, Data: dW[wk]})
			for f := 0; f < c.OutC; f++ {
				var sum float32
				for _, v := range g[f*ohw : (f+1)*ohw] {
					sum += v
				}
				dB[wk][f] += sum
			}

			if dx != nil {
				blas32.Gemm(blas.Trans, blas.NoTrans, 1, weights, gm, 0,
					blas32.General{Rows: ckk, Cols: ohw, Stride: ohw, Data: dcol})
				c.col2im(dcol, h, w, dx.Row(s))
			}
		}
	})

	for wk := range dW {
		if dW[wk] == nil {
			continue
		}
		for i, v := range dW[wk] {
			c.W.Grad.Data[i] += v
		}
		for i, v := range dB[wk] {
			c.B.Grad.Data[i] += v
		}
	}
	return dx
}

// im2col unrolls one CHW image into a [InC*K*K, outH*outW] matrix.
func (c *Conv2D) im2col(img []float32, h, w int, col []float32) {
	ohw := c.outH * c.outW
	for ch := 0; ch < c.InC; ch++ {
		plane := img[ch*h*w : (ch+1)*h*w]
		for ki := 0; ki < c.K; ki++ {
			for kj := 0; kj < c.K; kj++ {
				row := col[((ch*c.K+ki)*c.K+kj)*ohw:][:ohw]
				for oh := 0; oh < c.outH; oh++ {
					ih := oh*c.Stride - c.Pad + ki
					for ow := 0; ow < c.outW; ow++ {
						iw := ow*c.Stride - c.Pad + kj
						if ih < 0 || ih >= h || iw < 0 || iw >= w {
							row[oh*c.outW+ow] = 0
							continue
						}
						row[oh*c.outW+ow] = plane[ih*w+iw]
					}
				}
			}
		}
	}
}

// col2im is the adjoint of im2col: it scatters-adds col back into img.
func (c *Conv2D) col2im(col []float32, h, w int, img []float32) {
	ohw := c.outH * c.outW
	for ch := 0; ch < c.InC; ch++ {
		plane := img[ch*h*w : (ch+1)*h*w]
		for ki := 0; ki < c.K; ki++ {
			for kj := 0; kj < c.K; kj++ {
				row := col[((ch*c.K+ki)*c.K+kj)*ohw:][:ohw]
				for oh := 0; oh < c.outH; oh++ {
					ih := oh*c.Stride - c.Pad + ki
					if ih < 0 || ih >= h {
						continue
					}
					for ow := 0; ow < c.outW; ow++ {
						iw := ow*c.Stride - c.Pad + kj
						if iw < 0 || iw >= w {
							continue
						}
						plane[ih*w+iw] += row[oh*c.outW+ow]
					}
				}
			}
		}
	}
}
