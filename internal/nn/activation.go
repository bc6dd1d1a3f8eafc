package nn

import (
	"math/rand"

	"finger-classifier/internal/tensor"
)

// ReLU is the rectified linear unit.
type ReLU struct {
	mask []bool
}

func (r *ReLU) Params() []*Param { return nil }

func (r *ReLU) Forward(x *tensor.Tensor, train bool) *tensor.Tensor {
	if cap(r.mask) < x.Len() {
		r.mask = make([]bool, x.Len())
	}
	r.mask = r.mask[:x.Len()]
	y := tensor.New(x.Shape...)
	for i, v := range x.Data {
		if v > 0 {
			y.Data[i] = v
			r.mask[i] = true
		} else {
			r.mask[i] = false
		}
	}
	return y
}

func (r *ReLU) Backward(dy *tensor.Tensor) *tensor.Tensor {
	dx := tensor.New(dy.Shape...)
	for i, v := range dy.Data {
		if r.mask[i] {
			dx.Data[i] = v
		}
	}
	return dx
}

// Dropout zeroes activations with probability P during training and scales
// the survivors by 1/(1-P). It is the identity in inference mode.
type Dropout struct {
	P   float64
	rng *rand.Rand

	scale []float32
}

// NewDropout creates a dropout layer drawing its masks from rng.
func NewDropout(p float64, rng *rand.Rand) *Dropout {
	return &Dropout{P: p, rng: rng}
}

func (d *Dropout) Params() []*Param { return nil }

func (d *Dropout) Forward(x *tensor.Tensor, train bool) *tensor.Tensor {
	if !train || d.P <= 0 {
		d.scale = nil
		return x.Clone()
	}
	keep := float32(1 / (1 - d.P))
	if cap(d.scale) < x.Len() {
		d.scale = make([]float32, x.Len())
	}
	d.scale = d.scale[:x.Len()]
	y := tensor.New(x.Shape...)
	for i, v := range x.Data {
		if d.rng.Float64() < d.P {
			d.scale[i] = 0
			continue
		}
		d.scale[i] = keep
		y.Data[i] = v * keep
	}
	return y
}

func (d *Dropout) Backward(dy *tensor.Tensor) *tensor.Tensor {
	if d.scale == nil {
		return dy.Clone()
	}
	dx := tensor.New(dy.Shape...)
	for i, v := range dy.Data {
		dx.Data[i] = v * d.scale[i]
	}
	return dx
}

// GlobalAvgPool averages each channel of an NCHW tensor, producing [N, C].
type GlobalAvgPool struct {
	inShape []int
}

func (g *GlobalAvgPool) Params() []*Param { return nil }

func (g *GlobalAvgPool) Forward(x *tensor.Tensor, train bool) *tensor.Tensor {
	n, c := x.Shape[0], x.Shape[1]
	hw := x.Shape[2] * x.Shape[3]
	g.inShape = append(g.inShape[:0], x.Shape...)

	y := tensor.New(n, c)
	for i := 0; i < n; i++ {
		src := x.Row(i)
		for ch := 0; ch < c; ch++ {
			var sum float32
			for _, v := range src[ch*hw : (ch+1)*hw] {
				sum += v
			}
			y.Data[i*c+ch] = sum / float32(hw)
		}
	}
	return y
}

func (g *GlobalAvgPool) Backward(dy *tensor.Tensor) *tensor.Tensor {
	n, c := g.inShape[0], g.inShape[1]
	hw := g.inShape[2] * g.inShape[3]
	dx := tensor.New(g.inShape...)
	for i := 0; i < n; i++ {
		dst := dx.Row(i)
		for ch := 0; ch < c; ch++ {
			v := dy.Data[i*c+ch] / float32(hw)
			plane := dst[ch*hw : (ch+1)*hw]
			for j := range plane {
				plane[j] = v
			}
		}
	}
	return dx
}
