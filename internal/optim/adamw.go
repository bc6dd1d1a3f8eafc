// Package optim provides the AdamW optimizer and a reduce-on-plateau
// learning-rate scheduler.
package optim

import (
	"math"

	"finger-classifier/internal/nn"
)

// Optimizer updates a fixed set of parameters from their gradients.
type Optimizer interface {
	Step()
	ZeroGrad()
	LR() float64
	SetLR(lr float64)
	Params() []*nn.Param
	Steps() int
}

// AdamW implements Adam with bias correction and decoupled weight decay.
//
//	m = β1·m + (1-β1)·g
//	v = β2·v + (1-β2)·g²
//	w = w - lr·wd·w - lr · (m/(1-β1^t)) / (√(v/(1-β2^t)) + ε)
//
// Moment state is owned by the optimizer instance; a new instance starts from
// zero moments.
type AdamW struct {
	lr           float64
	beta1, beta2 float64
	eps          float64
	weightDecay  float64

	params []*nn.Param
	m, v   [][]float64
	step   int
}

// NewAdamW creates an optimizer over params with β1=0.9, β2=0.999, ε=1e-8.
func NewAdamW(params []*nn.Param, lr, weightDecay float64) *AdamW {
	a := &AdamW{
		lr:          lr,
		beta1:       0.9,
		beta2:       0.999,
		eps:         1e-8,
		weightDecay: weightDecay,
		params:      params,
		m:           make([][]float64, len(params)),
		v:           make([][]float64, len(params)),
	}
	for i, p := range params {
		a.m[i] = make([]float64, p.Value.Len())
		a.v[i] = make([]float64, p.Value.Len())
	}
	return a
}

// Step applies one update to every parameter.
func (a *AdamW) Step() {
	a.step++
	bc1 := 1 - math.Pow(a.beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.beta2, float64(a.step))

	for i, p := range a.params {
		m, v := a.m[i], a.v[i]
		w := p.Value.Data
		for j, g32 := range p.Grad.Data {
			g := float64(g32)
			m[j] = a.beta1*m[j] + (1-a.beta1)*g
			v[j] = a.beta2*v[j] + (1-a.beta2)*g*g

			wj := float64(w[j])
			wj -= a.lr * a.weightDecay * wj
			wj -= a.lr * (m[j] / bc1) / (math.Sqrt(v[j]/bc2) + a.eps)
			w[j] = float32(wj)
		}
	}
}

// ZeroGrad clears the gradients of the optimized parameters.
func (a *AdamW) ZeroGrad() {
	nn.ZeroGrad(a.params)
}

// LR returns the current learning rate.
func (a *AdamW) LR() float64 { return a.lr }

// SetLR updates the learning rate.
func (a *AdamW) SetLR(lr float64) { a.lr = lr }

// Params returns the parameters this optimizer updates.
func (a *AdamW) Params() []*nn.Param { return a.params }

// Steps returns how many updates have been applied.
func (a *AdamW) Steps() int { return a.step }
