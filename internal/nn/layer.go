// Package nn implements the layers, losses and parameter bookkeeping used by
// the finger classifier. Layers cache what their backward pass needs from the
// most recent forward call, so a layer instance must not be shared between
// concurrent forward passes.
package nn

import (
	"finger-classifier/internal/tensor"
)

// Param is a trainable tensor together with its accumulated gradient.
type Param struct {
	Name  string
	Value *tensor.Tensor
	Grad  *tensor.Tensor
}

func newParam(name string, shape ...int) *Param {
	return &Param{
		Name:  name,
		Value: tensor.New(shape...),
		Grad:  tensor.New(shape...),
	}
}

// Layer is one differentiable stage of a network.
type Layer interface {
	// Forward computes the layer output. train selects training behaviour
	// for layers such as Dropout.
	Forward(x *tensor.Tensor, train bool) *tensor.Tensor

	// Backward takes the gradient w.r.t. the last output, accumulates
	// parameter gradients and returns the gradient w.r.t. the last input.
	// It may return nil when the input gradient is not needed.
	Backward(dy *tensor.Tensor) *tensor.Tensor

	// Params returns the layer's trainable parameters.
	Params() []*Param
}

// CastFunc rewrites a tensor in place, e.g. to emulate reduced precision.
type CastFunc func(t *tensor.Tensor)

// Sequential chains layers. When Cast is set it is applied to every
// intermediate activation and gradient.
type Sequential struct {
	Layers []Layer
	Cast   CastFunc
}

// NewSequential creates a chain of the given layers.
func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{Layers: layers}
}

// Forward runs x through every layer in order.
func (s *Sequential) Forward(x *tensor.Tensor, train bool) *tensor.Tensor {
	for _, l := range s.Layers {
		x = l.Forward(x, train)
		if s.Cast != nil {
			s.Cast(x)
		}
	}
	return x
}

// Backward propagates dy through the layers in reverse order.
func (s *Sequential) Backward(dy *tensor.Tensor) *tensor.Tensor {
	for i := len(s.Layers) - 1; i >= 0 && dy != nil; i-- {
		dy = s.Layers[i].Backward(dy)
		if dy != nil && s.Cast != nil {
			s.Cast(dy)
		}
	}
	return dy
}

// Params returns all parameters of all layers in order.
func (s *Sequential) Params() []*Param {
	var ps []*Param
	for _, l := range s.Layers {
		ps = append(ps, l.Params()...)
	}
	return ps
}

// ZeroGrad clears the gradients of ps.
func ZeroGrad(ps []*Param) {
	for _, p := range ps {
		p.Grad.Zero()
	}
}
