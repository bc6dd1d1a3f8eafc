package amp

import (
	"finger-classifier/internal/nn"
	"finger-classifier/internal/tensor"
)

// ScalerOptions configures dynamic loss scaling.
type ScalerOptions struct {
	InitScale      float64
	GrowthFactor   float64
	BackoffFactor  float64
	GrowthInterval int
}

// DefaultScalerOptions mirrors the usual float16 loss-scaling schedule.
func DefaultScalerOptions() ScalerOptions {
	return ScalerOptions{
		InitScale:      65536,
		GrowthFactor:   2,
		BackoffFactor:  0.5,
		GrowthInterval: 2000,
	}
}

// GradScaler multiplies the loss gradient by a dynamic scale before the
// backward pass, unscales parameter gradients afterwards, and skips optimizer
// steps whose gradients overflowed. A disabled scaler is a no-op that always
// allows the step.
type GradScaler struct {
	enabled bool
	opts    ScalerOptions
	scale   float64
	streak  int
	skipped int
}

// NewGradScaler creates a scaler. When enabled is false every method is a
// pass-through.
func NewGradScaler(enabled bool, opts ScalerOptions) *GradScaler {
	return &GradScaler{enabled: enabled, opts: opts, scale: opts.InitScale}
}

// Enabled reports whether loss scaling is active.
func (s *GradScaler) Enabled() bool { return s.enabled }

// Scale returns the current loss scale (1 when disabled).
func (s *GradScaler) Scale() float64 {
	if !s.enabled {
		return 1
	}
	return s.scale
}

// Skipped returns how many steps have been skipped due to overflow.
func (s *GradScaler) Skipped() int { return s.skipped }

// ScaleGrad multiplies the loss gradient in place by the current scale.
func (s *GradScaler) ScaleGrad(g *tensor.Tensor) {
	if !s.enabled {
		return
	}
	g.Scale(float32(s.scale))
}

// Unscale divides every parameter gradient by the current scale and reports
// whether all gradients are finite.
func (s *GradScaler) Unscale(params []*nn.Param) bool {
	finite := true
	inv := float32(1 / s.Scale())
	for _, p := range params {
		if s.enabled {
			p.Grad.Scale(inv)
		}
		if !p.Grad.AllFinite() {
			finite = false
		}
	}
	return finite
}

// Update adjusts the scale after a step. finite is the result of Unscale.
func (s *GradScaler) Update(finite bool) {
	if !s.enabled {
		return
	}
	if !finite {
		s.scale *= s.opts.BackoffFactor
		s.streak = 0
		s.skipped++
		return
	}
	s.streak++
	if s.streak >= s.opts.GrowthInterval {
		s.scale *= s.opts.GrowthFactor
		s.streak = 0
	}
}
