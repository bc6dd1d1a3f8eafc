package amp

import (
	"math"
	"testing"

	"finger-classifier/internal/nn"
	"finger-classifier/internal/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestHalfRounding(t *testing.T) {
	assert.Equal(t, float32(1), Half(1))
	assert.Equal(t, float32(65504), Half(65504))
	assert.Equal(t, float32(-2.5), Half(-2.5))
	assert.True(t, math.IsInf(float64(Half(70000)), 1))
	assert.True(t, math.IsInf(float64(Half(-70000)), -1))
	assert.Equal(t, float32(0), Half(1e-9))

	// 1 + 2^-11 is exactly halfway between 1 and the next half; ties go to even.
	assert.Equal(t, float32(1), Half(1+1.0/2048))
	assert.Equal(t, float32(1+1.0/1024), Half(1+3.0/4096))

	// Subnormals are quantised to multiples of 2^-24.
	const subnormal = 5.960464477539063e-08
	assert.InDelta(t, 3*subnormal, float64(Half(float32(3.2*subnormal))), 1e-12)
}

func TestHalfMatchesBinary16Encoding(t *testing.T) {
	// 65520 is halfway between the largest finite half and the next step.
	assert.True(t, math.IsInf(float64(Half(65520)), 1))
	assert.Equal(t, float32(65504), Half(65519))

	for _, v := range []float32{0.1, -3.14159, 1e-5, 2049, 1e4} {
		h := float16.Fromfloat32(v)
		assert.Equal(t, h.Float32(), Half(v), "value %v", v)
		assert.Equal(t, h.Bits(), float16.Fromfloat32(Half(v)).Bits(), "value %v is not stable", v)
	}
	assert.Equal(t, float32(2048), Half(2049))
}

func TestHalfPreservesNaN(t *testing.T) {
	assert.True(t, math.IsNaN(float64(Half(float32(math.NaN())))))
}

func param(vals ...float32) *nn.Param {
	return &nn.Param{
		Value: tensor.New(len(vals)),
		Grad:  tensor.FromData(vals, len(vals)),
	}
}

func TestGradScalerBacksOffOnOverflow(t *testing.T) {
	s := NewGradScaler(true, DefaultScalerOptions())
	p := param(float32(math.Inf(1)), 1)

	require.False(t, s.Unscale([]*nn.Param{p}))
	s.Update(false)
	assert.Equal(t, 32768.0, s.Scale())
	assert.Equal(t, 1, s.Skipped())
}

func TestGradScalerGrowsAfterInterval(t *testing.T) {
	opts := DefaultScalerOptions()
	opts.GrowthInterval = 3
	s := NewGradScaler(true, opts)
	for i := 0; i < 3; i++ {
		s.Update(true)
	}
	assert.Equal(t, 131072.0, s.Scale())
}

func TestGradScalerRoundTrip(t *testing.T) {
	s := NewGradScaler(true, DefaultScalerOptions())
	g := tensor.FromData([]float32{1e-6, -2e-6}, 2)
	s.ScaleGrad(g)
	p := &nn.Param{Value: tensor.New(2), Grad: g}
	require.True(t, s.Unscale([]*nn.Param{p}))
	assert.InDelta(t, 1e-6, float64(g.Data[0]), 1e-12)
	assert.InDelta(t, -2e-6, float64(g.Data[1]), 1e-12)
}

func TestDisabledScalerIsPassThrough(t *testing.T) {
	s := NewGradScaler(false, DefaultScalerOptions())
	g := tensor.FromData([]float32{0.5}, 1)
	s.ScaleGrad(g)
	assert.Equal(t, float32(0.5), g.Data[0])
	assert.Equal(t, 1.0, s.Scale())
	s.Update(false)
	assert.Equal(t, 0, s.Skipped())
}
