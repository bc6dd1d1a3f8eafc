// Package amp emulates mixed-precision training on the CPU: activations and
// gradients are rounded to IEEE binary16 and a dynamic loss scaler keeps small
// gradients from flushing to zero.
package amp

import (
	"finger-classifier/internal/tensor"

	"github.com/x448/float16"
)

// Half rounds v to the nearest binary16 value (ties to even) and returns it
// widened back to float32. Values beyond the binary16 range become ±Inf and
// values below half the smallest subnormal become signed zero.
func Half(v float32) float32 {
	return float16.Fromfloat32(v).Float32()
}

// CastHalf rounds every element of t to binary16 precision in place.
func CastHalf(t *tensor.Tensor) {
	for i, v := range t.Data {
		t.Data[i] = Half(v)
	}
}
