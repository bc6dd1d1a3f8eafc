package colorutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHSVRoundTrip(t *testing.T) {
	for _, c := range [][3]float64{{255, 0, 0}, {0, 255, 0}, {0, 0, 255}, {12, 200, 90}, {128, 128, 128}, {250, 10, 130}} {
		h, s, v := RGBToHSV(c[0], c[1], c[2])
		r, g, b := HSVToRGB(h, s, v)
		assert.InDelta(t, c[0], r, 1e-6, "%v", c)
		assert.InDelta(t, c[1], g, 1e-6, "%v", c)
		assert.InDelta(t, c[2], b, 1e-6, "%v", c)
	}
}

func TestRedIsHueZero(t *testing.T) {
	h, s, v := RGBToHSV(255, 0, 0)
	assert.Equal(t, 0.0, h)
	assert.Equal(t, 255.0, s)
	assert.Equal(t, 255.0, v)
}

func TestClassColorsDistinct(t *testing.T) {
	seen := map[[3]uint8]bool{}
	for i := 0; i < 5; i++ {
		c := ClassColor(i, 5)
		key := [3]uint8{c.R, c.G, c.B}
		assert.False(t, seen[key])
		seen[key] = true
		assert.Equal(t, uint8(255), c.A)
	}
}
