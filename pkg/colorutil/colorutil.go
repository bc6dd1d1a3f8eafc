// Package colorutil provides the colours shared by the figures and the
// synthetic data generator.
package colorutil

import (
	"image/color"
	"math"
)

// Figure colours.
var (
	White     = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Bar       = color.RGBA{R: 0x42, G: 0x85, B: 0xF4, A: 255}
	Threshold = color.RGBA{R: 0x55, G: 0x55, B: 0x55, A: 255}
)

// ClassColor returns a distinct, fully saturated colour for class i of n by
// spacing hues evenly around the colour wheel.
func ClassColor(i, n int) color.RGBA {
	if n <= 0 {
		n = 1
	}
	h := 180 * float64(i%n) / float64(n)
	r, g, b := HSVToRGB(h, 200, 220)
	return color.RGBA{R: uint8(math.Round(r)), G: uint8(math.Round(g)), B: uint8(math.Round(b)), A: 255}
}

// RGBToHSV converts RGB (0-255) to HSV (OpenCV convention: H 0-180, S 0-255, V 0-255).
func RGBToHSV(r, g, b float64) (h, s, v float64) {
	r /= 255.0
	g /= 255.0
	b /= 255.0

	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	diff := maxC - minC

	v = maxC * 255.0
	if maxC > 0 {
		s = (diff / maxC) * 255.0
	}

	switch {
	case diff == 0:
		h = 0
	case maxC == r:
		h = 60 * math.Mod((g-b)/diff, 6)
	case maxC == g:
		h = 60 * ((b-r)/diff + 2)
	default:
		h = 60 * ((r-g)/diff + 4)
	}
	if h < 0 {
		h += 360
	}
	return h / 2, s, v
}

// HSVToRGB is the inverse of RGBToHSV.
func HSVToRGB(h, s, v float64) (r, g, b float64) {
	hh := math.Mod(h*2, 360) / 60
	sv := s / 255
	vv := v / 255
	c := vv * sv
	x := c * (1 - math.Abs(math.Mod(hh, 2)-1))
	m := vv - c

	var rr, gg, bb float64
	switch int(hh) {
	case 0:
		rr, gg = c, x
	case 1:
		rr, gg = x, c
	case 2:
		gg, bb = c, x
	case 3:
		gg, bb = x, c
	case 4:
		rr, bb = x, c
	default:
		rr, bb = c, x
	}
	return (rr + m) * 255, (gg + m) * 255, (bb + m) * 255
}
