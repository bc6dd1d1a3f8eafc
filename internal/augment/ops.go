package augment

import (
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// numBins is the number of magnitude bins; bin 30 is the strongest setting.
const numBins = 31

// op is one augmentation. apply returns a new Mat of the same size and type
// as src; the caller closes both.
type op struct {
	name   string
	signed bool
	// strength maps a magnitude bin (0..30) and image size to the op's
	// parameter before sign flipping.
	strength func(bin, size int) float64
	apply    func(src gocv.Mat, v float64) gocv.Mat
}

func scaled(limit float64) func(bin, size int) float64 {
	return func(bin, _ int) float64 { return limit * float64(bin) / (numBins - 1) }
}

func none(int, int) float64 { return 0 }

// ops is the augmentation policy space.
var ops = []op{
	{name: "Identity", strength: none, apply: identity},
	{name: "ShearX", signed: true, strength: scaled(0.3), apply: shearX},
	{name: "ShearY", signed: true, strength: scaled(0.3), apply: shearY},
	{name: "TranslateX", signed: true, strength: translateStrength, apply: translateX},
	{name: "TranslateY", signed: true, strength: translateStrength, apply: translateY},
	{name: "Rotate", signed: true, strength: scaled(30), apply: rotate},
	{name: "Brightness", signed: true, strength: scaled(0.9), apply: brightness},
	{name: "Color", signed: true, strength: scaled(0.9), apply: saturation},
	{name: "Contrast", signed: true, strength: scaled(0.9), apply: contrast},
	{name: "Sharpness", signed: true, strength: scaled(0.9), apply: sharpness},
	{name: "Posterize", strength: posterizeBits, apply: posterize},
	{name: "Solarize", strength: solarizeThreshold, apply: solarize},
	{name: "AutoContrast", strength: none, apply: autoContrast},
	{name: "Equalize", strength: none, apply: equalize},
}

func translateStrength(bin, size int) float64 {
	return 150.0 / 331.0 * float64(size) * float64(bin) / (numBins - 1)
}

func posterizeBits(bin, _ int) float64 {
	return 8 - math.Round(float64(bin)/((numBins-1)/4.0))
}

func solarizeThreshold(bin, _ int) float64 {
	return 255 * (1 - float64(bin)/(numBins-1))
}

func identity(src gocv.Mat, _ float64) gocv.Mat {
	return src.Clone()
}

// warp applies the 2x3 affine matrix [a b c; d e f] with nearest-neighbour
// sampling and a black border.
func warp(src gocv.Mat, a, b, c, d, e, f float64) gocv.Mat {
	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	defer m.Close()
	m.SetDoubleAt(0, 0, a)
	m.SetDoubleAt(0, 1, b)
	m.SetDoubleAt(0, 2, c)
	m.SetDoubleAt(1, 0, d)
	m.SetDoubleAt(1, 1, e)
	m.SetDoubleAt(1, 2, f)

	dst := gocv.NewMat()
	gocv.WarpAffineWithParams(src, &dst, m, image.Point{X: src.Cols(), Y: src.Rows()},
		gocv.InterpolationNearestNeighbor, gocv.BorderConstant, color.RGBA{})
	return dst
}

func shearX(src gocv.Mat, v float64) gocv.Mat { return warp(src, 1, v, 0, 0, 1, 0) }

func shearY(src gocv.Mat, v float64) gocv.Mat { return warp(src, 1, 0, 0, v, 1, 0) }

func translateX(src gocv.Mat, v float64) gocv.Mat { return warp(src, 1, 0, v, 0, 1, 0) }

func translateY(src gocv.Mat, v float64) gocv.Mat { return warp(src, 1, 0, 0, 0, 1, v) }

func rotate(src gocv.Mat, deg float64) gocv.Mat {
	center := image.Point{X: src.Cols() / 2, Y: src.Rows() / 2}
	m := gocv.GetRotationMatrix2D(center, deg, 1.0)
	defer m.Close()

	dst := gocv.NewMat()
	gocv.WarpAffineWithParams(src, &dst, m, image.Point{X: src.Cols(), Y: src.Rows()},
		gocv.InterpolationNearestNeighbor, gocv.BorderConstant, color.RGBA{})
	return dst
}

// blend returns ratio*src + (1-ratio)*other, saturated to 8 bits.
func blend(src, other gocv.Mat, ratio float64) gocv.Mat {
	dst := gocv.NewMat()
	gocv.AddWeighted(src, ratio, other, 1-ratio, 0, &dst)
	return dst
}

func grayBGR(src gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	out := gocv.NewMat()
	gocv.CvtColor(gray, &out, gocv.ColorGrayToBGR)
	return out
}

func brightness(src gocv.Mat, v float64) gocv.Mat {
	black := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), src.Rows(), src.Cols(), src.Type())
	defer black.Close()
	return blend(src, black, 1+v)
}

func saturation(src gocv.Mat, v float64) gocv.Mat {
	gray := grayBGR(src)
	defer gray.Close()
	return blend(src, gray, 1+v)
}

func contrast(src gocv.Mat, v float64) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	mean := gray.Mean().Val1

	flat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(mean, mean, mean, 0), src.Rows(), src.Cols(), src.Type())
	defer flat.Close()
	return blend(src, flat, 1+v)
}

func sharpness(src gocv.Mat, v float64) gocv.Mat {
	smooth := gocv.NewMat()
	defer smooth.Close()
	gocv.GaussianBlur(src, &smooth, image.Point{X: 3, Y: 3}, 0, 0, gocv.BorderDefault)
	return blend(src, smooth, 1+v)
}

// mapBytes applies fn to every channel value of a BGR Mat.
func mapBytes(src gocv.Mat, fn func(uint8) uint8) gocv.Mat {
	data := src.ToBytes()
	for i, v := range data {
		data[i] = fn(v)
	}
	dst, err := gocv.NewMatFromBytes(src.Rows(), src.Cols(), src.Type(), data)
	if err != nil {
		return src.Clone()
	}
	defer dst.Close()
	return dst.Clone()
}

func posterize(src gocv.Mat, bits float64) gocv.Mat {
	mask := uint8(0xFF << (8 - uint(bits)))
	return mapBytes(src, func(v uint8) uint8 { return v & mask })
}

func solarize(src gocv.Mat, threshold float64) gocv.Mat {
	return mapBytes(src, func(v uint8) uint8 {
		if float64(v) >= threshold {
			return 255 - v
		}
		return v
	})
}

// perChannel runs fn on each channel and merges the results.
func perChannel(src gocv.Mat, fn func(ch gocv.Mat) gocv.Mat) gocv.Mat {
	channels := gocv.Split(src)
	out := make([]gocv.Mat, len(channels))
	for i, ch := range channels {
		out[i] = fn(ch)
		ch.Close()
	}
	dst := gocv.NewMat()
	gocv.Merge(out, &dst)
	for _, m := range out {
		m.Close()
	}
	return dst
}

func autoContrast(src gocv.Mat, _ float64) gocv.Mat {
	return perChannel(src, func(ch gocv.Mat) gocv.Mat {
		lo, hi, _, _ := gocv.MinMaxLoc(ch)
		if hi <= lo {
			return ch.Clone()
		}
		scale := 255.0 / float64(hi-lo)
		dst := gocv.NewMat()
		gocv.ConvertScaleAbs(ch, &dst, scale, -float64(lo)*scale)
		return dst
	})
}

func equalize(src gocv.Mat, _ float64) gocv.Mat {
	return perChannel(src, func(ch gocv.Mat) gocv.Mat {
		dst := gocv.NewMat()
		gocv.EqualizeHist(ch, &dst)
		return dst
	})
}
