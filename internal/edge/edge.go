// Package edge computes the non-learned edge-strength features fed to the
// classifier head alongside the backbone embedding.
package edge

import (
	"image"

	"finger-classifier/internal/tensor"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// Luma weights applied to the R, G and B planes.
const (
	wR = 0.2989
	wG = 0.587
	wB = 0.114
)

// Features is the number of values Stats produces per sample.
const Features = 2

// Stats returns a [B,2] tensor holding the mean and unbiased standard
// deviation of the Sobel gradient magnitude of each blurred grayscale image
// in x, a [B,3,H,W] normalized batch.
func Stats(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 || x.Shape[1] != 3 {
		return nil, errors.Errorf("edge: expected [B,3,H,W] input, got %v", x.Shape)
	}
	b, h, w := x.Shape[0], x.Shape[2], x.Shape[3]
	out := tensor.New(b, Features)
	for i := 0; i < b; i++ {
		mean, std, err := sampleStats(x.Row(i), h, w)
		if err != nil {
			return nil, errors.Wrapf(err, "edge stats for sample %d", i)
		}
		out.Data[i*Features] = float32(mean)
		out.Data[i*Features+1] = float32(std)
	}
	return out, nil
}

func sampleStats(chw []float32, h, w int) (float64, float64, error) {
	hw := h * w
	gray := gocv.NewMatWithSize(h, w, gocv.MatTypeCV32F)
	defer gray.Close()
	g, err := gray.DataPtrFloat32()
	if err != nil {
		return 0, 0, err
	}
	for p := 0; p < hw; p++ {
		g[p] = wR*chw[p] + wG*chw[hw+p] + wB*chw[2*hw+p]
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: 5, Y: 5}, 1.0, 1.0, gocv.BorderDefault)

	dx := gocv.NewMat()
	defer dx.Close()
	dy := gocv.NewMat()
	defer dy.Close()
	gocv.Sobel(blurred, &dx, gocv.MatTypeCV32F, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(blurred, &dy, gocv.MatTypeCV32F, 0, 1, 3, 1, 0, gocv.BorderDefault)

	mag := gocv.NewMat()
	defer mag.Close()
	gocv.Magnitude(dx, dy, &mag)

	m, err := mag.DataPtrFloat32()
	if err != nil {
		return 0, 0, err
	}
	vals := make([]float64, len(m))
	for i, v := range m {
		vals[i] = float64(v)
	}
	mean, std := stat.MeanStdDev(vals, nil)
	return mean, std, nil
}
