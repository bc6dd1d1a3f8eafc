// Package image provides fingerprint image decoding, conversion between Go
// images and OpenCV matrices, and a cache of decoded, resized images.
package image

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// SupportedExtensions lists the file extensions accepted by the dataset
// scanner, lower-cased and including the dot.
var SupportedExtensions = []string{".bmp", ".png", ".jpg", ".jpeg", ".tif", ".tiff"}

// IsSupported reports whether path has one of SupportedExtensions
// (case-insensitive).
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Load decodes an image file into a 3-channel BGR Mat. OpenCV is tried
// first; files it cannot read fall back to the Go decoders.
// The caller owns the returned Mat.
func Load(path string) (gocv.Mat, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if !mat.Empty() {
		return mat, nil
	}
	mat.Close()

	file, err := os.Open(path)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "failed to open image")
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return gocv.NewMat(), errors.Wrapf(err, "failed to decode image %s", path)
	}
	return ImageToMat(img), nil
}

// ImageToMat converts a Go image to a BGR Mat, filling rows in parallel.
func ImageToMat(img image.Image) gocv.Mat {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)

	numWorkers := runtime.NumCPU()
	rowsPerWorker := (height + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		startY := w * rowsPerWorker
		endY := startY + rowsPerWorker
		if endY > height {
			endY = height
		}
		if startY >= height {
			break
		}

		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			for y := yStart; y < yEnd; y++ {
				for x := 0; x < width; x++ {
					r, g, b, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
					mat.SetUCharAt(y, x*3+0, uint8(b>>8))
					mat.SetUCharAt(y, x*3+1, uint8(g>>8))
					mat.SetUCharAt(y, x*3+2, uint8(r>>8))
				}
			}
		}(startY, endY)
	}
	wg.Wait()

	return mat
}

// MatToImage converts a BGR Mat to an RGBA Go image.
func MatToImage(mat gocv.Mat) *image.RGBA {
	h := mat.Rows()
	w := mat.Cols()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			off := row + x*4
			img.Pix[off+0] = mat.GetUCharAt(y, x*3+2)
			img.Pix[off+1] = mat.GetUCharAt(y, x*3+1)
			img.Pix[off+2] = mat.GetUCharAt(y, x*3+0)
			img.Pix[off+3] = 255
		}
	}
	return img
}

// Resize scales src to size×size with bilinear interpolation.
func Resize(src gocv.Mat, size int) gocv.Mat {
	dst := gocv.NewMat()
	gocv.Resize(src, &dst, image.Point{X: size, Y: size}, 0, 0, gocv.InterpolationLinear)
	return dst
}

// FromBGR builds an owned Mat from packed BGR bytes.
func FromBGR(data []byte, rows, cols int) (gocv.Mat, error) {
	view, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8UC3, data)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "failed to wrap image bytes")
	}
	owned := view.Clone()
	view.Close()
	runtime.KeepAlive(data)
	return owned, nil
}
