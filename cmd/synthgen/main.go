// Command synthgen writes a small synthetic fingerprint dataset laid out like
// SOCOFing, for smoke-testing the training pipeline without the real data.
// Each finger gets its own base colour and ridge orientation.
//
// Usage: synthgen -out SOCOFing [-n 10] [-size 96] [-altered]
package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"finger-classifier/internal/dataset"
	"finger-classifier/pkg/colorutil"

	"github.com/pkg/errors"
	"golang.org/x/image/bmp"
)

func main() {
	outDir := flag.String("out", "SOCOFing", "Output root directory")
	perFinger := flag.Int("n", 10, "Images per finger")
	size := flag.Int("size", 96, "Image edge length in pixels")
	seed := flag.Int64("seed", 1, "Random seed")
	altered := flag.Bool("altered", false, "Also write noisy copies under Altered/Altered-Easy")
	flag.Parse()

	if *perFinger <= 0 || *size < 8 {
		fmt.Println("Usage: synthgen -out <dir> [-n 10] [-size 96] [-altered]")
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))
	realDir := filepath.Join(*outDir, "Real")
	easy := filepath.Join(*outDir, "Altered", "Altered-Easy")
	dirs := []string{realDir}
	if *altered {
		dirs = append(dirs, easy)
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", d, err)
			os.Exit(1)
		}
	}

	written := 0
	for label, finger := range dataset.FingerNames {
		for i := 0; i < *perFinger; i++ {
			hand := "Left"
			if i%2 == 1 {
				hand = "Right"
			}
			sex := "M"
			if i%3 == 0 {
				sex = "F"
			}
			name := fmt.Sprintf("%d__%s_%s_%s_finger", i+1, sex, hand, finger)
			img := ridges(*size, label, rng)

			if err := writeBMP(filepath.Join(realDir, name+".BMP"), img); err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				os.Exit(1)
			}
			written++
			if *altered {
				addNoise(img, 40, rng)
				if err := writeBMP(filepath.Join(easy, name+"_CR.BMP"), img); err != nil {
					fmt.Fprintf(os.Stderr, "%v\n", err)
					os.Exit(1)
				}
				written++
			}
		}
	}
	fmt.Printf("Wrote %d images under %s\n", written, *outDir)
}

// ridges draws a sinusoidal ridge pattern whose orientation and tint depend
// on the finger label.
func ridges(size, label int, rng *rand.Rand) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	base := colorutil.ClassColor(label, dataset.NumClasses)
	theta := float64(label)*math.Pi/float64(dataset.NumClasses) + rng.Float64()*0.2
	period := 6 + rng.Float64()*2
	phase := rng.Float64() * 2 * math.Pi
	cos, sin := math.Cos(theta), math.Sin(theta)

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			t := (float64(x)*cos + float64(y)*sin) * 2 * math.Pi / period
			v := 0.6 + 0.4*math.Sin(t+phase)
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(float64(base.R) * v),
				G: uint8(float64(base.G) * v),
				B: uint8(float64(base.B) * v),
				A: 255,
			})
		}
	}
	return img
}

func addNoise(img *image.RGBA, amp int, rng *rand.Rand) {
	for i := 0; i < len(img.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			v := int(img.Pix[i+c]) + rng.Intn(2*amp+1) - amp
			if v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			img.Pix[i+c] = uint8(v)
		}
	}
}

func writeBMP(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := bmp.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	return errors.Wrapf(f.Close(), "failed to close %s", path)
}
