// Package augment turns fingerprint image files into normalized CHW float
// tensors, either deterministically (evaluation) or with random augmentation
// (training).
package augment

import (
	"math/rand"

	fpimage "finger-classifier/internal/image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ImageNet channel statistics in RGB order.
var (
	Mean = [3]float32{0.485, 0.456, 0.406}
	Std  = [3]float32{0.229, 0.224, 0.225}
)

// Pipeline loads, resizes, optionally augments and normalizes one image.
// A Pipeline is immutable and safe for concurrent use; randomness comes from
// the rng passed to Transform.
type Pipeline struct {
	size      int
	numOps    int
	magnitude int
	cache     *fpimage.Cache
}

// NewEval returns the deterministic pipeline: resize then normalize.
func NewEval(size int, cache *fpimage.Cache) *Pipeline {
	return &Pipeline{size: size, cache: cache}
}

// NewTrain returns the stochastic pipeline applying numOps random operations
// at the given magnitude bin (0..30) between resize and normalize.
func NewTrain(size, numOps, magnitude int, cache *fpimage.Cache) *Pipeline {
	return &Pipeline{size: size, numOps: numOps, magnitude: magnitude, cache: cache}
}

// Size returns the output edge length.
func (p *Pipeline) Size() int { return p.size }

// Stochastic reports whether Transform draws from its rng.
func (p *Pipeline) Stochastic() bool { return p.numOps > 0 }

// Transform loads path and returns a [3*size*size] RGB tensor in CHW order.
// rng may be nil for a deterministic pipeline.
func (p *Pipeline) Transform(path string, rng *rand.Rand) ([]float32, error) {
	mat, err := p.cache.LoadResized(path, p.size)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	return p.TransformMat(mat, rng)
}

// TransformMat applies augmentation and normalization to an already resized
// BGR Mat.
func (p *Pipeline) TransformMat(mat gocv.Mat, rng *rand.Rand) ([]float32, error) {
	if mat.Rows() != p.size || mat.Cols() != p.size {
		resized := fpimage.Resize(mat, p.size)
		defer resized.Close()
		mat = resized
	}
	if p.Stochastic() {
		if rng == nil {
			return nil, errors.New("augment: stochastic pipeline needs an rng")
		}
		aug := p.augment(mat, rng)
		defer aug.Close()
		return Normalize(aug), nil
	}
	return Normalize(mat), nil
}

func (p *Pipeline) augment(src gocv.Mat, rng *rand.Rand) gocv.Mat {
	cur := src.Clone()
	for i := 0; i < p.numOps; i++ {
		o := ops[rng.Intn(len(ops))]
		v := o.strength(p.magnitude, p.size)
		if o.signed && rng.Intn(2) == 0 {
			v = -v
		}
		next := o.apply(cur, v)
		cur.Close()
		cur = next
	}
	return cur
}

// Normalize converts a BGR 8-bit Mat into an ImageNet-normalized RGB CHW
// slice.
func Normalize(mat gocv.Mat) []float32 {
	h, w := mat.Rows(), mat.Cols()
	hw := h * w
	data := mat.ToBytes()
	out := make([]float32, 3*hw)
	for i := 0; i < hw; i++ {
		b, g, r := data[i*3], data[i*3+1], data[i*3+2]
		out[i] = (float32(r)/255 - Mean[0]) / Std[0]
		out[hw+i] = (float32(g)/255 - Mean[1]) / Std[1]
		out[2*hw+i] = (float32(b)/255 - Mean[2]) / Std[2]
	}
	return out
}
