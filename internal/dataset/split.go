package dataset

import (
	"math"
	"math/rand"
)

// Default split fractions; the test view receives the remainder.
const (
	DefaultTrainFrac = 0.70
	DefaultValFrac   = 0.15
)

// Transform turns an image path into a normalized CHW tensor. rng is nil for
// deterministic transforms.
type Transform interface {
	Transform(path string, rng *rand.Rand) ([]float32, error)
}

// View is an immutable subset of samples paired with the transform used to
// load them.
type View struct {
	samples   []Sample
	transform Transform
}

// NewView copies samples into a view.
func NewView(samples []Sample, t Transform) *View {
	return &View{samples: append([]Sample(nil), samples...), transform: t}
}

// Len returns the number of samples.
func (v *View) Len() int { return len(v.samples) }

// Sample returns sample i.
func (v *View) Sample(i int) Sample { return v.samples[i] }

// Labels returns the label of every sample in order.
func (v *View) Labels() []int {
	labels := make([]int, len(v.samples))
	for i, s := range v.samples {
		labels[i] = s.Label
	}
	return labels
}

// Get loads sample i through the view's transform.
func (v *View) Get(i int, rng *rand.Rand) ([]float32, int, error) {
	s := v.samples[i]
	x, err := v.transform.Transform(s.Path, rng)
	return x, s.Label, err
}

// Split holds the three disjoint views.
type Split struct {
	Train, Val, Test *View
}

// SplitSizes returns the train, validation and test sizes for n samples using
// the default fractions.
func SplitSizes(n int) (train, val, test int) {
	return SplitSizesFrac(n, DefaultTrainFrac, DefaultValFrac)
}

// SplitSizesFrac returns floor(trainFrac*n), floor(valFrac*n) and the rest.
func SplitSizesFrac(n int, trainFrac, valFrac float64) (train, val, test int) {
	train = int(math.Floor(trainFrac * float64(n)))
	val = int(math.Floor(valFrac * float64(n)))
	return train, val, n - train - val
}

// PartitionOptions configures PartitionWith.
type PartitionOptions struct {
	Seed      int64
	TrainFrac float64
	ValFrac   float64
	// Train is used by the training view, Eval by validation and test.
	Train Transform
	Eval  Transform
}

// Partition shuffles samples with seed and splits them 70/15/15.
func Partition(samples []Sample, seed int64, trainT, evalT Transform) Split {
	return PartitionWith(samples, PartitionOptions{
		Seed:      seed,
		TrainFrac: DefaultTrainFrac,
		ValFrac:   DefaultValFrac,
		Train:     trainT,
		Eval:      evalT,
	})
}

// PartitionWith shuffles samples with opts.Seed and splits them by the given
// fractions.
func PartitionWith(samples []Sample, opts PartitionOptions) Split {
	n := len(samples)
	nTrain, nVal, _ := SplitSizesFrac(n, opts.TrainFrac, opts.ValFrac)
	perm := rand.New(rand.NewSource(opts.Seed)).Perm(n)

	pick := func(idx []int) []Sample {
		out := make([]Sample, len(idx))
		for i, j := range idx {
			out[i] = samples[j]
		}
		return out
	}
	return Split{
		Train: NewView(pick(perm[:nTrain]), opts.Train),
		Val:   NewView(pick(perm[nTrain:nTrain+nVal]), opts.Eval),
		Test:  NewView(pick(perm[nTrain+nVal:]), opts.Eval),
	}
}
