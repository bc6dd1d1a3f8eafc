package dataset

import (
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Sampler yields the sample order for one epoch.
type Sampler interface {
	Indices() []int
}

// ClassWeights returns 1/count for every class present in labels and 0 for
// absent classes.
func ClassWeights(labels []int, k int) []float64 {
	counts := make([]float64, k)
	for _, l := range labels {
		counts[l]++
	}
	w := make([]float64, k)
	for c, n := range counts {
		if n > 0 {
			w[c] = 1 / n
		}
	}
	return w
}

// WeightedSampler draws len(labels) indices with replacement, each with
// probability proportional to its class weight.
type WeightedSampler struct {
	cum   []float64
	total float64
	rng   *rand.Rand
}

// NewWeightedSampler builds a class-balanced sampler over labels with k
// classes.
func NewWeightedSampler(labels []int, k int, seed int64) *WeightedSampler {
	cw := ClassWeights(labels, k)
	w := make([]float64, len(labels))
	for i, l := range labels {
		w[i] = cw[l]
	}
	cum := floats.CumSum(make([]float64, len(w)), w)
	s := &WeightedSampler{cum: cum, rng: rand.New(rand.NewSource(seed))}
	if len(cum) > 0 {
		s.total = cum[len(cum)-1]
	}
	return s
}

// Indices draws a fresh epoch of indices.
func (s *WeightedSampler) Indices() []int {
	out := make([]int, len(s.cum))
	for i := range out {
		// (0, total] so zero-weight prefixes are never selected.
		u := (1 - s.rng.Float64()) * s.total
		j := sort.SearchFloat64s(s.cum, u)
		if j >= len(s.cum) {
			j = len(s.cum) - 1
		}
		out[i] = j
	}
	return out
}

// SequentialSampler visits 0..N-1 in order.
type SequentialSampler struct {
	N int
}

// Indices returns 0..N-1.
func (s SequentialSampler) Indices() []int {
	out := make([]int, s.N)
	for i := range out {
		out[i] = i
	}
	return out
}
