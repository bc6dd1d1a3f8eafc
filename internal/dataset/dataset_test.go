package dataset

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
}

func TestLabelBijection(t *testing.T) {
	seen := map[int]bool{}
	for i, name := range FingerNames {
		label, ok := LabelFor("1__M_Left_" + strings.ToUpper(name) + "_finger.BMP")
		require.True(t, ok)
		assert.Equal(t, i, label)
		seen[label] = true
	}
	assert.Len(t, seen, NumClasses)
}

func TestLabelEarliestToken(t *testing.T) {
	label, ok := LabelFor("ring_then_thumb.png")
	require.True(t, ok)
	assert.Equal(t, 3, label)

	_, ok = LabelFor("palm.png")
	assert.False(t, ok)
}

func TestIndex(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	touch(t, a, "1__M_Left_thumb_finger.bmp")
	touch(t, a, "1__M_Left_index_finger.PNG")
	touch(t, a, "notes_thumb.txt")
	touch(t, a, "unlabelled.bmp")
	require.NoError(t, os.Mkdir(filepath.Join(a, "little_dir"), 0o755))
	touch(t, filepath.Join(a, "little_dir"), "2__F_Right_little_finger.bmp")
	touch(t, b, "3__M_Right_ring_finger_CR.tif")

	samples, err := Index([]string{a, filepath.Join(a, "missing"), b})
	require.NoError(t, err)
	require.Len(t, samples, 3)

	assert.Equal(t, 1, samples[0].Label) // sorted: "1__M_Left_index..." < "1__M_Left_thumb..."
	assert.Equal(t, 0, samples[1].Label)
	assert.Equal(t, 3, samples[2].Label)
	assert.Equal(t, [NumClasses]int{1, 1, 0, 1, 0}, Counts(samples))
}

func TestIndexEmpty(t *testing.T) {
	_, err := Index([]string{t.TempDir(), "/does/not/exist"})
	require.Error(t, err)
	assert.Equal(t, ErrNoSamples, errors.Cause(err))
}

func TestSplitSizes(t *testing.T) {
	tr, va, te := SplitSizes(50)
	assert.Equal(t, []int{35, 7, 8}, []int{tr, va, te})

	for n := 0; n < 200; n++ {
		tr, va, te := SplitSizes(n)
		assert.Equal(t, n, tr+va+te)
		assert.GreaterOrEqual(t, te, 0)
	}
}

func makeSamples(n int) []Sample {
	out := make([]Sample, n)
	for i := range out {
		out[i] = Sample{Path: fmt.Sprintf("s%d", i), Label: i % NumClasses}
	}
	return out
}

func TestPartitionDisjointDeterministic(t *testing.T) {
	samples := makeSamples(50)
	s1 := Partition(samples, 42, nil, nil)
	s2 := Partition(samples, 42, nil, nil)

	assert.Equal(t, 35, s1.Train.Len())
	assert.Equal(t, 7, s1.Val.Len())
	assert.Equal(t, 8, s1.Test.Len())

	seen := map[string]bool{}
	for _, v := range []*View{s1.Train, s1.Val, s1.Test} {
		for _, p := range viewPaths(v) {
			assert.False(t, seen[p], "duplicate %s", p)
			seen[p] = true
		}
	}
	assert.Len(t, seen, 50)
	assert.Equal(t, viewPaths(s1.Train), viewPaths(s2.Train))
	assert.Equal(t, viewPaths(s1.Test), viewPaths(s2.Test))

	s3 := Partition(samples, 7, nil, nil)
	assert.NotEqual(t, viewPaths(s1.Train), viewPaths(s3.Train))
}

func viewPaths(v *View) []string {
	paths := make([]string, v.Len())
	for i := range paths {
		paths[i] = v.Sample(i).Path
	}
	return paths
}

func TestViewOwnsItsSamples(t *testing.T) {
	samples := makeSamples(3)
	v := NewView(samples, nil)
	samples[0].Label = 4
	assert.Equal(t, 0, v.Sample(0).Label)
}

func TestClassWeights(t *testing.T) {
	w := ClassWeights([]int{0, 0, 1, 3, 3, 3, 3}, 5)
	assert.InDeltaSlice(t, []float64{0.5, 1, 0, 0.25, 0}, w, 1e-12)
}

func TestWeightedSamplerBalances(t *testing.T) {
	labels := make([]int, 100)
	for i := 90; i < 100; i++ {
		labels[i] = 1
	}
	s := NewWeightedSampler(labels, 2, 1)

	var minority, total int
	for e := 0; e < 50; e++ {
		idx := s.Indices()
		require.Len(t, idx, 100)
		for _, i := range idx {
			if labels[i] == 1 {
				minority++
			}
			total++
		}
	}
	assert.InDelta(t, 0.5, float64(minority)/float64(total), 0.05)
}

func TestSequentialSampler(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, SequentialSampler{N: 3}.Indices())
}

// pathValue encodes the sample number as every pixel value.
type pathValue struct {
	fail string
}

func (p pathValue) Transform(path string, _ *rand.Rand) ([]float32, error) {
	if path == p.fail {
		return nil, errors.New("corrupt image")
	}
	n, err := strconv.Atoi(strings.TrimPrefix(path, "s"))
	if err != nil {
		return nil, err
	}
	return []float32{float32(n), float32(n), float32(n)}, nil
}

func TestLoaderDeliversInOrder(t *testing.T) {
	v := NewView(makeSamples(23), pathValue{})
	l := NewLoader(v, SequentialSampler{N: v.Len()}, LoaderOptions{BatchSize: 5, Workers: 3, ImgSize: 1})
	require.Equal(t, 5, l.NumBatches())

	var got []int
	err := l.Each(context.Background(), func(b Batch) error {
		assert.Equal(t, len(got)/5, b.Index)
		assert.Equal(t, []int{len(b.Labels), 3, 1, 1}, b.X.Shape)
		for j, i := range b.Indices {
			assert.Equal(t, float32(i), b.X.Row(j)[0])
			assert.Equal(t, i%NumClasses, b.Labels[j])
			got = append(got, i)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, SequentialSampler{N: 23}.Indices(), got)
}

func TestLoaderStopsOnError(t *testing.T) {
	v := NewView(makeSamples(40), pathValue{fail: "s12"})
	l := NewLoader(v, SequentialSampler{N: v.Len()}, LoaderOptions{BatchSize: 4, Workers: 2, ImgSize: 1})

	batches := 0
	err := l.Each(context.Background(), func(Batch) error { batches++; return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s12")
	assert.Equal(t, 3, batches)
}

func TestLoaderHonoursCancel(t *testing.T) {
	v := NewView(makeSamples(40), pathValue{})
	l := NewLoader(v, SequentialSampler{N: v.Len()}, LoaderOptions{BatchSize: 4, Workers: 2, ImgSize: 1})

	ctx, cancel := context.WithCancel(context.Background())
	batches := 0
	err := l.Each(ctx, func(Batch) error {
		batches++
		if batches == 2 {
			cancel()
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, batches)
}

func TestLoaderWrongSize(t *testing.T) {
	v := NewView(makeSamples(4), pathValue{})
	l := NewLoader(v, SequentialSampler{N: v.Len()}, LoaderOptions{BatchSize: 4, Workers: 1, ImgSize: 2})
	assert.Error(t, l.Each(context.Background(), func(Batch) error { return nil }))
}
