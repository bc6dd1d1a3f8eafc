package dataset

import (
	"context"
	"math"
	"math/rand"

	"finger-classifier/internal/tensor"

	"github.com/gammazero/workerpool"
	"github.com/pkg/errors"
)

// Batch is one assembled mini-batch.
type Batch struct {
	Index   int            // position within the epoch
	X       *tensor.Tensor // [B,3,S,S]
	Labels  []int
	Indices []int // view indices of the samples
}

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	BatchSize int
	Workers   int
	ImgSize   int
	Seed      int64
}

// Loader assembles batches from a view on a worker pool and hands them to
// the caller in order.
type Loader struct {
	view    *View
	sampler Sampler
	opts    LoaderOptions
	rng     *rand.Rand
}

// NewLoader creates a loader. Workers below 1 is treated as 1.
func NewLoader(view *View, sampler Sampler, opts LoaderOptions) *Loader {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	return &Loader{
		view:    view,
		sampler: sampler,
		opts:    opts,
		rng:     rand.New(rand.NewSource(opts.Seed)),
	}
}

// View returns the underlying view.
func (l *Loader) View() *View { return l.view }

// ImgSize returns the side length the view's transform is expected to yield.
func (l *Loader) ImgSize() int { return l.opts.ImgSize }

// NumBatches returns the number of batches in one epoch.
func (l *Loader) NumBatches() int {
	return int(math.Ceil(float64(l.view.Len()) / float64(l.opts.BatchSize)))
}

type loaded struct {
	batch Batch
	err   error
}

// Each runs one epoch, calling fn for every batch in order. Loading stops at
// the first error from a transform, from fn or from ctx.
func (l *Loader) Each(ctx context.Context, fn func(Batch) error) error {
	order := l.sampler.Indices()
	var chunks [][]int
	for start := 0; start < len(order); start += l.opts.BatchSize {
		end := start + l.opts.BatchSize
		if end > len(order) {
			end = len(order)
		}
		chunks = append(chunks, order[start:end])
	}
	// Seeds are drawn here so results do not depend on worker scheduling.
	seeds := make([]int64, len(chunks))
	for i := range seeds {
		seeds[i] = l.rng.Int63()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := workerpool.New(l.opts.Workers)
	defer pool.Stop()

	results := make([]chan loaded, len(chunks))
	for i := range results {
		results[i] = make(chan loaded, 1)
	}
	submit := func(i int) {
		pool.Submit(func() {
			if ctx.Err() != nil {
				results[i] <- loaded{err: ctx.Err()}
				return
			}
			b, err := l.assemble(i, chunks[i], seeds[i])
			results[i] <- loaded{batch: b, err: err}
		})
	}

	window := 2 * l.opts.Workers
	next := 0
	for ; next < len(chunks) && next < window; next++ {
		submit(next)
	}

	for i := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		var r loaded
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r = <-results[i]:
		}
		if r.err != nil {
			return r.err
		}
		if next < len(chunks) {
			submit(next)
			next++
		}
		if err := fn(r.batch); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) assemble(index int, idx []int, seed int64) (Batch, error) {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float32, len(idx))
	labels := make([]int, len(idx))
	for j, i := range idx {
		x, label, err := l.view.Get(i, rng)
		if err != nil {
			return Batch{}, errors.Wrapf(err, "failed to load %s", l.view.Sample(i).Path)
		}
		if len(x) != 3*l.opts.ImgSize*l.opts.ImgSize {
			return Batch{}, errors.Errorf("transform of %s produced %d values, want %d",
				l.view.Sample(i).Path, len(x), 3*l.opts.ImgSize*l.opts.ImgSize)
		}
		rows[j] = x
		labels[j] = label
	}
	s := l.opts.ImgSize
	return Batch{
		Index:   index,
		X:       tensor.Stack(rows, 3, s, s),
		Labels:  labels,
		Indices: append([]int(nil), idx...),
	}, nil
}
