package train

import "math"

// EarlyStopper tracks the best validation score. A score counts as an
// improvement only when it is strictly greater than the best so far; the
// run should stop once more than Patience epochs pass without one.
type EarlyStopper struct {
	Patience int

	best      float64
	bestEpoch int
	counter   int
}

// NewEarlyStopper creates a stopper whose first observation always improves.
func NewEarlyStopper(patience int) *EarlyStopper {
	return &EarlyStopper{Patience: patience, best: math.Inf(-1)}
}

// Observe records the score of epoch and reports whether it improved.
func (e *EarlyStopper) Observe(epoch int, score float64) bool {
	if score > e.best {
		e.best = score
		e.bestEpoch = epoch
		e.counter = 0
		return true
	}
	e.counter++
	return false
}

// ShouldStop reports whether patience is exhausted.
func (e *EarlyStopper) ShouldStop() bool { return e.counter > e.Patience }

// Best returns the best score and the epoch it was observed in.
func (e *EarlyStopper) Best() (float64, int) { return e.best, e.bestEpoch }

// Counter returns the number of epochs since the last improvement.
func (e *EarlyStopper) Counter() int { return e.counter }
