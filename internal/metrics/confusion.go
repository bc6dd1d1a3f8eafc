// Package metrics accumulates a confusion matrix and derives the
// classification scores used for model selection and reporting.
package metrics

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Confusion counts predictions; rows are true labels, columns predictions.
type Confusion struct {
	k int
	m *mat.Dense
}

// NewConfusion creates an empty k×k matrix.
func NewConfusion(k int) *Confusion {
	return &Confusion{k: k, m: mat.NewDense(k, k, nil)}
}

// Add records one prediction.
func (c *Confusion) Add(truth, pred int) {
	c.m.Set(truth, pred, c.m.At(truth, pred)+1)
}

// AddBatch records paired slices of labels and predictions.
func (c *Confusion) AddBatch(truth, pred []int) {
	for i := range truth {
		c.Add(truth[i], pred[i])
	}
}

// Total returns the number of recorded predictions.
func (c *Confusion) Total() float64 { return mat.Sum(c.m) }

// Count returns the raw cell value.
func (c *Confusion) Count(truth, pred int) float64 { return c.m.At(truth, pred) }

// Accuracy is the trace over the total, or 0 when empty.
func (c *Confusion) Accuracy() float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}
	return mat.Trace(c.m) / total
}

// ClassScores holds per-class precision, recall and F1. Undefined ratios
// are reported as 0.
type ClassScores struct {
	Precision, Recall, F1 float64
	Support               int
}

// PerClass returns the scores of every class.
func (c *Confusion) PerClass() []ClassScores {
	out := make([]ClassScores, c.k)
	for i := 0; i < c.k; i++ {
		tp := c.m.At(i, i)
		rowSum := floats.Sum(mat.Row(nil, i, c.m))
		colSum := floats.Sum(mat.Col(nil, i, c.m))
		s := ClassScores{Support: int(rowSum)}
		if colSum > 0 {
			s.Precision = tp / colSum
		}
		if rowSum > 0 {
			s.Recall = tp / rowSum
		}
		if s.Precision+s.Recall > 0 {
			s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
		}
		out[i] = s
	}
	return out
}

// MacroF1 is the unweighted mean of per-class F1 over all k classes.
func (c *Confusion) MacroF1() float64 {
	var sum float64
	for _, s := range c.PerClass() {
		sum += s.F1
	}
	return sum / float64(c.k)
}

// MacroRecall is the unweighted mean of per-class recall over all k classes.
func (c *Confusion) MacroRecall() float64 {
	var sum float64
	for _, s := range c.PerClass() {
		sum += s.Recall
	}
	return sum / float64(c.k)
}

// Normalized returns the row-normalized matrix. Rows without samples stay
// zero.
func (c *Confusion) Normalized() *mat.Dense {
	out := mat.DenseCopyOf(c.m)
	for i := 0; i < c.k; i++ {
		row := out.RawRowView(i)
		if sum := floats.Sum(row); sum > 0 {
			floats.Scale(1/sum, row)
		}
	}
	return out
}
