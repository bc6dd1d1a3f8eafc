package nn

import (
	"fmt"
	"math"

	"finger-classifier/internal/tensor"
)

// CrossEntropy returns the mean label-smoothed cross-entropy over a batch of
// logits [N, K] together with its gradient w.r.t. the logits.
//
// The smoothed target puts 1-smoothing+smoothing/K on the true class and
// smoothing/K on every other class.
func CrossEntropy(logits *tensor.Tensor, labels []int, smoothing float64) (float64, *tensor.Tensor) {
	n, k := logits.Shape[0], logits.Shape[1]
	if len(labels) != n {
		panic(fmt.Sprintf("cross entropy: %d labels for %d rows", len(labels), n))
	}
	grad := tensor.New(n, k)
	off := smoothing / float64(k)
	on := 1 - smoothing + off

	var total float64
	for i := 0; i < n; i++ {
		row := logits.Row(i)
		p := tensor.Softmax(row)
		g := grad.Row(i)
		for j := 0; j < k; j++ {
			q := off
			if j == labels[i] {
				q = on
			}
			total -= q * math.Log(math.Max(p[j], 1e-12))
			g[j] = float32((p[j] - q) / float64(n))
		}
	}
	return total / float64(n), grad
}
