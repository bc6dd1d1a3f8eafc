// Package report evaluates a trained model on held-out data, predicts single
// images and renders the figures that summarise a run.
package report

import (
	"context"

	"finger-classifier/internal/checkpoint"
	"finger-classifier/internal/dataset"
	"finger-classifier/internal/metrics"
	"finger-classifier/internal/train"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Evaluation holds the test-set metrics of one checkpoint.
type Evaluation struct {
	Accuracy    float64
	MacroF1     float64
	MacroRecall float64
	PerClass    []metrics.ClassScores
	Confusion   *metrics.Confusion
	Normalized  *mat.Dense
	Checkpoint  *checkpoint.Checkpoint
}

// Evaluate loads the checkpoint at ckptPath and runs one deterministic pass
// over loader.
func Evaluate(ctx context.Context, ckptPath string, loader *dataset.Loader) (*Evaluation, error) {
	ckpt, err := checkpoint.Load(ckptPath)
	if err != nil {
		return nil, err
	}
	if size := ckpt.Spec.ImgSize; size > 0 && size != loader.ImgSize() {
		return nil, errors.Errorf("checkpoint was trained on %dpx inputs, loader yields %dpx", size, loader.ImgSize())
	}
	m, err := checkpoint.Restore(ckpt)
	if err != nil {
		return nil, err
	}
	conf, err := train.Predict(ctx, m, loader, ckpt.Spec.NumClasses)
	if err != nil {
		return nil, err
	}
	return &Evaluation{
		Accuracy:    conf.Accuracy(),
		MacroF1:     conf.MacroF1(),
		MacroRecall: conf.MacroRecall(),
		PerClass:    conf.PerClass(),
		Confusion:   conf,
		Normalized:  conf.Normalized(),
		Checkpoint:  ckpt,
	}, nil
}
