// Package train runs the two-phase training loop: head-only training with a
// frozen backbone, then full fine-tuning with a fresh optimizer, with loss
// scaling, plateau LR reduction, early stopping and best-model checkpoints.
package train

import (
	"context"
	"math"
	"time"

	"finger-classifier/internal/amp"
	"finger-classifier/internal/checkpoint"
	"finger-classifier/internal/config"
	"finger-classifier/internal/dataset"
	"finger-classifier/internal/metrics"
	"finger-classifier/internal/model"
	"finger-classifier/internal/nn"
	"finger-classifier/internal/optim"
	"finger-classifier/internal/tensor"
	"finger-classifier/internal/version"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Phase names the training mode of an epoch.
type Phase string

const (
	PhaseFrozen   Phase = "frozen"
	PhaseFineTune Phase = "finetune"
)

// EpochStats is the record of one completed epoch.
type EpochStats struct {
	Epoch        int
	Phase        Phase
	TrainLoss    float64
	TrainAcc     float64
	ValF1        float64
	ValRecall    float64
	LR           float64
	Improved     bool
	SkippedSteps int
	Duration     time.Duration
}

// Result summarises a finished run.
type Result struct {
	BestEpoch    int
	BestF1       float64
	EarlyStopped bool
	History      []EpochStats
}

// Trainer owns the optimisation state of one run.
type Trainer struct {
	cfg   config.Config
	model *model.FingerNet
	train *dataset.Loader
	val   *dataset.Loader
	log   *logrus.Entry
	runID string

	scaler  *amp.GradScaler
	opt     optim.Optimizer
	sched   *optim.Plateau
	stopper *EarlyStopper
	history []EpochStats
}

// New creates a trainer. The model must start frozen.
func New(cfg config.Config, m *model.FingerNet, trainLoader, valLoader *dataset.Loader, log *logrus.Entry, runID string) *Trainer {
	return &Trainer{
		cfg:     cfg,
		model:   m,
		train:   trainLoader,
		val:     valLoader,
		log:     log.WithField("name", "trainer"),
		runID:   runID,
		scaler:  amp.NewGradScaler(cfg.MixedPrecision, amp.DefaultScalerOptions()),
		stopper: NewEarlyStopper(cfg.Patience),
	}
}

// History returns the epochs completed so far.
func (t *Trainer) History() []EpochStats { return append([]EpochStats(nil), t.history...) }

// Run trains for up to cfg.Epochs epochs. Any load, numeric or IO error
// aborts the run.
func (t *Trainer) Run(ctx context.Context) (Result, error) {
	t.model.Freeze()
	t.model.SetAutocast(t.cfg.MixedPrecision)
	t.opt = optim.NewAdamW(t.model.HeadParameters(), t.cfg.HeadLR, t.cfg.WeightDecay)
	t.sched = optim.NewPlateau(t.opt, t.cfg.LRFactor, t.cfg.Patience)

	t.log.WithFields(logrus.Fields{
		"train":   t.train.View().Len(),
		"val":     t.val.View().Len(),
		"epochs":  t.cfg.Epochs,
		"freeze":  t.cfg.FreezeEpochs,
		"amp":     t.cfg.MixedPrecision,
		"batches": t.train.NumBatches(),
	}).Info("starting training")

	res := Result{}
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		if epoch == t.cfg.FreezeEpochs+1 {
			t.unfreeze()
		}
		stats, err := t.runEpoch(ctx, epoch)
		if err != nil {
			return res, errors.Wrapf(err, "epoch %d", epoch)
		}
		t.history = append(t.history, stats)

		if t.stopper.ShouldStop() {
			t.log.WithField("epoch", epoch).Infof("early stopping: no improvement for %d epochs", t.stopper.Counter())
			res.EarlyStopped = true
			break
		}
	}
	res.BestF1, res.BestEpoch = t.stopper.Best()
	res.History = t.History()
	return res, nil
}

// unfreeze switches to fine-tuning with a new optimizer over every parameter
// and a new scheduler attached to it.
func (t *Trainer) unfreeze() {
	headSteps := t.opt.Steps()
	t.model.Unfreeze()
	t.opt = optim.NewAdamW(t.model.Parameters(), t.cfg.BackboneLR, t.cfg.WeightDecay)
	t.sched = optim.NewPlateau(t.opt, t.cfg.LRFactor, t.cfg.Patience)
	t.log.WithFields(logrus.Fields{
		"lr":         t.cfg.BackboneLR,
		"head_steps": headSteps,
	}).Info("backbone unfrozen")
}

func (t *Trainer) phase() Phase {
	if t.model.Frozen() {
		return PhaseFrozen
	}
	return PhaseFineTune
}

func (t *Trainer) runEpoch(ctx context.Context, epoch int) (EpochStats, error) {
	start := time.Now()
	skippedBefore := t.scaler.Skipped()

	loss, acc, err := t.trainEpoch(ctx)
	if err != nil {
		return EpochStats{}, err
	}
	conf, err := t.validate(ctx)
	if err != nil {
		return EpochStats{}, err
	}
	f1 := conf.MacroF1()
	stats := EpochStats{
		Epoch:        epoch,
		Phase:        t.phase(),
		TrainLoss:    loss,
		TrainAcc:     acc,
		ValF1:        f1,
		ValRecall:    conf.MacroRecall(),
		LR:           t.opt.LR(),
		SkippedSteps: t.scaler.Skipped() - skippedBefore,
	}

	if t.sched.Step(f1) {
		t.log.WithField("lr", t.opt.LR()).Info("reduced learning rate")
	}
	if t.stopper.Observe(epoch, f1) {
		stats.Improved = true
		if err := t.save(epoch, f1); err != nil {
			return stats, err
		}
	}
	stats.Duration = time.Since(start)

	t.log.WithFields(logrus.Fields{
		"epoch":      epoch,
		"phase":      stats.Phase,
		"loss":       stats.TrainLoss,
		"train_acc":  stats.TrainAcc,
		"val_f1":     stats.ValF1,
		"val_recall": stats.ValRecall,
		"lr":         stats.LR,
		"skipped":    stats.SkippedSteps,
		"elapsed":    stats.Duration.Round(time.Millisecond).String(),
	}).Info("epoch complete")
	return stats, nil
}

func (t *Trainer) trainEpoch(ctx context.Context) (float64, float64, error) {
	params := t.model.TrainableParameters()
	var lossSum float64
	var correct, seen int

	err := t.train.Each(ctx, func(b dataset.Batch) error {
		t.model.ZeroGrad()
		logits, err := t.model.Forward(b.X, true)
		if err != nil {
			return err
		}
		loss, dl := nn.CrossEntropy(logits, b.Labels, t.cfg.LabelSmoothing)
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			if !t.scaler.Enabled() {
				return errors.Errorf("non-finite loss in batch %d", b.Index)
			}
			t.scaler.Update(false)
			return nil
		}

		t.scaler.ScaleGrad(dl)
		t.model.Backward(dl)
		finite := t.scaler.Unscale(params)
		if finite {
			t.opt.Step()
		} else if !t.scaler.Enabled() {
			return errors.Errorf("non-finite gradients in batch %d", b.Index)
		}
		t.scaler.Update(finite)

		n := len(b.Labels)
		lossSum += loss * float64(n)
		correct += countCorrect(logits, b.Labels)
		seen += n
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if seen == 0 {
		return 0, 0, nil
	}
	return lossSum / float64(seen), float64(correct) / float64(seen), nil
}

func (t *Trainer) validate(ctx context.Context) (*metrics.Confusion, error) {
	return Predict(ctx, t.model, t.val, t.cfg.NumClasses)
}

// Predict runs m in inference mode over every batch of loader and returns the
// resulting confusion matrix.
func Predict(ctx context.Context, m *model.FingerNet, loader *dataset.Loader, k int) (*metrics.Confusion, error) {
	conf := metrics.NewConfusion(k)
	err := loader.Each(ctx, func(b dataset.Batch) error {
		logits, err := m.Forward(b.X, false)
		if err != nil {
			return err
		}
		for i, truth := range b.Labels {
			conf.Add(truth, tensor.ArgMax(logits.Row(i)))
		}
		return nil
	})
	return conf, err
}

func countCorrect(logits *tensor.Tensor, labels []int) int {
	n := 0
	for i, l := range labels {
		if tensor.ArgMax(logits.Row(i)) == l {
			n++
		}
	}
	return n
}

func (t *Trainer) save(epoch int, f1 float64) error {
	size, err := checkpoint.Save(t.cfg.CheckpointPath, &checkpoint.Checkpoint{
		RunID:     t.runID,
		Epoch:     epoch,
		ValF1:     f1,
		Version:   version.Version,
		SavedAt:   time.Now().UTC(),
		Spec:      t.model.Spec(),
		Variables: checkpoint.Variables(t.model),
	})
	if err != nil {
		return err
	}
	t.log.WithFields(logrus.Fields{
		"epoch":  epoch,
		"val_f1": f1,
		"path":   t.cfg.CheckpointPath,
		"size":   humanize.Bytes(uint64(size)),
	}).Info("saved best model")
	return nil
}
