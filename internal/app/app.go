// Package app wires configuration, logging and the pipeline stages into the
// train, evaluate and predict workflows.
package app

import (
	"context"
	"math/rand"
	"path/filepath"
	"time"

	"finger-classifier/internal/augment"
	"finger-classifier/internal/checkpoint"
	"finger-classifier/internal/config"
	"finger-classifier/internal/dataset"
	fpimage "finger-classifier/internal/image"
	"finger-classifier/internal/model"
	"finger-classifier/internal/report"
	"finger-classifier/internal/train"
	"finger-classifier/internal/version"

	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Figure file names under OutputDir.
const (
	ConfusionFigure  = "confusion_matrix.png"
	HistoryFigure    = "training_history.png"
	PredictionFigure = "prediction.png"
)

// App holds the state shared by every command of one process.
type App struct {
	Config config.Config
	Log    *logrus.Entry
	RunID  string

	cache *fpimage.Cache
}

// New validates cfg and prepares logging and the image cache.
func New(cfg config.Config, logger *logrus.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if cfg.NumClasses != dataset.NumClasses {
		return nil, errors.Errorf("numClasses is %d but %d finger names are known", cfg.NumClasses, dataset.NumClasses)
	}
	cache, err := fpimage.NewCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	return &App{
		Config: cfg,
		Log:    logger.WithField("run", runID),
		RunID:  runID,
		cache:  cache,
	}, nil
}

func (a *App) logHardware() {
	a.Log.WithFields(logrus.Fields{
		"cpu":     cpuid.CPU.BrandName,
		"cores":   cpuid.CPU.PhysicalCores,
		"threads": cpuid.CPU.LogicalCores,
		"avx2":    cpuid.CPU.Supports(cpuid.AVX2),
		"workers": a.Config.EffectiveWorkers(),
		"version": version.Version,
		"commit":  version.GitCommit,
	}).Info("environment")
}

// split indexes the data roots and partitions the samples.
func (a *App) split() (dataset.Split, error) {
	samples, err := dataset.Index(a.Config.DataRoots)
	if err != nil {
		return dataset.Split{}, err
	}
	counts := dataset.Counts(samples)
	fields := logrus.Fields{"samples": len(samples)}
	for i, name := range dataset.FingerNames {
		fields[name] = counts[i]
	}
	a.Log.WithFields(fields).Info("indexed dataset")

	evalT := augment.NewEval(a.Config.ImgSize, a.cache)
	trainT := augment.NewTrain(a.Config.ImgSize, a.Config.AugmentOps, a.Config.AugmentMagnitude, a.cache)
	split := dataset.PartitionWith(samples, dataset.PartitionOptions{
		Seed:      a.Config.Seed,
		TrainFrac: a.Config.TrainFrac,
		ValFrac:   a.Config.ValFrac,
		Train:     trainT,
		Eval:      evalT,
	})
	a.Log.WithFields(logrus.Fields{
		"train": split.Train.Len(),
		"val":   split.Val.Len(),
		"test":  split.Test.Len(),
	}).Info("partitioned dataset")
	return split, nil
}

func (a *App) loaderOptions(seed int64) dataset.LoaderOptions {
	return dataset.LoaderOptions{
		BatchSize: a.Config.BatchSize,
		Workers:   a.Config.EffectiveWorkers(),
		ImgSize:   a.Config.ImgSize,
		Seed:      seed,
	}
}

func (a *App) sequential(v *dataset.View) *dataset.Loader {
	return dataset.NewLoader(v, dataset.SequentialSampler{N: v.Len()}, a.loaderOptions(a.Config.Seed))
}

func (a *App) newModel() (*model.FingerNet, error) {
	m, err := model.New(model.Spec{
		Widths:     a.Config.BackboneWidths,
		Hidden:     a.Config.Hidden,
		NumClasses: a.Config.NumClasses,
		Dropout:    a.Config.Dropout,
		ImgSize:    a.Config.ImgSize,
	}, rand.New(rand.NewSource(a.Config.Seed)))
	if err != nil {
		return nil, err
	}
	if a.Config.BackbonePath == "" {
		return m, nil
	}
	pre, err := checkpoint.Load(a.Config.BackbonePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load pretrained backbone")
	}
	state, err := pre.StateDict()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load pretrained backbone")
	}
	if err := m.LoadBackbone(state); err != nil {
		return nil, errors.Wrap(err, "failed to load pretrained backbone")
	}
	a.Log.WithField("path", a.Config.BackbonePath).Info("initialised backbone from checkpoint")
	return m, nil
}

// ConfigPath is where Train records the effective configuration of the
// checkpoint at ckptPath.
func ConfigPath(ckptPath string) string { return ckptPath + ".yaml" }

// TrainResult is what Train produces.
type TrainResult struct {
	Train      train.Result
	Evaluation *report.Evaluation
	Figures    []string
}

// Train runs the full training loop and then evaluates the best checkpoint
// on the test view.
func (a *App) Train(ctx context.Context) (*TrainResult, error) {
	a.logHardware()
	start := time.Now()

	split, err := a.split()
	if err != nil {
		return nil, err
	}
	m, err := a.newModel()
	if err != nil {
		return nil, err
	}

	trainLoader := dataset.NewLoader(split.Train,
		dataset.NewWeightedSampler(split.Train.Labels(), a.Config.NumClasses, a.Config.Seed),
		a.loaderOptions(a.Config.Seed+1))
	t := train.New(a.Config, m, trainLoader, a.sequential(split.Val), a.Log, a.RunID)

	res, err := t.Run(ctx)
	if err != nil {
		return nil, err
	}
	cfgPath := ConfigPath(a.Config.CheckpointPath)
	if err := a.Config.Save(cfgPath); err != nil {
		return nil, err
	}
	a.Log.WithFields(logrus.Fields{
		"best_epoch": res.BestEpoch,
		"best_f1":    res.BestF1,
		"stopped":    res.EarlyStopped,
		"elapsed":    time.Since(start).Round(time.Second).String(),
		"config":     cfgPath,
	}).Info("training finished")

	out := &TrainResult{Train: res}
	if len(res.History) >= 2 {
		path := filepath.Join(a.Config.OutputDir, HistoryFigure)
		if err := report.RenderHistory(res.History, path); err != nil {
			return nil, err
		}
		out.Figures = append(out.Figures, path)
	}

	ev, figs, err := a.evaluate(ctx, split.Test)
	if err != nil {
		return nil, err
	}
	out.Evaluation = ev
	out.Figures = append(out.Figures, figs...)
	return out, nil
}

// Evaluate rebuilds the split from the configured seed and scores the best
// checkpoint on its test view.
func (a *App) Evaluate(ctx context.Context) (*report.Evaluation, []string, error) {
	ckpt, err := checkpoint.Load(a.Config.CheckpointPath)
	if err != nil {
		return nil, nil, err
	}
	if size := ckpt.Spec.ImgSize; size > 0 && size != a.Config.ImgSize {
		a.Log.WithFields(logrus.Fields{
			"configured": a.Config.ImgSize,
			"checkpoint": size,
		}).Warn("using the checkpoint's input size")
		a.Config.ImgSize = size
	}
	split, err := a.split()
	if err != nil {
		return nil, nil, err
	}
	return a.evaluate(ctx, split.Test)
}

func (a *App) evaluate(ctx context.Context, test *dataset.View) (*report.Evaluation, []string, error) {
	ev, err := report.Evaluate(ctx, a.Config.CheckpointPath, a.sequential(test))
	if err != nil {
		return nil, nil, err
	}
	a.Log.WithFields(logrus.Fields{
		"checkpoint_epoch": ev.Checkpoint.Epoch,
		"accuracy":         ev.Accuracy,
		"macro_f1":         ev.MacroF1,
		"macro_recall":     ev.MacroRecall,
	}).Info("test metrics")
	for i, s := range ev.PerClass {
		a.Log.WithFields(logrus.Fields{
			"class":     dataset.FingerNames[i],
			"precision": s.Precision,
			"recall":    s.Recall,
			"f1":        s.F1,
			"support":   s.Support,
			"correct":   ev.Confusion.Count(i, i),
		}).Info("class metrics")
	}

	path := filepath.Join(a.Config.OutputDir, ConfusionFigure)
	if err := report.RenderConfusion(ev.Normalized, dataset.FingerNames[:], path); err != nil {
		return nil, nil, err
	}
	return ev, []string{path}, nil
}

// Predict classifies one image with the best checkpoint and renders the
// prediction figure.
func (a *App) Predict(path string) (*report.Prediction, string, error) {
	ckpt, err := checkpoint.Load(a.Config.CheckpointPath)
	if err != nil {
		return nil, "", err
	}
	p, err := report.NewPredictor(ckpt, a.Config.Threshold)
	if err != nil {
		return nil, "", err
	}
	pred, err := p.Predict(path)
	if err != nil {
		return nil, "", err
	}
	a.Log.WithFields(logrus.Fields{
		"image":      path,
		"finger":     pred.Finger,
		"confidence": pred.Confidence,
		"threshold":  pred.Threshold,
	}).Info("prediction")

	fig := filepath.Join(a.Config.OutputDir, PredictionFigure)
	if err := report.RenderPrediction(pred, dataset.FingerNames[:], fig); err != nil {
		return nil, "", err
	}
	return pred, fig, nil
}
