package train

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"finger-classifier/internal/augment"
	"finger-classifier/internal/checkpoint"
	"finger-classifier/internal/config"
	"finger-classifier/internal/dataset"
	"finger-classifier/internal/model"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEarlyStopper(t *testing.T) {
	e := NewEarlyStopper(2)
	scores := []float64{0.1, 0.3, 0.3, 0.2, 0.25, 0.3}
	var improved []bool
	for i, s := range scores {
		improved = append(improved, e.Observe(i+1, s))
		if e.ShouldStop() {
			break
		}
	}
	// The equal score at epoch 3 is not an improvement; stop after epoch 5,
	// when 5 - 2 > 2.
	assert.Equal(t, []bool{true, true, false, false, false}, improved)
	best, epoch := e.Best()
	assert.Equal(t, 0.3, best)
	assert.Equal(t, 2, epoch)
}

func TestEarlyStopperFirstObservationImproves(t *testing.T) {
	e := NewEarlyStopper(0)
	assert.True(t, e.Observe(1, 0))
	assert.False(t, e.ShouldStop())
	assert.False(t, e.Observe(2, 0))
	assert.True(t, e.ShouldStop())
}

var fingerColours = []color.RGBA{
	{R: 220, G: 30, B: 30, A: 255},
	{R: 30, G: 200, B: 40, A: 255},
	{R: 30, G: 40, B: 220, A: 255},
	{R: 240, G: 240, B: 240, A: 255},
	{R: 10, G: 10, B: 10, A: 255},
}

func writeDataset(t *testing.T, dir string, perClass int) {
	t.Helper()
	for label, name := range dataset.FingerNames {
		for i := 0; i < perClass; i++ {
			img := image.NewRGBA(image.Rect(0, 0, 40, 40))
			for y := 0; y < 40; y++ {
				for x := 0; x < 40; x++ {
					img.Set(x, y, fingerColours[label])
				}
			}
			f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%d__M_Left_%s_finger.png", i, name)))
			require.NoError(t, err)
			require.NoError(t, png.Encode(f, img))
			require.NoError(t, f.Close())
		}
	}
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func smokeConfig(dir string) config.Config {
	cfg := config.Default()
	cfg.DataRoots = []string{dir}
	cfg.CheckpointPath = filepath.Join(dir, "out", "best.ckpt")
	cfg.ImgSize = 32
	cfg.BatchSize = 8
	cfg.Workers = 2
	cfg.Epochs = 8
	cfg.FreezeEpochs = 3
	cfg.Patience = 8
	cfg.HeadLR = 1e-2
	cfg.BackboneLR = 1e-3
	cfg.Hidden = 32
	cfg.BackboneWidths = []int{8, 16}
	cfg.AugmentOps = 0
	cfg.MixedPrecision = false
	cfg.CacheSize = 64
	return cfg
}

func TestSyntheticEndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, 10)
	cfg := smokeConfig(dir)

	samples, err := dataset.Index(cfg.DataRoots)
	require.NoError(t, err)
	require.Len(t, samples, 50)

	pipe := augment.NewEval(cfg.ImgSize, nil)
	split := dataset.Partition(samples, cfg.Seed, pipe, pipe)
	require.Equal(t, 35, split.Train.Len())
	require.Equal(t, 7, split.Val.Len())
	require.Equal(t, 8, split.Test.Len())

	opts := dataset.LoaderOptions{BatchSize: cfg.BatchSize, Workers: cfg.Workers, ImgSize: cfg.ImgSize, Seed: cfg.Seed}
	trainLoader := dataset.NewLoader(split.Train,
		dataset.NewWeightedSampler(split.Train.Labels(), cfg.NumClasses, cfg.Seed), opts)
	valLoader := dataset.NewLoader(split.Val, dataset.SequentialSampler{N: split.Val.Len()}, opts)
	testLoader := dataset.NewLoader(split.Test, dataset.SequentialSampler{N: split.Test.Len()}, opts)

	m, err := model.New(model.Spec{
		Widths: cfg.BackboneWidths, Hidden: cfg.Hidden, NumClasses: cfg.NumClasses, Dropout: cfg.Dropout,
	}, rand.New(rand.NewSource(cfg.Seed)))
	require.NoError(t, err)

	res, err := New(cfg, m, trainLoader, valLoader, quietLogger(), "run-1").Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, res.History)
	assert.Equal(t, PhaseFrozen, res.History[0].Phase)
	if len(res.History) > cfg.FreezeEpochs {
		assert.Equal(t, PhaseFineTune, res.History[cfg.FreezeEpochs].Phase)
	}
	assert.True(t, res.History[0].Improved)

	ckpt, err := checkpoint.Load(cfg.CheckpointPath)
	require.NoError(t, err)
	assert.Equal(t, "run-1", ckpt.RunID)
	assert.Equal(t, res.BestEpoch, ckpt.Epoch)
	assert.Equal(t, res.BestF1, ckpt.ValF1)

	best, err := checkpoint.Restore(ckpt)
	require.NoError(t, err)
	conf, err := Predict(context.Background(), best, testLoader, cfg.NumClasses)
	require.NoError(t, err)
	assert.Equal(t, 8.0, conf.Total())
	assert.Greater(t, conf.Accuracy(), 0.2)
}

func TestCheckpointOnlyOnStrictImprovement(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, 4)
	cfg := smokeConfig(dir)
	cfg.Epochs = 5
	cfg.FreezeEpochs = 5
	cfg.HeadLR = 0 // scores never change after the first epoch
	cfg.WeightDecay = 0

	samples, err := dataset.Index(cfg.DataRoots)
	require.NoError(t, err)
	pipe := augment.NewEval(cfg.ImgSize, nil)
	split := dataset.Partition(samples, cfg.Seed, pipe, pipe)
	opts := dataset.LoaderOptions{BatchSize: 4, Workers: 1, ImgSize: cfg.ImgSize, Seed: 1}

	m, err := model.New(model.Spec{
		Widths: cfg.BackboneWidths, Hidden: cfg.Hidden, NumClasses: cfg.NumClasses, Dropout: 0,
	}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	res, err := New(cfg,
		m,
		dataset.NewLoader(split.Train, dataset.SequentialSampler{N: split.Train.Len()}, opts),
		dataset.NewLoader(split.Val, dataset.SequentialSampler{N: split.Val.Len()}, opts),
		quietLogger(), "run-2").Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.History, 5)
	assert.True(t, res.History[0].Improved)
	for _, s := range res.History[1:] {
		assert.False(t, s.Improved, "epoch %d", s.Epoch)
	}
	assert.Equal(t, 1, res.BestEpoch)
	assert.False(t, res.EarlyStopped)
}

func TestRunHonoursCancel(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, 4)
	cfg := smokeConfig(dir)

	samples, err := dataset.Index(cfg.DataRoots)
	require.NoError(t, err)
	pipe := augment.NewEval(cfg.ImgSize, nil)
	split := dataset.Partition(samples, cfg.Seed, pipe, pipe)
	opts := dataset.LoaderOptions{BatchSize: 4, Workers: 1, ImgSize: cfg.ImgSize}

	m, err := model.New(model.Spec{Widths: cfg.BackboneWidths, Hidden: 8, NumClasses: 5}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(cfg, m,
		dataset.NewLoader(split.Train, dataset.SequentialSampler{N: split.Train.Len()}, opts),
		dataset.NewLoader(split.Val, dataset.SequentialSampler{N: split.Val.Len()}, opts),
		quietLogger(), "run-3").Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func newSmokeTrainer(t *testing.T, cfg config.Config, runID string) (*Trainer, *model.FingerNet) {
	t.Helper()
	samples, err := dataset.Index(cfg.DataRoots)
	require.NoError(t, err)
	pipe := augment.NewEval(cfg.ImgSize, nil)
	split := dataset.Partition(samples, cfg.Seed, pipe, pipe)
	opts := dataset.LoaderOptions{BatchSize: 4, Workers: 1, ImgSize: cfg.ImgSize, Seed: 1}

	m, err := model.New(model.Spec{
		Widths: cfg.BackboneWidths, Hidden: cfg.Hidden, NumClasses: cfg.NumClasses, Dropout: 0,
	}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	tr := New(cfg, m,
		dataset.NewLoader(split.Train, dataset.SequentialSampler{N: split.Train.Len()}, opts),
		dataset.NewLoader(split.Val, dataset.SequentialSampler{N: split.Val.Len()}, opts),
		quietLogger(), runID)
	return tr, m
}

func backboneState(m *model.FingerNet) map[string][]float32 {
	state := make(map[string][]float32)
	for _, p := range m.BackboneParameters() {
		state[p.Name] = append([]float32(nil), p.Value.Data...)
	}
	return state
}

func TestPhaseSwitchUnfreezesBackbone(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, 4)
	cfg := smokeConfig(dir)
	cfg.FreezeEpochs = 2
	cfg.Epochs = cfg.FreezeEpochs

	frozen, m := newSmokeTrainer(t, cfg, "run-frozen")
	initial := backboneState(m)
	res, err := frozen.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.History, cfg.FreezeEpochs)
	for _, s := range res.History {
		assert.Equal(t, PhaseFrozen, s.Phase, "epoch %d", s.Epoch)
		assert.Equal(t, cfg.HeadLR, s.LR, "epoch %d", s.Epoch)
	}
	assert.Equal(t, initial, backboneState(m), "backbone changed while frozen")
	assert.Len(t, frozen.opt.Params(), len(m.HeadParameters()))

	// Same seeds, so the run starts from the same weights and only differs
	// once the backbone is unfrozen.
	cfg.Epochs = cfg.FreezeEpochs + 2
	tuned, m2 := newSmokeTrainer(t, cfg, "run-tuned")
	require.Equal(t, initial, backboneState(m2))
	res, err = tuned.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.History, cfg.Epochs)

	first := res.History[cfg.FreezeEpochs]
	assert.Equal(t, PhaseFineTune, first.Phase)
	assert.Equal(t, cfg.BackboneLR, first.LR)
	assert.Equal(t, PhaseFrozen, res.History[cfg.FreezeEpochs-1].Phase)

	covered := make(map[string]bool)
	for _, p := range tuned.opt.Params() {
		covered[p.Name] = true
	}
	for _, p := range m2.Parameters() {
		assert.True(t, covered[p.Name], "%s not optimised after unfreeze", p.Name)
	}
	assert.NotEqual(t, initial, backboneState(m2), "backbone did not change after unfreeze")
}

func TestEarlyStopEndsRun(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, 4)
	cfg := smokeConfig(dir)
	cfg.Epochs = 10
	cfg.FreezeEpochs = 10
	cfg.Patience = 1
	cfg.HeadLR = 0 // the validation score is flat after epoch 1
	cfg.WeightDecay = 0

	tr, _ := newSmokeTrainer(t, cfg, "run-stop")
	res, err := tr.Run(context.Background())
	require.NoError(t, err)

	// Epoch 1 improves, epochs 2 and 3 do not; 2 > Patience stops the run.
	require.Len(t, res.History, 3)
	assert.True(t, res.EarlyStopped)
	assert.Equal(t, 1, res.BestEpoch)
	assert.Equal(t, []bool{true, false, false}, []bool{
		res.History[0].Improved, res.History[1].Improved, res.History[2].Improved,
	})
}
