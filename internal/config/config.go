// Package config holds the experiment configuration: data locations, model
// shape and every training hyperparameter, with documented defaults.
package config

import (
	"os"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoggerConfig selects the log level and output format.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // logrus level name
	Format string `yaml:"format"` // "text" or "json"
}

// Config is passed explicitly to every component constructor.
type Config struct {
	DataRoots      []string `yaml:"dataRoots"`
	CheckpointPath string   `yaml:"checkpointPath"`
	BackbonePath   string   `yaml:"backbonePath"` // optional pretrained backbone checkpoint
	OutputDir      string   `yaml:"outputDir"`    // rendered figures

	BatchSize  int `yaml:"batchSize"`
	Workers    int `yaml:"workers"` // <= 0 selects the physical core count
	ImgSize    int `yaml:"imgSize"`
	NumClasses int `yaml:"numClasses"`

	Epochs       int     `yaml:"epochs"`
	FreezeEpochs int     `yaml:"freezeEpochs"`
	Patience     int     `yaml:"patience"`
	HeadLR       float64 `yaml:"headLR"`
	BackboneLR   float64 `yaml:"backboneLR"`
	WeightDecay  float64 `yaml:"weightDecay"`
	LRFactor     float64 `yaml:"lrFactor"` // plateau reduction factor

	LabelSmoothing float64 `yaml:"labelSmoothing"`
	Dropout        float64 `yaml:"dropout"`
	Hidden         int     `yaml:"hidden"`
	BackboneWidths []int   `yaml:"backboneWidths"`
	MixedPrecision bool    `yaml:"mixedPrecision"`

	Seed      int64   `yaml:"seed"`
	TrainFrac float64 `yaml:"trainFrac"`
	ValFrac   float64 `yaml:"valFrac"`

	AugmentOps       int `yaml:"augmentOps"`
	AugmentMagnitude int `yaml:"augmentMagnitude"`
	CacheSize        int `yaml:"cacheSize"` // decoded images kept in memory

	// Threshold is accepted by single-image prediction and recorded with the
	// result. It does not change the predicted class.
	Threshold float64 `yaml:"threshold"`

	Logger LoggerConfig `yaml:"logger"`
}

// Default returns the reference experiment configuration.
func Default() Config {
	return Config{
		DataRoots: []string{
			"SOCOFing/Real",
			"SOCOFing/Altered/Altered-Easy",
			"SOCOFing/Altered/Altered-Medium",
			"SOCOFing/Altered/Altered-Hard",
		},
		CheckpointPath: "best_finger_model.ckpt",
		OutputDir:      "figures",

		BatchSize:  32,
		Workers:    4,
		ImgSize:    224,
		NumClasses: 5,

		Epochs:       30,
		FreezeEpochs: 5,
		Patience:     5,
		HeadLR:       1e-3,
		BackboneLR:   1e-5,
		WeightDecay:  0.01,
		LRFactor:     0.1,

		LabelSmoothing: 0.1,
		Dropout:        0.5,
		Hidden:         256,
		BackboneWidths: []int{16, 32, 64, 128},
		MixedPrecision: true,

		Seed:      42,
		TrainFrac: 0.70,
		ValFrac:   0.15,

		AugmentOps:       2,
		AugmentMagnitude: 9,
		CacheSize:        4096,

		Threshold: 0.5,

		Logger: LoggerConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML file over Default. Keys missing from the file keep their
// default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Save writes cfg as YAML, e.g. next to a checkpoint for provenance.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "write config %s", path)
}

// EffectiveWorkers resolves Workers, falling back to the physical core count.
func (c Config) EffectiveWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return 1
}

// Validate rejects configurations the training loop cannot run.
func (c Config) Validate() error {
	switch {
	case len(c.DataRoots) == 0:
		return errors.New("dataRoots must not be empty")
	case c.CheckpointPath == "":
		return errors.New("checkpointPath must be set")
	case c.BatchSize <= 0:
		return errors.Errorf("batchSize must be positive, got %d", c.BatchSize)
	case c.ImgSize < 8:
		return errors.Errorf("imgSize must be at least 8, got %d", c.ImgSize)
	case c.NumClasses <= 1:
		return errors.Errorf("numClasses must be at least 2, got %d", c.NumClasses)
	case c.Epochs <= 0:
		return errors.Errorf("epochs must be positive, got %d", c.Epochs)
	case c.FreezeEpochs < 0:
		return errors.Errorf("freezeEpochs must not be negative, got %d", c.FreezeEpochs)
	case c.Patience < 0:
		return errors.Errorf("patience must not be negative, got %d", c.Patience)
	case c.HeadLR <= 0 || c.BackboneLR <= 0:
		return errors.New("learning rates must be positive")
	case c.LRFactor <= 0 || c.LRFactor >= 1:
		return errors.Errorf("lrFactor must be in (0,1), got %g", c.LRFactor)
	case c.LabelSmoothing < 0 || c.LabelSmoothing >= 1:
		return errors.Errorf("labelSmoothing must be in [0,1), got %g", c.LabelSmoothing)
	case c.Dropout < 0 || c.Dropout >= 1:
		return errors.Errorf("dropout must be in [0,1), got %g", c.Dropout)
	case c.Hidden <= 0:
		return errors.Errorf("hidden must be positive, got %d", c.Hidden)
	case len(c.BackboneWidths) == 0:
		return errors.New("backboneWidths must not be empty")
	case c.TrainFrac <= 0 || c.ValFrac <= 0 || c.TrainFrac+c.ValFrac >= 1:
		return errors.Errorf("trainFrac and valFrac must be positive and sum below 1, got %g and %g", c.TrainFrac, c.ValFrac)
	case c.AugmentOps < 0:
		return errors.Errorf("augmentOps must not be negative, got %d", c.AugmentOps)
	case c.AugmentMagnitude < 0 || c.AugmentMagnitude > 30:
		return errors.Errorf("augmentMagnitude must be in [0,30], got %d", c.AugmentMagnitude)
	}
	for _, w := range c.BackboneWidths {
		if w <= 0 {
			return errors.Errorf("backboneWidths must be positive, got %v", c.BackboneWidths)
		}
	}
	return nil
}
