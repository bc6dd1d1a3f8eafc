// Package main provides the entry point for the finger classifier.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"finger-classifier/internal/app"
	"finger-classifier/internal/config"
	"finger-classifier/internal/dataset"
	"finger-classifier/internal/version"
	"finger-classifier/internal/viewer"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	logLevel   string
	logFormat  string
	show       bool

	epochs     int
	batchSize  int
	workers    int
	imgSize    int
	checkpoint string
	outputDir  string
	dataRoots  []string
	threshold  float64
	noAMP      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "finger-classifier",
		Short:         "Train and run a fingerprint finger-type classifier",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (overrides config)")
	pf.StringVar(&opts.logFormat, "log-format", "", "log format: text or json (overrides config)")
	pf.StringVar(&opts.checkpoint, "checkpoint", "", "checkpoint path (overrides config)")
	pf.StringVar(&opts.outputDir, "output", "", "figure output directory (overrides config)")
	pf.IntVar(&opts.imgSize, "img-size", 0, "training input size (overrides config; evaluate and predict use the checkpoint's)")
	pf.IntVar(&opts.workers, "workers", 0, "data loading workers (overrides config)")
	pf.BoolVar(&opts.show, "show", false, "open rendered figures in a window")

	root.AddCommand(newTrainCmd(opts), newEvaluateCmd(opts), newPredictCmd(opts), newVersionCmd())
	return root
}

// setup loads the configuration, applies flag overrides and builds the App.
func setup(cmd *cobra.Command, opts *options) (*app.App, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return nil, err
		}
	}
	flags := cmd.Flags()
	if opts.logLevel != "" {
		cfg.Logger.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Logger.Format = opts.logFormat
	}
	if flags.Changed("checkpoint") {
		cfg.CheckpointPath = opts.checkpoint
	}
	if flags.Changed("output") {
		cfg.OutputDir = opts.outputDir
	}
	if flags.Changed("img-size") {
		cfg.ImgSize = opts.imgSize
	}
	if flags.Changed("workers") {
		cfg.Workers = opts.workers
	}
	if flags.Changed("epochs") {
		cfg.Epochs = opts.epochs
	}
	if flags.Changed("batch-size") {
		cfg.BatchSize = opts.batchSize
	}
	if flags.Changed("data") {
		cfg.DataRoots = opts.dataRoots
	}
	if flags.Changed("threshold") {
		cfg.Threshold = opts.threshold
	}
	if opts.noAMP {
		cfg.MixedPrecision = false
	}

	logger, err := app.NewLogger(cfg.Logger)
	if err != nil {
		return nil, err
	}
	logrus.SetFormatter(logger.Formatter)
	logrus.SetLevel(logger.GetLevel())
	return app.New(cfg, logger)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func show(opts *options, title string, figures []string) error {
	if !opts.show || len(figures) == 0 {
		return nil
	}
	return viewer.Show(title, figures...)
}

func newTrainCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the classifier and evaluate the best checkpoint on the test split",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			res, err := a.Train(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("best epoch %d, val macro-F1 %.4f; test accuracy %.4f, macro-F1 %.4f\n",
				res.Train.BestEpoch, res.Train.BestF1, res.Evaluation.Accuracy, res.Evaluation.MacroF1)
			return show(opts, "Training run "+a.RunID, res.Figures)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.epochs, "epochs", 0, "number of epochs (overrides config)")
	f.IntVar(&opts.batchSize, "batch-size", 0, "batch size (overrides config)")
	f.StringSliceVar(&opts.dataRoots, "data", nil, "dataset root directories (overrides config)")
	f.BoolVar(&opts.noAMP, "no-amp", false, "disable mixed precision")
	return cmd
}

func newEvaluateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate the best checkpoint on the test split",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			ev, figures, err := a.Evaluate(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("test accuracy %.4f, macro-F1 %.4f, macro-recall %.4f\n", ev.Accuracy, ev.MacroF1, ev.MacroRecall)
			return show(opts, "Evaluation", figures)
		},
	}
	cmd.Flags().StringSliceVar(&opts.dataRoots, "data", nil, "dataset root directories (overrides config)")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "batch size (overrides config)")
	return cmd
}

func newPredictCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict <image>",
		Short: "Classify a single fingerprint image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			pred, fig, err := a.Predict(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s (confidence %.2f%%)\n", args[0], pred.Finger, 100*pred.Confidence)
			for i, p := range pred.Probabilities {
				fmt.Printf("  %-7s %.4f\n", dataset.FingerNames[i], p)
			}
			return show(opts, "Prediction", []string{fig})
		},
	}
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0, "confidence threshold recorded with the prediction (overrides config)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Println("finger-classifier " + version.String())
		},
	}
}
