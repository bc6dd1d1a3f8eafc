package report

import (
	"os"

	"finger-classifier/internal/train"

	"github.com/pkg/errors"
	chart "github.com/wcharczuk/go-chart"
)

// RenderHistory writes a PNG line chart of train accuracy, validation F1 and
// validation recall per epoch.
func RenderHistory(history []train.EpochStats, path string) error {
	if len(history) < 2 {
		return errors.Errorf("need at least two epochs to plot, have %d", len(history))
	}
	epochs := make([]float64, len(history))
	acc := make([]float64, len(history))
	f1 := make([]float64, len(history))
	recall := make([]float64, len(history))
	for i, s := range history {
		epochs[i] = float64(s.Epoch)
		acc[i] = s.TrainAcc
		f1[i] = s.ValF1
		recall[i] = s.ValRecall
	}

	series := []chart.Series{
		chart.ContinuousSeries{
			Name:    "train accuracy",
			XValues: epochs,
			YValues: acc,
			Style:   chart.Style{Show: true, StrokeColor: chart.ColorBlue},
		},
		chart.ContinuousSeries{
			Name:    "val macro-F1",
			XValues: epochs,
			YValues: f1,
			Style:   chart.Style{Show: true, StrokeColor: chart.ColorGreen},
		},
		chart.ContinuousSeries{
			Name:    "val macro-recall",
			XValues: epochs,
			YValues: recall,
			Style:   chart.Style{Show: true, StrokeColor: chart.ColorOrange, StrokeDashArray: []float64{5.0, 5.0}},
		},
	}

	graph := chart.Chart{
		Title:      "Training history",
		TitleStyle: chart.StyleShow(),
		XAxis: chart.XAxis{
			Name:      "Epoch",
			NameStyle: chart.StyleShow(),
			Style:     chart.StyleShow(),
		},
		YAxis: chart.YAxis{
			Name:      "Score",
			NameStyle: chart.StyleShow(),
			Style:     chart.StyleShow(),
			Range:     &chart.ContinuousRange{Min: 0, Max: 1},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{
		chart.Legend(&graph),
	}

	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := graph.Render(chart.PNG, f); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to render history chart")
	}
	return f.Close()
}
