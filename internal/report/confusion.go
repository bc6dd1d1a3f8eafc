package report

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// matrixGrid adapts a square matrix to plotter.GridXYZ with row 0 drawn at
// the top.
type matrixGrid struct {
	m *mat.Dense
}

func (g matrixGrid) Dims() (c, r int) {
	r, c = g.m.Dims()
	return c, r
}

func (g matrixGrid) Z(c, r int) float64 {
	rows, _ := g.m.Dims()
	return g.m.At(rows-1-r, c)
}

func (g matrixGrid) X(c int) float64 { return float64(c) }

func (g matrixGrid) Y(r int) float64 { return float64(r) }

// RenderConfusion writes a heatmap of the row-normalized confusion matrix to
// path. The image format follows the file extension.
func RenderConfusion(normalized *mat.Dense, names []string, path string) error {
	rows, cols := normalized.Dims()
	if rows != len(names) || cols != len(names) {
		return errors.Errorf("confusion matrix is %dx%d for %d class names", rows, cols, len(names))
	}

	p := plot.New()
	p.Title.Text = "Normalized confusion matrix"
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "True"

	heat := plotter.NewHeatMap(matrixGrid{normalized}, palette.Heat(32, 1))
	heat.Min, heat.Max = 0, 1
	p.Add(heat)

	var cells plotter.XYLabels
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			cells.XYs = append(cells.XYs, plotter.XY{X: float64(c), Y: float64(rows - 1 - r)})
			cells.Labels = append(cells.Labels, fmt.Sprintf("%.2f", normalized.At(r, c)))
		}
	}
	labels, err := plotter.NewLabels(cells)
	if err != nil {
		return errors.Wrap(err, "failed to build cell labels")
	}
	p.Add(labels)

	xTicks := make([]plot.Tick, len(names))
	yTicks := make([]plot.Tick, len(names))
	for i, n := range names {
		xTicks[i] = plot.Tick{Value: float64(i), Label: n}
		yTicks[i] = plot.Tick{Value: float64(rows - 1 - i), Label: n}
	}
	p.X.Tick.Marker = plot.ConstantTicks(xTicks)
	p.Y.Tick.Marker = plot.ConstantTicks(yTicks)

	if err := ensureDir(path); err != nil {
		return err
	}
	if err := p.Save(6*vg.Inch, 5*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "failed to save %s", path)
	}
	return nil
}
