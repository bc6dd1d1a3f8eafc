package report

import (
	"image"
	"image/png"
	"os"

	"finger-classifier/internal/augment"
	"finger-classifier/internal/checkpoint"
	"finger-classifier/internal/dataset"
	fpimage "finger-classifier/internal/image"
	"finger-classifier/internal/model"
	"finger-classifier/internal/tensor"
	"finger-classifier/pkg/colorutil"

	"github.com/pkg/errors"
	xdraw "golang.org/x/image/draw"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// Prediction is the classification of one image.
type Prediction struct {
	Path          string
	Label         int
	Finger        string
	Confidence    float64
	Probabilities []float64
	// Threshold is recorded for display only; Label is always the arg-max.
	Threshold float64
}

// Predictor classifies single images with a restored model.
type Predictor struct {
	model     *model.FingerNet
	pipe      *augment.Pipeline
	threshold float64
}

// NewPredictor restores the model in ckpt and pairs it with the
// deterministic pipeline at the input size the model was trained at.
func NewPredictor(ckpt *checkpoint.Checkpoint, threshold float64) (*Predictor, error) {
	size := ckpt.Spec.ImgSize
	if size <= 0 {
		return nil, errors.New("checkpoint does not record its input size")
	}
	m, err := checkpoint.Restore(ckpt)
	if err != nil {
		return nil, err
	}
	return &Predictor{model: m, pipe: augment.NewEval(size, nil), threshold: threshold}, nil
}

// Predict classifies the image at path.
func (p *Predictor) Predict(path string) (*Prediction, error) {
	x, err := p.pipe.Transform(path, nil)
	if err != nil {
		return nil, err
	}
	s := p.pipe.Size()
	logits, err := p.model.Forward(tensor.FromData(x, 1, 3, s, s), false)
	if err != nil {
		return nil, err
	}
	probs := tensor.Softmax(logits.Row(0))
	label := tensor.ArgMax(logits.Row(0))
	pred := &Prediction{
		Path:          path,
		Label:         label,
		Confidence:    probs[label],
		Probabilities: probs,
		Threshold:     p.threshold,
	}
	if label < len(dataset.FingerNames) {
		pred.Finger = dataset.FingerNames[label]
	}
	return pred, nil
}

const figurePx = 400

// RenderPrediction writes a PNG showing the input image next to a bar chart
// of the class probabilities with the threshold as a reference line.
func RenderPrediction(pred *Prediction, names []string, path string) error {
	mat, err := fpimage.Load(pred.Path)
	if err != nil {
		return err
	}
	src := fpimage.MatToImage(mat)
	mat.Close()

	chart, err := probabilityChart(pred, names)
	if err != nil {
		return err
	}

	out := image.NewRGBA(image.Rect(0, 0, 2*figurePx, figurePx))
	xdraw.Draw(out, out.Bounds(), image.NewUniform(colorutil.White), image.Point{}, xdraw.Src)
	xdraw.CatmullRom.Scale(out, image.Rect(0, 0, figurePx, figurePx), src, src.Bounds(), xdraw.Over, nil)
	xdraw.Draw(out, image.Rect(figurePx, 0, 2*figurePx, figurePx), chart, chart.Bounds().Min, xdraw.Over)

	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := png.Encode(f, out); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	return f.Close()
}

func probabilityChart(pred *Prediction, names []string) (image.Image, error) {
	p := plot.New()
	p.Title.Text = "Predicted: " + pred.Finger
	p.Y.Label.Text = "Probability"
	p.Y.Min, p.Y.Max = 0, 1

	bars, err := plotter.NewBarChart(plotter.Values(pred.Probabilities), vg.Points(28))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build bar chart")
	}
	bars.Color = colorutil.Bar
	bars.LineStyle.Width = 0
	p.Add(bars)
	p.NominalX(names...)

	line, err := plotter.NewLine(plotter.XYs{
		{X: -0.5, Y: pred.Threshold},
		{X: float64(len(pred.Probabilities)) - 0.5, Y: pred.Threshold},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to build threshold line")
	}
	line.Color = colorutil.Threshold
	line.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	p.Add(line)
	p.Legend.Add("threshold", line)

	side := vg.Length(figurePx) * vg.Inch / 96
	canvas := vgimg.NewWith(vgimg.UseWH(side, side), vgimg.UseDPI(96))
	p.Draw(draw.New(canvas))
	return canvas.Image(), nil
}
