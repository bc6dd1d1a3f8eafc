// Package checkpoint persists the best model state as a snappy-compressed
// gob stream of GoMLX-shaped variables.
package checkpoint

import (
	"bufio"
	"encoding/gob"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"finger-classifier/internal/model"
	"finger-classifier/internal/tensor"

	"github.com/golang/snappy"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Variable is one named model parameter.
type Variable struct {
	Name      string
	Shape     shapes.Shape
	Trainable bool
	Data      []float32
}

// Checkpoint is everything needed to rebuild and identify a trained model.
type Checkpoint struct {
	RunID   string
	Epoch   int
	ValF1   float64
	Version string
	SavedAt time.Time
	Spec      model.Spec
	Variables []Variable
}

// Variables captures every parameter of m in declaration order. Frozen
// parameters are recorded as not trainable.
func Variables(m *model.FingerNet) []Variable {
	trainable := make(map[string]bool)
	for _, p := range m.TrainableParameters() {
		trainable[p.Name] = true
	}
	params := m.Parameters()
	vars := make([]Variable, 0, len(params))
	for _, p := range params {
		t := p.Value.Clone()
		vars = append(vars, Variable{
			Name:      p.Name,
			Shape:     tensors.FromFlatDataAndDimensions(t.Data, t.Shape...).Shape(),
			Trainable: trainable[p.Name],
			Data:      t.Data,
		})
	}
	return vars
}

// StateDict converts the stored variables back into tensors keyed by name.
func (c *Checkpoint) StateDict() (map[string]*tensor.Tensor, error) {
	state := make(map[string]*tensor.Tensor, len(c.Variables))
	for _, v := range c.Variables {
		if v.Shape.Size() != len(v.Data) {
			return nil, errors.Errorf("variable %s: shape %s holds %d values, found %d",
				v.Name, v.Shape, v.Shape.Size(), len(v.Data))
		}
		if _, dup := state[v.Name]; dup {
			return nil, errors.Errorf("variable %s stored twice", v.Name)
		}
		state[v.Name] = tensor.FromData(v.Data, v.Shape.Dimensions...)
	}
	return state, nil
}

// Save writes ckpt to path through a temporary file in the same directory
// followed by a rename, so readers never observe a partial file. It returns
// the number of bytes written.
func Save(path string, ckpt *Checkpoint) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, errors.Wrapf(err, "failed to create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, errors.Wrap(err, "failed to create temporary checkpoint")
	}
	defer os.Remove(tmp.Name())

	w := snappy.NewBufferedWriter(tmp)
	if err := gob.NewEncoder(w).Encode(ckpt); err != nil {
		tmp.Close()
		return 0, errors.Wrap(err, "failed to encode checkpoint")
	}
	if err := w.Close(); err != nil {
		tmp.Close()
		return 0, errors.Wrap(err, "failed to flush checkpoint")
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return 0, errors.Wrap(err, "failed to stat checkpoint")
	}
	if err := tmp.Close(); err != nil {
		return 0, errors.Wrap(err, "failed to close checkpoint")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, errors.Wrapf(err, "failed to move checkpoint to %s", path)
	}
	return info.Size(), nil
}

// Load reads a checkpoint written by Save.
func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open checkpoint")
	}
	defer f.Close()

	var ckpt Checkpoint
	if err := gob.NewDecoder(snappy.NewReader(bufio.NewReader(f))).Decode(&ckpt); err != nil {
		return nil, errors.Wrapf(err, "failed to decode checkpoint %s", path)
	}
	return &ckpt, nil
}

// Restore rebuilds the model stored in ckpt.
func Restore(ckpt *Checkpoint) (*model.FingerNet, error) {
	m, err := model.New(ckpt.Spec, rand.New(rand.NewSource(0)))
	if err != nil {
		return nil, err
	}
	state, err := ckpt.StateDict()
	if err != nil {
		return nil, err
	}
	if err := m.LoadStateDict(state); err != nil {
		return nil, errors.Wrap(err, "failed to restore model")
	}
	return m, nil
}
