// Package model defines FingerNet, a convolutional backbone whose pooled
// embedding is fused with edge-strength statistics before a small MLP head.
package model

import (
	"fmt"
	"math/rand"
	"strings"

	"finger-classifier/internal/amp"
	"finger-classifier/internal/edge"
	"finger-classifier/internal/nn"
	"finger-classifier/internal/tensor"

	"github.com/pkg/errors"
)

// Spec describes the architecture. It is stored in checkpoints so a model
// can be rebuilt without the training configuration.
type Spec struct {
	Widths     []int
	Hidden     int
	NumClasses int
	Dropout    float64
	// ImgSize is the input side length the model was trained at, 0 if unknown.
	ImgSize int
}

// FeatureDim is the width of the fused feature vector.
func (s Spec) FeatureDim() int {
	return s.Widths[len(s.Widths)-1] + edge.Features
}

// Validate reports an unusable architecture.
func (s Spec) Validate() error {
	if len(s.Widths) == 0 {
		return errors.New("model: no backbone stages")
	}
	for _, w := range s.Widths {
		if w <= 0 {
			return errors.Errorf("model: non-positive stage width %d", w)
		}
	}
	if s.Hidden <= 0 || s.NumClasses <= 0 {
		return errors.Errorf("model: hidden=%d classes=%d", s.Hidden, s.NumClasses)
	}
	if s.Dropout < 0 || s.Dropout >= 1 {
		return errors.Errorf("model: dropout %v outside [0,1)", s.Dropout)
	}
	if s.ImgSize < 0 {
		return errors.Errorf("model: negative image size %d", s.ImgSize)
	}
	return nil
}

// FingerNet is the feature-fusion classifier. It starts with the backbone
// frozen.
type FingerNet struct {
	spec     Spec
	backbone *nn.Sequential
	head     *nn.Sequential
	frozen   bool
	embedDim int
}

// New builds a randomly initialised FingerNet.
func New(spec Spec, rng *rand.Rand) (*FingerNet, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	var layers []nn.Layer
	in := 3
	for i, w := range spec.Widths {
		conv := nn.NewConv2D(fmt.Sprintf("backbone.conv%d", i+1), in, w, 3, 2, 1, rng)
		conv.SkipInputGrad = i == 0
		layers = append(layers, conv, &nn.ReLU{})
		in = w
	}
	layers = append(layers, &nn.GlobalAvgPool{})

	head := nn.NewSequential(
		nn.NewLinear("head.fc1", spec.FeatureDim(), spec.Hidden, rng),
		&nn.ReLU{},
		nn.NewDropout(spec.Dropout, rng),
		nn.NewLinear("head.fc2", spec.Hidden, spec.NumClasses, rng),
	)
	return &FingerNet{
		spec:     spec,
		backbone: nn.NewSequential(layers...),
		head:     head,
		frozen:   true,
		embedDim: in,
	}, nil
}

// Spec returns the architecture description.
func (m *FingerNet) Spec() Spec { return m.spec }

// Frozen reports whether the backbone is excluded from training.
func (m *FingerNet) Frozen() bool { return m.frozen }

// Freeze stops gradients at the head.
func (m *FingerNet) Freeze() { m.frozen = true }

// Unfreeze lets gradients flow into the backbone.
func (m *FingerNet) Unfreeze() { m.frozen = false }

// SetAutocast toggles float16 emulation of activations and gradients.
func (m *FingerNet) SetAutocast(on bool) {
	var cast nn.CastFunc
	if on {
		cast = amp.CastHalf
	}
	m.backbone.Cast = cast
	m.head.Cast = cast
}

// Forward maps a normalized [B,3,S,S] batch to [B,NumClasses] logits.
func (m *FingerNet) Forward(x *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	stats, err := edge.Stats(x)
	if err != nil {
		return nil, err
	}
	embed := m.backbone.Forward(x, train)

	b := x.Shape[0]
	fused := tensor.New(b, m.spec.FeatureDim())
	for i := 0; i < b; i++ {
		row := fused.Row(i)
		copy(row, embed.Row(i))
		copy(row[m.embedDim:], stats.Row(i))
	}
	return m.head.Forward(fused, train), nil
}

// Backward propagates the logit gradient from the last Forward. The backbone
// receives gradients only when unfrozen; the edge statistics receive none.
func (m *FingerNet) Backward(dlogits *tensor.Tensor) {
	dfused := m.head.Backward(dlogits)
	if m.frozen || dfused == nil {
		return
	}
	b := dfused.Shape[0]
	dembed := tensor.New(b, m.embedDim)
	for i := 0; i < b; i++ {
		copy(dembed.Row(i), dfused.Row(i)[:m.embedDim])
	}
	m.backbone.Backward(dembed)
}

// HeadParameters returns the head's parameters.
func (m *FingerNet) HeadParameters() []*nn.Param { return m.head.Params() }

// BackboneParameters returns the backbone's parameters.
func (m *FingerNet) BackboneParameters() []*nn.Param { return m.backbone.Params() }

// Parameters returns every parameter, backbone first.
func (m *FingerNet) Parameters() []*nn.Param {
	return append(m.BackboneParameters(), m.HeadParameters()...)
}

// TrainableParameters returns the parameters of the current mode.
func (m *FingerNet) TrainableParameters() []*nn.Param {
	if m.frozen {
		return m.HeadParameters()
	}
	return m.Parameters()
}

// ZeroGrad clears all gradients.
func (m *FingerNet) ZeroGrad() { nn.ZeroGrad(m.Parameters()) }

// StateDict returns a copy of every parameter keyed by name.
func (m *FingerNet) StateDict() map[string]*tensor.Tensor {
	state := make(map[string]*tensor.Tensor)
	for _, p := range m.Parameters() {
		state[p.Name] = p.Value.Clone()
	}
	return state
}

// LoadStateDict copies every parameter from state. Missing names or shape
// mismatches are errors.
func (m *FingerNet) LoadStateDict(state map[string]*tensor.Tensor) error {
	return load(m.Parameters(), state)
}

// LoadBackbone copies only the backbone.* tensors from state, e.g. from a
// pretrained checkpoint with a different head.
func (m *FingerNet) LoadBackbone(state map[string]*tensor.Tensor) error {
	sub := make(map[string]*tensor.Tensor)
	for name, t := range state {
		if strings.HasPrefix(name, "backbone.") {
			sub[name] = t
		}
	}
	return load(m.BackboneParameters(), sub)
}

func load(params []*nn.Param, state map[string]*tensor.Tensor) error {
	for _, p := range params {
		t, ok := state[p.Name]
		if !ok {
			return errors.Errorf("model: missing tensor %q", p.Name)
		}
		if !p.Value.SameShape(t) {
			return errors.Errorf("model: tensor %q has shape %v, want %v", p.Name, t.Shape, p.Value.Shape)
		}
		copy(p.Value.Data, t.Data)
	}
	return nil
}
