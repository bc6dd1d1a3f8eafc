package model

import (
	"math/rand"
	"testing"

	"finger-classifier/internal/nn"
	"finger-classifier/internal/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallSpec() Spec {
	return Spec{Widths: []int{4, 8}, Hidden: 16, NumClasses: 5, Dropout: 0.5}
}

func batch(b, s int) *tensor.Tensor {
	rng := rand.New(rand.NewSource(9))
	x := tensor.New(b, 3, s, s)
	for i := range x.Data {
		x.Data[i] = float32(rng.NormFloat64())
	}
	return x
}

func gradMass(ps []*nn.Param) float64 {
	var sum float64
	for _, p := range ps {
		sum += p.Grad.AbsSum()
	}
	return sum
}

func TestForwardShape(t *testing.T) {
	m, err := New(smallSpec(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	for _, b := range []int{1, 3} {
		logits, err := m.Forward(batch(b, 16), false)
		require.NoError(t, err)
		assert.Equal(t, []int{b, 5}, logits.Shape)
		assert.True(t, logits.AllFinite())
	}
}

func TestFrozenUpdatesHeadOnly(t *testing.T) {
	m, err := New(smallSpec(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.True(t, m.Frozen())

	logits, err := m.Forward(batch(2, 16), true)
	require.NoError(t, err)
	_, dl := nn.CrossEntropy(logits, []int{0, 3}, 0.1)
	m.Backward(dl)

	assert.Greater(t, gradMass(m.HeadParameters()), 0.0)
	assert.Zero(t, gradMass(m.BackboneParameters()))
	assert.Len(t, m.TrainableParameters(), len(m.HeadParameters()))
}

func TestUnfrozenUpdatesAll(t *testing.T) {
	m, err := New(smallSpec(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	m.Unfreeze()

	logits, err := m.Forward(batch(2, 16), true)
	require.NoError(t, err)
	_, dl := nn.CrossEntropy(logits, []int{1, 4}, 0.1)
	m.Backward(dl)

	for _, p := range m.Parameters() {
		assert.Greater(t, p.Grad.AbsSum(), 0.0, p.Name)
	}
	m.ZeroGrad()
	assert.Zero(t, gradMass(m.Parameters()))
}

func TestInferenceIsDeterministic(t *testing.T) {
	m, err := New(smallSpec(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	x := batch(2, 16)
	a, err := m.Forward(x, false)
	require.NoError(t, err)
	b, err := m.Forward(x, false)
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)
}

func TestStateDictRoundTrip(t *testing.T) {
	a, err := New(smallSpec(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	b, err := New(smallSpec(), rand.New(rand.NewSource(2)))
	require.NoError(t, err)

	require.NoError(t, b.LoadStateDict(a.StateDict()))
	x := batch(1, 16)
	la, err := a.Forward(x, false)
	require.NoError(t, err)
	lb, err := b.Forward(x, false)
	require.NoError(t, err)
	assert.Equal(t, la.Data, lb.Data)
}

func TestLoadBackboneOnly(t *testing.T) {
	src, err := New(Spec{Widths: []int{4, 8}, Hidden: 32, NumClasses: 3}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	dst, err := New(smallSpec(), rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	headBefore := dst.StateDict()["head.fc1.weight"]

	require.NoError(t, dst.LoadBackbone(src.StateDict()))
	assert.Equal(t, src.StateDict()["backbone.conv1.weight"].Data, dst.StateDict()["backbone.conv1.weight"].Data)
	assert.Equal(t, headBefore.Data, dst.StateDict()["head.fc1.weight"].Data)

	assert.Error(t, dst.LoadStateDict(src.StateDict()))
}

func TestAutocastKeepsLogitsClose(t *testing.T) {
	m, err := New(smallSpec(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	x := batch(2, 16)
	full, err := m.Forward(x, false)
	require.NoError(t, err)

	m.SetAutocast(true)
	half, err := m.Forward(x, false)
	require.NoError(t, err)
	assert.InDeltaSlice(t, toF64(full.Data), toF64(half.Data), 0.05)
}

func toF64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func TestSpecValidate(t *testing.T) {
	assert.NoError(t, smallSpec().Validate())
	assert.Error(t, Spec{Hidden: 4, NumClasses: 5}.Validate())
	assert.Error(t, Spec{Widths: []int{4}, Hidden: 4, NumClasses: 5, Dropout: 1}.Validate())
}
