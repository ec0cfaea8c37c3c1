package optim

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/relnet/internal/backend/cpu"
	"github.com/born-ml/relnet/internal/nn"
	"github.com/born-ml/relnet/internal/tensor"
)

type Backend = *cpu.CPUBackend

func param(t *testing.T, b Backend, name string, value, grad []float32) *nn.Parameter[Backend] {
	t.Helper()
	v, err := tensor.FromSlice(value, tensor.Shape{len(value)}, b)
	require.NoError(t, err)
	p := nn.NewParameter(name, v)
	if grad != nil {
		g, err := tensor.FromSlice(grad, tensor.Shape{len(grad)}, b)
		require.NoError(t, err)
		p.SetGrad(g)
	}
	return p
}

func randomParams(t *testing.T, b Backend, rng *rand.Rand, scale float64) []*nn.Parameter[Backend] {
	t.Helper()
	var params []*nn.Parameter[Backend]
	for i := 0; i < 1+rng.Intn(4); i++ {
		n := 1 + rng.Intn(20)
		grad := make([]float32, n)
		for j := range grad {
			grad[j] = float32(rng.NormFloat64() * scale)
		}
		params = append(params, param(t, b, "p", make([]float32, n), grad))
	}
	return params
}

func TestClipGradNorm_NoOpUnderThreshold(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		params := randomParams(t, b, rng, 0.1)
		norm := GradNorm(params)
		threshold := norm * (1 + rng.Float64()*3)
		if norm == 0 {
			threshold = 1
		}

		before := make([][]float32, len(params))
		for i, p := range params {
			before[i] = append([]float32(nil), p.Grad().Data()...)
		}

		total := ClipGradNorm(params, threshold)
		assert.Equal(t, norm, total, "trial %d: reported norm matches GradNorm", trial)
		for i, p := range params {
			assert.Equal(t, before[i], p.Grad().Data(), "trial %d: gradients must be unchanged", trial)
		}
	}
}

func TestClipGradNorm_ClipsToThreshold(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(2))
	for trial := 0; trial < 50; trial++ {
		params := randomParams(t, b, rng, 10)
		norm := GradNorm(params)
		threshold := norm * (0.01 + rng.Float64()*0.9)

		total := ClipGradNorm(params, threshold)
		assert.Equal(t, norm, total, "trial %d: reported norm matches GradNorm", trial)
		assert.InDelta(t, threshold, GradNorm(params), threshold*1e-5, "trial %d", trial)
	}
}

func TestClipGradNorm_Example(t *testing.T) {
	b := cpu.New()
	// ||(3, 4)|| = 5, clipped to 1 -> (0.6, 0.8).
	p := param(t, b, "w", []float32{0, 0}, []float32{3, 4})
	total := ClipGradNorm([]*nn.Parameter[Backend]{p}, 1)
	assert.Equal(t, 5.0, total)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, p.Grad().Data(), 1e-6)
}

func TestClipGradNorm_ZeroNorm(t *testing.T) {
	b := cpu.New()
	p := param(t, b, "w", []float32{1}, []float32{0})
	assert.Zero(t, ClipGradNorm([]*nn.Parameter[Backend]{p}, 0.5))
	assert.Equal(t, []float32{0}, p.Grad().Data())
}

func TestClipGradNorm_IgnoresFrozenAndMissing(t *testing.T) {
	b := cpu.New()
	frozen := param(t, b, "frozen", []float32{0}, []float32{100})
	frozen.SetTrainable(false)
	noGrad := param(t, b, "nograd", []float32{0}, nil)
	live := param(t, b, "live", []float32{0, 0}, []float32{6, 8})

	total := ClipGradNorm([]*nn.Parameter[Backend]{frozen, noGrad, live}, 5)
	assert.Equal(t, 10.0, total, "frozen gradient does not count")
	assert.Equal(t, []float32{100}, frozen.Grad().Data(), "frozen gradient is not scaled")
	assert.Nil(t, noGrad.Grad())
	assert.InDeltaSlice(t, []float32{3, 4}, live.Grad().Data(), 1e-6)
}

func TestClipGradNorm_InvalidThresholdPanics(t *testing.T) {
	assert.Panics(t, func() { ClipGradNorm[Backend](nil, 0) })
	assert.Panics(t, func() { ClipGradNorm[Backend](nil, -1) })
	assert.Panics(t, func() { ClipGradNorm[Backend](nil, math.NaN()) })
}

func TestSGD_Step(t *testing.T) {
	b := cpu.New()
	p := param(t, b, "w", []float32{1, 2}, []float32{0.5, -1})
	frozen := param(t, b, "f", []float32{1}, []float32{1})
	frozen.SetTrainable(false)

	opt := NewSGD([]*nn.Parameter[Backend]{p, frozen}, SGDConfig{LR: 0.1}, b)
	opt.Step()
	assert.InDeltaSlice(t, []float32{0.95, 2.1}, p.Tensor().Data(), 1e-6)
	assert.Equal(t, []float32{1}, frozen.Tensor().Data())

	opt.ZeroGrad()
	assert.Nil(t, p.Grad())
	opt.Step() // no gradients: no-op
	assert.InDeltaSlice(t, []float32{0.95, 2.1}, p.Tensor().Data(), 1e-6)
}

func TestSGD_Momentum(t *testing.T) {
	b := cpu.New()
	p := param(t, b, "w", []float32{0}, []float32{1})
	opt := NewSGD([]*nn.Parameter[Backend]{p}, SGDConfig{LR: 1, Momentum: 0.5}, b)

	opt.Step() // v = 1, w = -1
	opt.Step() // v = 1.5, w = -2.5
	assert.InDelta(t, -2.5, p.Tensor().Data()[0], 1e-6)

	sd := opt.StateDict()
	assert.Equal(t, []string{"velocity.0"}, sd.Keys())

	restored := NewSGD([]*nn.Parameter[Backend]{p}, SGDConfig{LR: 1, Momentum: 0.5}, b)
	require.NoError(t, restored.LoadStateDict(sd))
	v, _ := restored.StateDict().Get("velocity.0")
	assert.Equal(t, []float32{1.5}, v.AsFloat32())
}
