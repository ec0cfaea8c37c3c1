package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/relnet/internal/backend/cpu"
	"github.com/born-ml/relnet/internal/config"
	"github.com/born-ml/relnet/internal/nn"
	"github.com/born-ml/relnet/internal/tensor"
)

type Backend = *cpu.CPUBackend

// tinyConfig has two stages of widths 2 and 4 and 2x2 pooled regions.
func tinyConfig() *config.Model {
	return &config.Model{
		Name:         "tiny",
		InChannels:   1,
		Stages:       []config.Stage{{Channels: 2, Blocks: 1}, {Channels: 4, Blocks: 2}},
		Kernel:       3,
		PoolSize:     2,
		FCWidth:      5,
		ObjectBranch: true,
		NumClasses:   3,
		Seed:         1,
	}
}

func TestVGG_StateKeys(t *testing.T) {
	m := NewVGG(tinyConfig(), cpu.New())
	assert.Equal(t, []string{
		"conv1.0.conv.weight", "conv1.0.conv.bias",
		"conv2.0.conv.weight", "conv2.0.conv.bias",
		"conv2.1.conv.weight", "conv2.1.conv.bias",
		"fc6.fc.weight", "fc6.fc.bias",
		"fc7.fc.weight", "fc7.fc.bias",
		"fc6_obj.fc.weight", "fc6_obj.fc.bias",
		"fc7_obj.fc.weight", "fc7_obj.fc.bias",
		"fc_obj.fc.weight", "fc_obj.fc.bias",
	}, m.StateDict().Keys())

	w, ok := m.StateDict().Get("fc6.fc.weight")
	require.True(t, ok)
	assert.Equal(t, tensor.Shape{5, 16}, w.Shape())
}

func TestVGG_BatchNormKeys(t *testing.T) {
	cfg := tinyConfig()
	cfg.BatchNorm = true
	cfg.ObjectBranch = false
	m := NewVGG(cfg, cpu.New())

	keys := m.StateDict().Keys()
	assert.Contains(t, keys, "conv2.1.bn.running_var")
	assert.NotContains(t, keys, "fc_obj.fc.weight")
	assert.False(t, m.HasObjectBranch())
	assert.Panics(t, func() { m.ObjectScores(nil) })
}

func TestVGG_Forward(t *testing.T) {
	b := cpu.New()
	m := NewVGG(tinyConfig(), b)

	img := tensor.Ones[float32](tensor.Shape{2, 1, 8, 8}, b)
	feat := m.Forward(img)
	assert.Equal(t, tensor.Shape{2, 4, 4, 4}, feat.Shape())

	pooled := tensor.Ones[float32](tensor.Shape{3, 4, 2, 2}, b)
	assert.Equal(t, tensor.Shape{3, 5}, m.Regions(pooled).Shape())
	assert.Equal(t, tensor.Shape{3, 3}, m.ObjectScores(pooled).Shape())
}

func TestVGG_SeedReproducible(t *testing.T) {
	a := NewVGG(tinyConfig(), cpu.New())
	b := NewVGG(tinyConfig(), cpu.New())
	wa, _ := a.StateDict().Get("fc7.fc.weight")
	wb, _ := b.StateDict().Get("fc7.fc.weight")
	assert.Equal(t, wa.AsFloat32(), wb.AsFloat32())

	bias, _ := a.StateDict().Get("fc7.fc.bias")
	for _, v := range bias.AsFloat32() {
		assert.Zero(t, v)
	}
}

func TestVGG_FreezeStages(t *testing.T) {
	m := NewVGG(tinyConfig(), cpu.New())
	total, trainable := nn.NumParameters[Backend](m)
	m.FreezeStages(1)
	_, after := nn.NumParameters[Backend](m)

	stage1, _ := nn.NumParameters[Backend](m.Stage(0))
	assert.Equal(t, trainable-stage1, after)
	assert.Equal(t, total, trainable)
	assert.Equal(t, 2, m.NumStages())
}

func TestVGG_LoadStateDict(t *testing.T) {
	src := NewVGG(tinyConfig(), cpu.New())
	cfg := tinyConfig()
	cfg.Seed = 2
	dst := NewVGG(cfg, cpu.New())

	require.NoError(t, dst.LoadStateDict(src.StateDict()))
	want, _ := src.StateDict().Get("conv2.1.conv.weight")
	got, _ := dst.StateDict().Get("conv2.1.conv.weight")
	assert.Equal(t, want.AsFloat32(), got.AsFloat32())
}

func TestNewVGG_InvalidConfig(t *testing.T) {
	cfg := tinyConfig()
	cfg.Kernel = 2
	assert.Panics(t, func() { NewVGG(cfg, cpu.New()) })
}
