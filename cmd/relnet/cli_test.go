package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/relnet/internal/serialization"
	"github.com/born-ml/relnet/internal/state"
	"github.com/born-ml/relnet/internal/tensor"
)

const tinyConfig = `name: tiny
in_channels: 1
stages:
  - channels: 2
    blocks: 1
kernel: 3
pool_size: 1
fc_width: 3
object_branch: true
num_classes: 2
seed: 1
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func filled(t *testing.T, start float32, dims ...int) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(tensor.Shape(dims), tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	for i := range raw.AsFloat32() {
		raw.AsFloat32()[i] = start + float32(i)
	}
	return raw
}

func writeConfig(t *testing.T, dir string) string {
	path := filepath.Join(dir, "tiny.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tinyConfig), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "relnet "+version+"\n", out)
}

func TestConvertNpyAndInspect(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	legacy := state.New()
	legacy.Set("conv1_1/weights", filled(t, 0, 3, 3, 1, 2))
	legacy.Set("conv1_1/biases", filled(t, 10, 2))
	legacy.Set("fc6/weights", filled(t, 20, 2, 3))
	legacy.Set("fc6/biases", filled(t, 30, 3))
	legacy.Set("fc7/weights", filled(t, 40, 3, 3))
	legacy.Set("fc7/biases", filled(t, 50, 3))
	in := filepath.Join(dir, "vgg.npz")
	require.NoError(t, serialization.WriteNpz(in, legacy))

	out := filepath.Join(dir, "relnet.safetensors")
	stdout, err := run(t, "--config", cfg, "convert-npy", "--ro", in, out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "wrote "+out)

	sd, metadata, err := serialization.ReadSafeTensors(out)
	require.NoError(t, err)
	assert.Equal(t, "tiny", metadata["model"])
	obj, ok := sd.Get("fc7_obj.fc.bias")
	require.True(t, ok)
	assert.Equal(t, []float32{50, 51, 52}, obj.AsFloat32())

	stdout, err = run(t, "inspect", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "conv1.0.conv.weight")
	assert.Contains(t, stdout, "[2 1 3 3]")
	assert.Contains(t, stdout, "Metadata")
	assert.Contains(t, stdout, "format")
	assert.Contains(t, stdout, "relnet")
}

func TestMigrateDet(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	det := state.New()
	det.Set("rpn_net.conv.weight", filled(t, 0, 1))
	det.Set("vgg.features.0.weight", filled(t, 0, 2, 1, 3, 3))
	det.Set("vgg.features.0.bias", filled(t, 100, 2))
	det.Set("vgg.classifier.0.weight", filled(t, 0, 3, 2))
	det.Set("vgg.classifier.0.bias", filled(t, 0, 3))
	det.Set("vgg.classifier.3.weight", filled(t, 0, 3, 3))
	det.Set("vgg.classifier.3.bias", filled(t, 0, 3))
	det.Set("cls_score_net.weight", filled(t, 0, 2, 3))
	det.Set("cls_score_net.bias", filled(t, 7, 2))
	in := filepath.Join(dir, "det.safetensors")
	require.NoError(t, serialization.WriteSafeTensors(in, det, nil))

	out := filepath.Join(dir, "relnet.safetensors")
	_, err := run(t, "--config", cfg, "migrate-det", in, out)
	require.NoError(t, err)

	sd, _, err := serialization.ReadSafeTensors(out)
	require.NoError(t, err)
	bias, _ := sd.Get("conv1.0.conv.bias")
	assert.Equal(t, []float32{100, 101}, bias.AsFloat32())
	cls, _ := sd.Get("fc_obj.fc.bias")
	assert.Equal(t, []float32{7, 8}, cls.AsFloat32())
}

func TestErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, "inspect", filepath.Join(dir, "model.bin"))
	assert.ErrorContains(t, err, "unsupported file type")

	_, err = run(t, "--config", writeConfig(t, dir), "convert-npy", filepath.Join(dir, "absent.npz"), filepath.Join(dir, "out.safetensors"))
	assert.Error(t, err)

	_, err = run(t, "convert-npy", "only-one-arg")
	assert.Error(t, err)
}
