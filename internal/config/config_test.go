package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "vgg16", cfg.Name)
	assert.Len(t, cfg.Stages, 5)
	assert.Equal(t, 512*7*7, cfg.FeatureSize())
}

func TestSaveLoad(t *testing.T) {
	t.Setenv("RELNET_SEED", "")
	t.Setenv("RELNET_BATCH_NORM", "")
	path := filepath.Join(t.TempDir(), "sub", "model.yaml")

	cfg := Default()
	cfg.Stages = []Stage{{Channels: 4, Blocks: 1}, {Channels: 8, Blocks: 2}}
	cfg.BatchNorm = true
	cfg.Seed = 7
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	t.Setenv("RELNET_SEED", "")
	t.Setenv("RELNET_BATCH_NORM", "")
	path := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fc_width: 32\nobject_branch: false\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.FCWidth)
	assert.False(t, cfg.ObjectBranch)
	assert.Equal(t, 3, cfg.InChannels)
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RELNET_SEED", "42")
	t.Setenv("RELNET_BATCH_NORM", "true")
	path := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: tiny\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.True(t, cfg.BatchNorm)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed", "stages: [\n"},
		{"even kernel", "kernel: 4\n"},
		{"empty stage", "stages:\n  - channels: 0\n    blocks: 1\n"},
		{"no classes", "num_classes: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
