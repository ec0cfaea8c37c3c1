// Package config holds the YAML model configuration used by the relnet CLI.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Model describes a VGG-style backbone with its fully connected heads.
type Model struct {
	Name string `yaml:"name"`

	// Backbone
	InChannels int     `yaml:"in_channels"`
	Stages     []Stage `yaml:"stages"`
	Kernel     int     `yaml:"kernel"`
	BatchNorm  bool    `yaml:"batch_norm"`

	// Heads
	PoolSize     int  `yaml:"pool_size"` // spatial size of pooled regions fed to fc6
	FCWidth      int  `yaml:"fc_width"`
	ObjectBranch bool `yaml:"object_branch"` // fc6_obj, fc7_obj and fc_obj
	NumClasses   int  `yaml:"num_classes"`

	// Seed for weight initialization; 0 uses the global source.
	Seed int64 `yaml:"seed"`
}

// Stage is one group of convolution blocks sharing a width.
type Stage struct {
	Channels int `yaml:"channels"`
	Blocks   int `yaml:"blocks"`
}

// Default returns the VGG16 backbone with the object branch enabled.
func Default() *Model {
	return &Model{
		Name:       "vgg16",
		InChannels: 3,
		Stages: []Stage{
			{Channels: 64, Blocks: 2},
			{Channels: 128, Blocks: 2},
			{Channels: 256, Blocks: 3},
			{Channels: 512, Blocks: 3},
			{Channels: 512, Blocks: 3},
		},
		Kernel:       3,
		PoolSize:     7,
		FCWidth:      4096,
		ObjectBranch: true,
		NumClasses:   151,
	}
}

// Load reads a model configuration from path. Fields absent from the file
// keep their Default values. A missing file yields the defaults.
func Load(path string) (*Model, error) {
	cfg := Default()

	//nolint:gosec // G304: path is supplied by the user
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrap(err, "failed to read config")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessage(err, path)
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML.
func (m *Model) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	//nolint:gosec // G306: config files are not secret
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write config")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (m *Model) applyEnvOverrides() {
	if v := os.Getenv("RELNET_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			m.Seed = seed
		}
	}
	if v := os.Getenv("RELNET_BATCH_NORM"); v != "" {
		if bn, err := strconv.ParseBool(v); err == nil {
			m.BatchNorm = bn
		}
	}
}

// Validate checks that the configuration describes a buildable model.
func (m *Model) Validate() error {
	if m.InChannels <= 0 {
		return errors.Errorf("in_channels must be positive, got %d", m.InChannels)
	}
	if len(m.Stages) == 0 {
		return errors.New("at least one stage is required")
	}
	for i, s := range m.Stages {
		if s.Channels <= 0 || s.Blocks <= 0 {
			return errors.Errorf("stage %d: channels and blocks must be positive, got %d and %d", i+1, s.Channels, s.Blocks)
		}
	}
	if m.Kernel <= 0 || m.Kernel%2 == 0 {
		return errors.Errorf("kernel must be a positive odd size, got %d", m.Kernel)
	}
	if m.PoolSize <= 0 || m.FCWidth <= 0 {
		return errors.Errorf("pool_size and fc_width must be positive, got %d and %d", m.PoolSize, m.FCWidth)
	}
	if m.ObjectBranch && m.NumClasses <= 0 {
		return errors.Errorf("num_classes must be positive with the object branch, got %d", m.NumClasses)
	}
	return nil
}

// FeatureSize returns the flattened size of a pooled region entering fc6.
func (m *Model) FeatureSize() int {
	last := m.Stages[len(m.Stages)-1].Channels
	return last * m.PoolSize * m.PoolSize
}
