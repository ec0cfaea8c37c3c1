// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package loader transplants pretrained weights into relnet models.
//
// Two sources are supported:
//   - legacy .npz archives with "<layer>/<weights|biases>" entries
//     (LoadPretrainedNpy, LoadPretrainedRONpy)
//   - Faster R-CNN VGG detection checkpoints in SafeTensors format
//     (PretrainWithDetection)
//
// Example:
//
//	// model is any nn.Module whose state keys follow "conv<i>.<j>.conv.weight"
//	// and "fc6.fc.weight".
//	if err := loader.LoadPretrainedRONpy[*cpu.Backend](path, model); err != nil {
//	    log.Fatal(err)
//	}
package loader

import (
	"github.com/born-ml/relnet/internal/loader"
	"github.com/born-ml/relnet/internal/nn"
	"github.com/born-ml/relnet/internal/state"
	"github.com/born-ml/relnet/internal/tensor"
)

// Option configures a weight transplant.
type Option = loader.Option

// WithProgress calls fn after each destination array is written.
func WithProgress(fn func(key string)) Option {
	return loader.WithProgress(fn)
}

// Pair maps a fully connected block to a legacy layer.
type Pair = loader.Pair

// Source names one legacy array and its axis permutation.
type Source = loader.Source

// Entry maps a destination key to its source.
type Entry = loader.Entry

// RemapTable is an ordered list of destination to source mappings.
type RemapTable = loader.RemapTable

// LegacyArchive holds legacy arrays by layer and field.
type LegacyArchive = loader.LegacyArchive

// DetectionMapper renames detection classifier keys.
type DetectionMapper = loader.DetectionMapper

// Legacy archive field names.
const (
	FieldWeights = loader.FieldWeights
	FieldBiases  = loader.FieldBiases
)

// Pair presets.
var (
	DetectionPairs = loader.DetectionPairs
	ObjectPairs    = loader.ObjectPairs
)

// VGGTable builds the remap table for a VGG-style model's state keys.
func VGGTable(destKeys []string, pairs []Pair) (RemapTable, error) {
	return loader.VGGTable(destKeys, pairs)
}

// ReadLegacyArchive reads a legacy .npz archive.
func ReadLegacyArchive(path string) (LegacyArchive, error) {
	return loader.ReadLegacyArchive(path)
}

// Apply copies every source array of table, permuted, into dst.
func Apply(table RemapTable, src LegacyArchive, dst *state.Dict, opts ...Option) ([]string, error) {
	return loader.Apply(table, src, dst, opts...)
}

// LoadPairs reads fully connected pairs from a YAML file.
func LoadPairs(path string) ([]Pair, error) {
	return loader.LoadPairs(path)
}

// LoadPretrainedNpy initializes m's convolutions and the blocks named by
// pairs from a legacy archive.
func LoadPretrainedNpy[B tensor.Backend](path string, m nn.Module[B], pairs []Pair, opts ...Option) error {
	return loader.LoadPretrainedNpy(path, m, pairs, opts...)
}

// LoadPretrainedRONpy is LoadPretrainedNpy with ObjectPairs.
func LoadPretrainedRONpy[B tensor.Backend](path string, m nn.Module[B], opts ...Option) error {
	return loader.LoadPretrainedRONpy(path, m, opts...)
}

// MigrateDetection renames a detection checkpoint into a model's naming.
func MigrateDetection(det *state.Dict, targetKeys []string) (*state.Dict, error) {
	return loader.MigrateDetection(det, targetKeys)
}

// PretrainWithDetection initializes m from a SafeTensors detection checkpoint.
func PretrainWithDetection[B tensor.Backend](path string, m nn.Module[B], opts ...Option) error {
	return loader.PretrainWithDetection(path, m, opts...)
}
