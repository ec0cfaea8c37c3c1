package loader

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/relnet/internal/backend/cpu"
	"github.com/born-ml/relnet/internal/serialization"
	"github.com/born-ml/relnet/internal/state"
	"github.com/born-ml/relnet/internal/tensor"
)

// Legacy archive field names.
const (
	FieldWeights = "weights"
	FieldBiases  = "biases"
)

// Source names one array of a legacy archive and the axis permutation
// applied before copying it.
type Source struct {
	Key     string // legacy layer, e.g. "conv3_2"
	Field   string // FieldWeights or FieldBiases
	Permute []int  // nil copies as stored
}

// String returns "key/field".
func (s Source) String() string {
	return s.Key + "/" + s.Field
}

// Entry maps a destination state-dict key to its source.
type Entry struct {
	Dest   string
	Source Source
}

// RemapTable is an ordered list of destination to source mappings.
type RemapTable []Entry

// DestKeys returns the destination keys in table order.
func (t RemapTable) DestKeys() []string {
	keys := make([]string, len(t))
	for i, e := range t {
		keys[i] = e.Dest
	}
	return keys
}

// LegacyArchive holds legacy arrays by layer and field.
type LegacyArchive map[string]map[string]*tensor.RawTensor

// NewLegacyArchive groups sd's "<layer>/<field>" entries.
func NewLegacyArchive(sd *state.Dict) (LegacyArchive, error) {
	a := make(LegacyArchive)
	var err error
	sd.Range(func(name string, raw *tensor.RawTensor) bool {
		layer, field, ok := strings.Cut(name, "/")
		if !ok || layer == "" || field == "" || strings.Contains(field, "/") {
			err = errors.Errorf("legacy archive: entry %q is not <layer>/<field>", name)
			return false
		}
		if a[layer] == nil {
			a[layer] = make(map[string]*tensor.RawTensor)
		}
		a[layer][field] = raw
		return true
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ReadLegacyArchive reads a legacy .npz archive.
func ReadLegacyArchive(path string) (LegacyArchive, error) {
	sd, err := serialization.ReadNpz(path)
	if err != nil {
		return nil, err
	}
	a, err := NewLegacyArchive(sd)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	return a, nil
}

// Lookup returns the array named by src, before permutation.
func (a LegacyArchive) Lookup(src Source) (*tensor.RawTensor, error) {
	raw, ok := a[src.Key][src.Field]
	if !ok {
		return nil, &state.KeyError{Op: "legacy lookup", Key: src.String()}
	}
	return raw, nil
}

// Entries returns every "layer/field" name in sorted order.
func (a LegacyArchive) Entries() []string {
	var names []string
	for layer, fields := range a {
		for field := range fields {
			names = append(names, layer+"/"+field)
		}
	}
	sort.Strings(names)
	return names
}

// Apply copies every source array of table, permuted, into the destination
// array of dst in place. It returns the legacy entries consumed, in table
// order and without duplicates.
//
// A destination key absent from dst, a source absent from src, or a shape or
// dtype mismatch after permutation is an error. Arrays copied before the
// error stay written.
func Apply(table RemapTable, src LegacyArchive, dst *state.Dict, opts ...Option) ([]string, error) {
	o := collectOptions(opts)
	seen := make(map[string]bool)
	var used []string

	for _, e := range table {
		to, ok := dst.Get(e.Dest)
		if !ok {
			return used, &state.KeyError{Op: "remap", Key: e.Dest}
		}
		from, err := src.Lookup(e.Source)
		if err != nil {
			return used, errors.WithMessagef(err, "remap %q", e.Dest)
		}
		if e.Source.Permute != nil {
			if len(e.Source.Permute) != len(from.Shape()) {
				return used, &tensor.ShapeError{Op: "remap", Name: e.Dest, Want: to.Shape(), Got: from.Shape()}
			}
			from = from.Permute(e.Source.Permute...)
		}
		if err := to.CopyFrom(convertFloat(from, to.DType())); err != nil {
			return used, errors.WithMessagef(err, "remap %q <- %s", e.Dest, e.Source)
		}

		klog.V(1).Infof("remap: %s <- %s %v", e.Dest, e.Source, from.Shape())
		o.report(e.Dest)
		if name := e.Source.String(); !seen[name] {
			seen[name] = true
			used = append(used, name)
		}
	}
	return used, nil
}

var caster = cpu.New()

// convertFloat casts a floating-point src to a floating-point dtype. Any
// other mismatch is returned unchanged for CopyFrom to reject.
func convertFloat(src *tensor.RawTensor, dtype tensor.DataType) *tensor.RawTensor {
	if src.DType() == dtype || !src.DType().IsFloat() || !dtype.IsFloat() {
		return src
	}
	return caster.Cast(src, dtype)
}
