// Package state holds named tensor collections: model state dicts and the
// contents of checkpoint files.
package state

import (
	"sort"
	"strings"

	"github.com/born-ml/relnet/internal/tensor"
)

// Dict is an insertion-ordered mapping from parameter name to tensor.
//
// Order is preserved across Set (new keys append), Delete and Clone, so that
// walking a model's state dict yields keys in registration order.
// Dict is not safe for concurrent mutation.
type Dict struct {
	keys   []string
	values map[string]*tensor.RawTensor
}

// New returns an empty Dict.
func New() *Dict {
	return &Dict{values: make(map[string]*tensor.RawTensor)}
}

// FromMap builds a Dict from m with keys in sorted order.
func FromMap(m map[string]*tensor.RawTensor) *Dict {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := New()
	for _, k := range keys {
		d.Set(k, m[k])
	}
	return d
}

// Set stores t under name. Replacing an existing key keeps its position.
func (d *Dict) Set(name string, t *tensor.RawTensor) {
	if _, ok := d.values[name]; !ok {
		d.keys = append(d.keys, name)
	}
	d.values[name] = t
}

// Get returns the tensor stored under name.
func (d *Dict) Get(name string) (*tensor.RawTensor, bool) {
	t, ok := d.values[name]
	return t, ok
}

// Has reports whether name is present.
func (d *Dict) Has(name string) bool {
	_, ok := d.values[name]
	return ok
}

// Delete removes name. Deleting a missing key is a no-op.
func (d *Dict) Delete(name string) {
	if _, ok := d.values[name]; !ok {
		return
	}
	delete(d.values, name)
	for i, k := range d.keys {
		if k == name {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// DeleteFunc removes every key for which drop returns true and returns the
// removed keys in order.
func (d *Dict) DeleteFunc(drop func(name string) bool) []string {
	var removed []string
	kept := d.keys[:0]
	for _, k := range d.keys {
		if drop(k) {
			removed = append(removed, k)
			delete(d.values, k)
			continue
		}
		kept = append(kept, k)
	}
	d.keys = kept
	return removed
}

// Rename moves the tensor stored under from to to, keeping from's position.
// It returns false if from is missing. An existing entry named to is replaced.
func (d *Dict) Rename(from, to string) bool {
	t, ok := d.values[from]
	if !ok {
		return false
	}
	if from == to {
		return true
	}
	d.Delete(to)
	delete(d.values, from)
	d.values[to] = t
	for i, k := range d.keys {
		if k == from {
			d.keys[i] = to
			break
		}
	}
	return true
}

// Keys returns the names in insertion order. The slice is a copy.
func (d *Dict) Keys() []string {
	return append([]string(nil), d.keys...)
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	return len(d.keys)
}

// Range calls fn for every entry in order until fn returns false.
func (d *Dict) Range(fn func(name string, t *tensor.RawTensor) bool) {
	for _, k := range d.keys {
		if !fn(k, d.values[k]) {
			return
		}
	}
}

// Clone returns a copy of d. With deep set, tensors are copied too;
// otherwise the new Dict shares them.
func (d *Dict) Clone(deep bool) *Dict {
	out := &Dict{
		keys:   append([]string(nil), d.keys...),
		values: make(map[string]*tensor.RawTensor, len(d.values)),
	}
	for k, v := range d.values {
		if deep {
			v = v.Clone()
		}
		out.values[k] = v
	}
	return out
}

// WithPrefix returns a new Dict holding d's entries renamed to prefix + "." + name.
// An empty prefix returns a shallow clone.
func (d *Dict) WithPrefix(prefix string) *Dict {
	if prefix == "" {
		return d.Clone(false)
	}
	out := New()
	for _, k := range d.keys {
		out.Set(prefix+"."+k, d.values[k])
	}
	return out
}

// Sub returns the entries whose names start with prefix + ".", with the
// prefix stripped.
func (d *Dict) Sub(prefix string) *Dict {
	out := New()
	p := prefix + "."
	for _, k := range d.keys {
		if rest, ok := strings.CutPrefix(k, p); ok {
			out.Set(rest, d.values[k])
		}
	}
	return out
}

// Merge appends all entries of other to d, overwriting duplicates in place.
func (d *Dict) Merge(other *Dict) {
	for _, k := range other.keys {
		d.Set(k, other.values[k])
	}
}

// Update overwrites entries of d that also exist in other and returns the
// keys of other that d does not have.
func (d *Dict) Update(other *Dict) (unknown []string) {
	for _, k := range other.keys {
		if _, ok := d.values[k]; !ok {
			unknown = append(unknown, k)
			continue
		}
		d.values[k] = other.values[k]
	}
	return unknown
}

// Missing returns the keys of d that other does not have.
func (d *Dict) Missing(other *Dict) []string {
	var missing []string
	for _, k := range d.keys {
		if !other.Has(k) {
			missing = append(missing, k)
		}
	}
	return missing
}

// NumElements returns the total element count over all tensors.
func (d *Dict) NumElements() int {
	n := 0
	for _, v := range d.values {
		n += v.NumElements()
	}
	return n
}

// ByteSize returns the total size of all tensor buffers.
func (d *Dict) ByteSize() int {
	n := 0
	for _, v := range d.values {
		n += v.ByteSize()
	}
	return n
}
