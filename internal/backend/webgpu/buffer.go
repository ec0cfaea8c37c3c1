// Package webgpu places host arrays in GPU memory through WebGPU.
//
// Only Windows builds link the native wgpu library; elsewhere New returns
// ErrUnavailable.
package webgpu

import (
	"github.com/pkg/errors"

	"github.com/born-ml/relnet/internal/tensor"
)

// ErrUnavailable is returned by New when no WebGPU device can be used.
var ErrUnavailable = errors.New("webgpu: not available")

// releaser is the platform buffer handle.
type releaser interface {
	Release()
}

// Buffer is a GPU-resident copy of a host array.
type Buffer struct {
	handle releaser
	shape  tensor.Shape
	dtype  tensor.DataType
	size   uint64 // payload bytes, before alignment
}

// Shape returns the shape of the stored array.
func (b *Buffer) Shape() tensor.Shape { return b.shape }

// DType returns the element type of the stored array.
func (b *Buffer) DType() tensor.DataType { return b.dtype }

// Size returns the payload size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Release frees the GPU memory. Releasing twice is a no-op.
func (b *Buffer) Release() {
	if b.handle != nil {
		b.handle.Release()
		b.handle = nil
	}
}

// alignedSize rounds n up to the 4-byte copy alignment WebGPU requires.
func alignedSize(n uint64) uint64 {
	return (n + 3) &^ 3
}
