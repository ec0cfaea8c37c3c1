package nn

import (
	"fmt"

	"github.com/born-ml/relnet/internal/state"
	"github.com/born-ml/relnet/internal/tensor"
)

// ReLU applies max(0, x) element-wise. It has no parameters.
type ReLU[B tensor.Backend] struct {
	backend B
}

// NewReLU creates a ReLU activation.
func NewReLU[B tensor.Backend](backend B) *ReLU[B] {
	return &ReLU[B]{backend: backend}
}

// Forward applies ReLU.
func (r *ReLU[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return tensor.New[float32, B](r.backend.ReLU(input.Raw()), r.backend)
}

// Parameters returns nil.
func (r *ReLU[B]) Parameters() []*Parameter[B] { return nil }

// StateDict returns an empty dict.
func (r *ReLU[B]) StateDict() *state.Dict { return state.New() }

// LoadStateDict is a no-op.
func (r *ReLU[B]) LoadStateDict(*state.Dict) error { return nil }

// MaxPool2D applies 2D max pooling over [N, C, H, W] inputs.
type MaxPool2D[B tensor.Backend] struct {
	kernelSize int
	stride     int
	backend    B
}

// NewMaxPool2D creates a max-pooling layer.
func NewMaxPool2D[B tensor.Backend](kernelSize, stride int, backend B) *MaxPool2D[B] {
	if kernelSize <= 0 || stride <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid kernel size %d or stride %d", kernelSize, stride))
	}
	return &MaxPool2D[B]{kernelSize: kernelSize, stride: stride, backend: backend}
}

// Forward applies max pooling.
func (m *MaxPool2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return tensor.New[float32, B](m.backend.MaxPool2D(input.Raw(), m.kernelSize, m.stride), m.backend)
}

// Parameters returns nil.
func (m *MaxPool2D[B]) Parameters() []*Parameter[B] { return nil }

// StateDict returns an empty dict.
func (m *MaxPool2D[B]) StateDict() *state.Dict { return state.New() }

// LoadStateDict is a no-op.
func (m *MaxPool2D[B]) LoadStateDict(*state.Dict) error { return nil }

// KernelSize returns the pooling window size.
func (m *MaxPool2D[B]) KernelSize() int { return m.kernelSize }

// Stride returns the pooling stride.
func (m *MaxPool2D[B]) Stride() int { return m.stride }

// Flatten reshapes [N, d1, d2, ...] into [N, d1*d2*...].
type Flatten[B tensor.Backend] struct{}

// NewFlatten creates a Flatten layer.
func NewFlatten[B tensor.Backend]() *Flatten[B] {
	return &Flatten[B]{}
}

// Forward flattens all but the batch dimension.
func (f *Flatten[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) < 2 {
		panic(fmt.Sprintf("flatten: expected at least 2D input, got %dD", len(shape)))
	}
	return input.Reshape(shape[0], shape[1:].NumElements())
}

// Parameters returns nil.
func (f *Flatten[B]) Parameters() []*Parameter[B] { return nil }

// StateDict returns an empty dict.
func (f *Flatten[B]) StateDict() *state.Dict { return state.New() }

// LoadStateDict is a no-op.
func (f *Flatten[B]) LoadStateDict(*state.Dict) error { return nil }
