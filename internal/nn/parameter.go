package nn

import (
	"github.com/born-ml/relnet/internal/tensor"
)

// Parameter represents a learnable array of a neural network module.
//
// Parameters carry a local name ("weight", "bias"), the value tensor, an
// optional gradient and a trainable flag. Frozen parameters keep their
// gradient slot but are skipped by optimizers and gradient clipping.
//
// Example:
//
//	weight := nn.NewParameter("weight", weightTensor)
//	weight.SetTrainable(false) // freeze
type Parameter[B tensor.Backend] struct {
	name      string
	tensor    *tensor.Tensor[float32, B]
	grad      *tensor.Tensor[float32, B] // nil until a gradient is assigned
	trainable bool
}

// NewParameter creates a new trainable parameter.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{
		name:      name,
		tensor:    t,
		trainable: true,
	}
}

// Name returns the parameter name.
func (p *Parameter[B]) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] {
	return p.tensor
}

// Grad returns the gradient tensor, or nil if none has been assigned.
func (p *Parameter[B]) Grad() *tensor.Tensor[float32, B] {
	return p.grad
}

// SetGrad sets the gradient tensor.
func (p *Parameter[B]) SetGrad(grad *tensor.Tensor[float32, B]) {
	p.grad = grad
}

// ZeroGrad clears the gradient tensor.
func (p *Parameter[B]) ZeroGrad() {
	p.grad = nil
}

// Trainable reports whether the parameter takes part in optimization.
func (p *Parameter[B]) Trainable() bool {
	return p.trainable
}

// SetTrainable sets the trainable flag.
func (p *Parameter[B]) SetTrainable(trainable bool) {
	p.trainable = trainable
}
