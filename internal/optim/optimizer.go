// Package optim implements parameter updates and gradient clipping.
//
// Gradients are read from nn.Parameter.Grad; parameters that are frozen
// (not trainable) or have no gradient are left untouched.
package optim

import (
	"github.com/born-ml/relnet/internal/nn"
	"github.com/born-ml/relnet/internal/tensor"
)

// Optimizer updates parameters from their gradients.
type Optimizer interface {
	// Step applies one update to every trainable parameter with a gradient.
	Step()

	// ZeroGrad clears the gradients of all managed parameters.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32
}

// active reports whether p takes part in updates and clipping.
func active[B tensor.Backend](p *nn.Parameter[B]) bool {
	return p.Trainable() && p.Grad() != nil
}
