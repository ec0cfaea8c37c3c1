// Package nn implements the convolutional building blocks used by relnet.
//
// This package provides:
//   - Module interface: Base interface for all NN components
//   - Parameter: Weights and biases with a trainable flag and gradient slot
//   - Layers: Conv2D, BatchNorm2D, Linear, ReLU, MaxPool2D, Flatten
//   - Blocks: ConvBlock (conv -> bn -> relu) and FC (linear -> relu)
//   - Sequential: Container for stacking layers
//   - SaveNet / LoadNet: named-array checkpoints
//
// Design inspired by PyTorch's nn.Module but adapted for Go generics.
package nn

import (
	"github.com/born-ml/relnet/internal/state"
	"github.com/born-ml/relnet/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Modules can be composed to build complex architectures:
//
//	model := nn.NewSequential[Backend](
//	    nn.NewConvBlock(3, 64, 3, nn.DefaultConvBlockConfig(), backend),
//	    nn.NewMaxPool2D[Backend](2, 2, backend),
//	)
//
// Type parameter B must satisfy the tensor.Backend interface.
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns all parameters of this module, including those of
	// nested modules. Returns an empty slice for parameter-free modules.
	Parameters() []*Parameter[B]

	// StateDict returns every named array of the module: parameters and
	// buffers such as batch-norm running statistics. The tensors are the
	// module's own storage, not copies.
	StateDict() *state.Dict

	// LoadStateDict copies arrays from sd into the module in place.
	// Every key of StateDict must be present in sd with matching shape and
	// dtype; keys of sd the module does not have are ignored.
	LoadStateDict(sd *state.Dict) error
}

// Child is a named sub-module.
type Child[B tensor.Backend] struct {
	Name   string
	Module Module[B]
}

// Container is implemented by modules that hold sub-modules.
type Container[B tensor.Backend] interface {
	Children() []Child[B]
}

// Walk calls fn for m and, depth first, for every sub-module reachable
// through Container.
func Walk[B tensor.Backend](m Module[B], fn func(Module[B])) {
	fn(m)
	if c, ok := m.(Container[B]); ok {
		for _, child := range c.Children() {
			if child.Module != nil {
				Walk(child.Module, fn)
			}
		}
	}
}

// childState assembles a state dict from named children, prefixing each
// child's keys with its name.
func childState[B tensor.Backend](children []Child[B]) *state.Dict {
	sd := state.New()
	for _, c := range children {
		if c.Module == nil {
			continue
		}
		sd.Merge(c.Module.StateDict().WithPrefix(c.Name))
	}
	return sd
}

// childParameters concatenates the parameters of children in order.
func childParameters[B tensor.Backend](children []Child[B]) []*Parameter[B] {
	var params []*Parameter[B]
	for _, c := range children {
		if c.Module == nil {
			continue
		}
		params = append(params, c.Module.Parameters()...)
	}
	return params
}

// paramState builds a state dict from leaf parameters keyed by their names.
func paramState[B tensor.Backend](params ...*Parameter[B]) *state.Dict {
	sd := state.New()
	for _, p := range params {
		if p != nil {
			sd.Set(p.Name(), p.Tensor().Raw())
		}
	}
	return sd
}
