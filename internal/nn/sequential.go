package nn

import (
	"strconv"

	"github.com/born-ml/relnet/internal/state"
	"github.com/born-ml/relnet/internal/tensor"
)

// Sequential is a container that chains modules in sequence.
//
// The output of each module is passed as input to the next. State-dict keys
// of the i-th module are prefixed with "i.", so a ConvBlock at position 1
// contributes "1.conv.weight".
//
// Example:
//
//	stage := nn.NewSequential[Backend](
//	    nn.NewConvBlock(3, 64, 3, cfg, backend),
//	    nn.NewConvBlock(64, 64, 3, cfg, backend),
//	)
type Sequential[B tensor.Backend] struct {
	modules []Module[B]
}

// NewSequential creates a new Sequential container.
func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	return &Sequential[B]{
		modules: modules,
	}
}

// Forward passes input through every module in order.
func (s *Sequential[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	output := input
	for _, module := range s.modules {
		output = module.Forward(output)
	}
	return output
}

// Parameters returns the parameters of all modules in order.
func (s *Sequential[B]) Parameters() []*Parameter[B] {
	return childParameters(s.Children())
}

// Children returns the modules named by their index.
func (s *Sequential[B]) Children() []Child[B] {
	children := make([]Child[B], len(s.modules))
	for i, m := range s.modules {
		children[i] = Child[B]{Name: strconv.Itoa(i), Module: m}
	}
	return children
}

// StateDict returns the merged state of all modules with index prefixes.
func (s *Sequential[B]) StateDict() *state.Dict {
	return childState(s.Children())
}

// LoadStateDict loads every module's state from index-prefixed keys.
func (s *Sequential[B]) LoadStateDict(sd *state.Dict) error {
	return state.Copy("sequential", s.StateDict(), sd)
}

// Add appends a module to the sequence.
func (s *Sequential[B]) Add(module Module[B]) {
	s.modules = append(s.modules, module)
}

// Len returns the number of modules.
func (s *Sequential[B]) Len() int {
	return len(s.modules)
}

// Module returns the module at index.
func (s *Sequential[B]) Module(index int) Module[B] {
	if index < 0 || index >= len(s.modules) {
		panic("Sequential.Module: index out of bounds")
	}
	return s.modules[index]
}
