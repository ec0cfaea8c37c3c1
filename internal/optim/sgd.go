package optim

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/born-ml/relnet/internal/nn"
	"github.com/born-ml/relnet/internal/state"
	"github.com/born-ml/relnet/internal/tensor"
)

// SGD implements Stochastic Gradient Descent with optional momentum.
//
// Update rule without momentum:
//
//	param = param - lr * grad
//
// With momentum:
//
//	velocity = momentum * velocity + grad
//	param = param - lr * velocity
//
// Example:
//
//	optimizer := optim.NewSGD(model.Parameters(), optim.SGDConfig{LR: 0.01, Momentum: 0.9}, backend)
//	optim.ClipGradNorm(model.Parameters(), 10)
//	optimizer.Step()
//	optimizer.ZeroGrad()
type SGD[B tensor.Backend] struct {
	params     []*nn.Parameter[B]
	lr         float32
	momentum   float32
	velocities map[*nn.Parameter[B]]*tensor.Tensor[float32, B]
	backend    B
}

// SGDConfig contains configuration for the SGD optimizer.
type SGDConfig struct {
	LR       float32 // Learning rate (default: 0.01)
	Momentum float32 // Momentum factor (default: 0.0, range: [0, 1))
}

// NewSGD creates a new SGD optimizer.
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig, backend B) *SGD[B] {
	if config.LR == 0 {
		config.LR = 0.01
	}

	return &SGD[B]{
		params:     params,
		lr:         config.LR,
		momentum:   config.Momentum,
		velocities: make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B]),
		backend:    backend,
	}
}

// Step updates every trainable parameter that has a gradient.
func (s *SGD[B]) Step() {
	for _, param := range s.params {
		if !active(param) {
			continue
		}

		update := param.Grad()
		if s.momentum != 0 {
			velocity, exists := s.velocities[param]
			if !exists {
				velocity = tensor.Zeros[float32](param.Tensor().Shape(), s.backend)
				s.velocities[param] = velocity
			}
			next := velocity.MulScalar(s.momentum).Add(update)
			copy(velocity.Data(), next.Data())
			update = velocity
		}

		updated := param.Tensor().Add(update.MulScalar(-s.lr))
		copy(param.Tensor().Data(), updated.Data())
	}
}

// ZeroGrad clears all parameter gradients.
func (s *SGD[B]) ZeroGrad() {
	for _, param := range s.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (s *SGD[B]) GetLR() float32 {
	return s.lr
}

// SetLR updates the learning rate.
func (s *SGD[B]) SetLR(lr float32) {
	s.lr = lr
}

// StateDict returns the momentum buffers keyed "velocity.<param index>".
func (s *SGD[B]) StateDict() *state.Dict {
	sd := state.New()
	for i, param := range s.params {
		if velocity, ok := s.velocities[param]; ok {
			sd.Set(fmt.Sprintf("velocity.%d", i), velocity.Raw())
		}
	}
	return sd
}

// LoadStateDict restores momentum buffers saved by StateDict.
func (s *SGD[B]) LoadStateDict(sd *state.Dict) error {
	for i, param := range s.params {
		raw, ok := sd.Get(fmt.Sprintf("velocity.%d", i))
		if !ok {
			continue
		}
		velocity := tensor.Zeros[float32](param.Tensor().Shape(), s.backend)
		if err := velocity.Raw().CopyFrom(raw); err != nil {
			return errors.Wrapf(err, "velocity %d", i)
		}
		s.velocities[param] = velocity
	}
	return nil
}

var _ Optimizer = (*SGD[tensor.Backend])(nil)
