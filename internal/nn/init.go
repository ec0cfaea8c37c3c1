package nn

import (
	"math"
	"math/rand"

	"github.com/born-ml/relnet/internal/tensor"
)

// Xavier initializes weights using Xavier/Glorot uniform initialization.
//
// Samples from U(-bound, bound) with bound = sqrt(6 / (fan_in + fan_out)).
// A nil rng uses the global math/rand source.
func Xavier[B tensor.Backend](fanIn, fanOut int, shape tensor.Shape, rng *rand.Rand, backend B) *tensor.Tensor[float32, B] {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))

	uniform := rand.Float64 //nolint:gosec // G404: weight init is not security-sensitive
	if rng != nil {
		uniform = rng.Float64
	}

	t := tensor.Zeros[float32](shape, backend)
	data := t.Data()
	for i := range data {
		data[i] = float32((uniform()*2.0 - 1.0) * bound)
	}
	return t
}

// normalIniter is implemented by layers whose weights can be redrawn from a
// zero-mean normal distribution (Conv2D, Linear).
type normalIniter interface {
	InitWeightNormal(std float64, rng *rand.Rand)
}

// WeightsNormalInit redraws the weights of every Conv2D and Linear layer
// reachable from modules from N(0, std²). Biases and batch-norm parameters
// are left untouched.
func WeightsNormalInit[B tensor.Backend](std float64, rng *rand.Rand, modules ...Module[B]) {
	for _, m := range modules {
		Walk(m, func(sub Module[B]) {
			if ni, ok := sub.(normalIniter); ok {
				ni.InitWeightNormal(std, rng)
			}
		})
	}
}

// SetTrainable sets the trainable flag of every parameter of m.
func SetTrainable[B tensor.Backend](m Module[B], trainable bool) {
	for _, p := range m.Parameters() {
		p.SetTrainable(trainable)
	}
}

// trainer is implemented by layers that behave differently in training and
// evaluation (BatchNorm2D).
type trainer interface {
	Train(training bool)
}

// SetTraining switches every sub-module of m between training and evaluation.
func SetTraining[B tensor.Backend](m Module[B], training bool) {
	Walk(m, func(sub Module[B]) {
		if t, ok := sub.(trainer); ok {
			t.Train(training)
		}
	})
}

// NumParameters returns the total element count of m's parameters and how
// many of those are trainable.
func NumParameters[B tensor.Backend](m Module[B]) (total, trainable int) {
	for _, p := range m.Parameters() {
		n := p.Tensor().NumElements()
		total += n
		if p.Trainable() {
			trainable += n
		}
	}
	return total, trainable
}
