package nn

import (
	"fmt"
	"math"

	"github.com/born-ml/relnet/internal/state"
	"github.com/born-ml/relnet/internal/tensor"
)

// BatchNorm2D normalizes each channel of a [N, C, H, W] input:
//
//	y = (x - mean) / sqrt(var + eps) * weight + bias
//
// In training mode mean and var are the batch statistics and the running
// statistics are updated as running = (1 - momentum)*running + momentum*batch
// (momentum 0 freezes them). In evaluation mode the running statistics are used.
//
// State keys: "weight" and "bias" (affine only), "running_mean", "running_var".
type BatchNorm2D[B tensor.Backend] struct {
	numFeatures int
	eps         float64
	momentum    float64
	training    bool

	weight *Parameter[B] // nil unless affine
	bias   *Parameter[B] // nil unless affine

	runningMean *tensor.Tensor[float32, B]
	runningVar  *tensor.Tensor[float32, B]

	backend B
}

// NewBatchNorm2D creates a batch-norm layer over numFeatures channels.
// Weight starts at one, bias at zero, running mean at zero and running
// variance at one. The layer starts in training mode.
func NewBatchNorm2D[B tensor.Backend](numFeatures int, eps, momentum float64, affine bool, backend B) *BatchNorm2D[B] {
	if numFeatures <= 0 {
		panic(fmt.Sprintf("batchnorm2d: invalid number of features %d", numFeatures))
	}
	if eps <= 0 {
		panic(fmt.Sprintf("batchnorm2d: eps must be positive, got %g", eps))
	}

	shape := tensor.Shape{numFeatures}
	bn := &BatchNorm2D[B]{
		numFeatures: numFeatures,
		eps:         eps,
		momentum:    momentum,
		training:    true,
		runningMean: tensor.Zeros[float32](shape, backend),
		runningVar:  tensor.Ones[float32](shape, backend),
		backend:     backend,
	}
	if affine {
		bn.weight = NewParameter("weight", tensor.Ones[float32](shape, backend))
		bn.bias = NewParameter("bias", tensor.Zeros[float32](shape, backend))
	}
	return bn
}

// Forward normalizes input per channel.
func (bn *BatchNorm2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("batchnorm2d: expected 4D input [N,C,H,W], got %dD", len(shape)))
	}
	if shape[1] != bn.numFeatures {
		panic(fmt.Sprintf("batchnorm2d: input channels %d != expected %d", shape[1], bn.numFeatures))
	}

	mean := bn.runningMean.Data()
	variance := bn.runningVar.Data()
	if bn.training {
		mean, variance = bn.batchStats(input.Data(), shape)
	}

	// Fold normalization and affine transform into y = x*scale + shift.
	scale := make([]float32, bn.numFeatures)
	shift := make([]float32, bn.numFeatures)
	for c := range scale {
		s := 1 / math.Sqrt(float64(variance[c])+bn.eps)
		g, b := 1.0, 0.0
		if bn.weight != nil {
			g = float64(bn.weight.Tensor().Data()[c])
			b = float64(bn.bias.Tensor().Data()[c])
		}
		scale[c] = float32(s * g)
		shift[c] = float32(b - float64(mean[c])*s*g)
	}

	bshape := tensor.Shape{1, bn.numFeatures, 1, 1}
	scaleT, _ := tensor.FromSlice(scale, bshape, bn.backend)
	shiftT, _ := tensor.FromSlice(shift, bshape, bn.backend)
	return input.Mul(scaleT).Add(shiftT)
}

// batchStats returns per-channel batch mean and biased variance and folds
// them into the running statistics.
func (bn *BatchNorm2D[B]) batchStats(data []float32, shape tensor.Shape) (mean, variance []float32) {
	n, c, plane := shape[0], shape[1], shape[2]*shape[3]
	count := float64(n * plane)

	mean = make([]float32, c)
	variance = make([]float32, c)
	for ch := 0; ch < c; ch++ {
		var sum, sq float64
		for b := 0; b < n; b++ {
			for _, v := range data[(b*c+ch)*plane : (b*c+ch+1)*plane] {
				sum += float64(v)
				sq += float64(v) * float64(v)
			}
		}
		m := sum / count
		v := sq/count - m*m
		mean[ch] = float32(m)
		variance[ch] = float32(v)

		if bn.momentum != 0 {
			unbiased := v
			if count > 1 {
				unbiased = v * count / (count - 1)
			}
			rm := bn.runningMean.Data()
			rv := bn.runningVar.Data()
			rm[ch] = float32((1-bn.momentum)*float64(rm[ch]) + bn.momentum*m)
			rv[ch] = float32((1-bn.momentum)*float64(rv[ch]) + bn.momentum*unbiased)
		}
	}
	return mean, variance
}

// Parameters returns weight and bias when affine, otherwise nothing.
func (bn *BatchNorm2D[B]) Parameters() []*Parameter[B] {
	if bn.weight == nil {
		return nil
	}
	return []*Parameter[B]{bn.weight, bn.bias}
}

// StateDict returns the affine parameters followed by the running statistics.
func (bn *BatchNorm2D[B]) StateDict() *state.Dict {
	sd := paramState(bn.weight, bn.bias)
	sd.Set("running_mean", bn.runningMean.Raw())
	sd.Set("running_var", bn.runningVar.Raw())
	return sd
}

// LoadStateDict copies parameters and running statistics from sd.
func (bn *BatchNorm2D[B]) LoadStateDict(sd *state.Dict) error {
	return state.Copy("batchnorm2d", bn.StateDict(), sd)
}

// Train switches between batch statistics (true) and running statistics (false).
func (bn *BatchNorm2D[B]) Train(training bool) {
	bn.training = training
}

// Training reports whether the layer uses batch statistics.
func (bn *BatchNorm2D[B]) Training() bool {
	return bn.training
}

// Eps returns the variance epsilon.
func (bn *BatchNorm2D[B]) Eps() float64 {
	return bn.eps
}

// Momentum returns the running-statistics momentum.
func (bn *BatchNorm2D[B]) Momentum() float64 {
	return bn.momentum
}

// Affine reports whether the layer has learnable weight and bias.
func (bn *BatchNorm2D[B]) Affine() bool {
	return bn.weight != nil
}

// String returns a PyTorch-style description.
func (bn *BatchNorm2D[B]) String() string {
	return fmt.Sprintf("BatchNorm2D(%d, eps=%g, momentum=%g, affine=%v)", bn.numFeatures, bn.eps, bn.momentum, bn.weight != nil)
}
