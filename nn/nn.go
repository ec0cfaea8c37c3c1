// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"math/rand"

	"github.com/born-ml/relnet/internal/nn"
	"github.com/born-ml/relnet/internal/state"
	"github.com/born-ml/relnet/internal/tensor"
)

// Module interface defines the common interface for all neural network modules.
type Module[B tensor.Backend] = nn.Module[B]

// Container is implemented by modules with named sub-modules.
type Container[B tensor.Backend] = nn.Container[B]

// Child is a named sub-module.
type Child[B tensor.Backend] = nn.Child[B]

// Parameter is a named array with a gradient slot and a trainable flag.
type Parameter[B tensor.Backend] = nn.Parameter[B]

// StateDict is an insertion-ordered mapping from names to arrays.
type StateDict = state.Dict

// NewStateDict returns an empty StateDict.
func NewStateDict() *StateDict {
	return state.New()
}

// KeyError reports a missing or unexpected state-dict key.
type KeyError = state.KeyError

// NewParameter creates a new parameter with the given name and tensor.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return nn.NewParameter(name, t)
}

// Layers

// Conv2D represents a 2D convolutional layer.
type Conv2D[B tensor.Backend] = nn.Conv2D[B]

// NewConv2D creates a 2D convolution with Xavier-initialized weights.
func NewConv2D[B tensor.Backend](
	inChannels, outChannels, kernelH, kernelW, stride, padding int,
	useBias bool,
	backend B,
) *Conv2D[B] {
	return nn.NewConv2D(inChannels, outChannels, kernelH, kernelW, stride, padding, useBias, backend)
}

// BatchNorm2D normalizes each channel of [N,C,H,W] inputs.
type BatchNorm2D[B tensor.Backend] = nn.BatchNorm2D[B]

// NewBatchNorm2D creates a batch-norm layer with running statistics.
func NewBatchNorm2D[B tensor.Backend](numFeatures int, eps, momentum float64, affine bool, backend B) *BatchNorm2D[B] {
	return nn.NewBatchNorm2D(numFeatures, eps, momentum, affine, backend)
}

// Linear represents a fully connected (dense) layer.
type Linear[B tensor.Backend] = nn.Linear[B]

// NewLinear creates a new linear layer with Xavier initialization.
//
// Example:
//
//	backend := cpu.New()
//	layer := nn.NewLinear(4096, 4096, backend)
func NewLinear[B tensor.Backend](inFeatures, outFeatures int, backend B) *Linear[B] {
	return nn.NewLinear(inFeatures, outFeatures, backend)
}

// ReLU applies max(0, x).
type ReLU[B tensor.Backend] = nn.ReLU[B]

// NewReLU creates a ReLU activation.
func NewReLU[B tensor.Backend](backend B) *ReLU[B] {
	return nn.NewReLU(backend)
}

// MaxPool2D represents a 2D max pooling layer.
type MaxPool2D[B tensor.Backend] = nn.MaxPool2D[B]

// NewMaxPool2D creates a max pooling layer.
func NewMaxPool2D[B tensor.Backend](kernelSize, stride int, backend B) *MaxPool2D[B] {
	return nn.NewMaxPool2D(kernelSize, stride, backend)
}

// Flatten reshapes [N, ...] into [N, rest].
type Flatten[B tensor.Backend] = nn.Flatten[B]

// NewFlatten creates a Flatten layer.
func NewFlatten[B tensor.Backend]() *Flatten[B] {
	return nn.NewFlatten[B]()
}

// Sequential chains modules; state keys are prefixed with the module index.
type Sequential[B tensor.Backend] = nn.Sequential[B]

// NewSequential creates a new Sequential container.
func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	return nn.NewSequential(modules...)
}

// Blocks

// ConvBlockConfig configures a ConvBlock.
type ConvBlockConfig = nn.ConvBlockConfig

// DefaultConvBlockConfig returns stride 1 with ReLU, no padding and no
// batch norm.
func DefaultConvBlockConfig() ConvBlockConfig {
	return nn.DefaultConvBlockConfig()
}

// ConvBlock is convolution, optional batch norm and optional ReLU.
type ConvBlock[B tensor.Backend] = nn.ConvBlock[B]

// NewConvBlock creates a convolution block with weights drawn from
// N(0, 0.01²) and zero bias.
func NewConvBlock[B tensor.Backend](inChannels, outChannels, kernelSize int, cfg ConvBlockConfig, backend B) *ConvBlock[B] {
	return nn.NewConvBlock(inChannels, outChannels, kernelSize, cfg, backend)
}

// FC is a fully connected layer with an optional ReLU.
type FC[B tensor.Backend] = nn.FC[B]

// NewFC creates a fully connected block.
func NewFC[B tensor.Backend](inFeatures, outFeatures int, relu bool, backend B) *FC[B] {
	return nn.NewFC(inFeatures, outFeatures, relu, backend)
}

// Utilities

// Walk visits m and every sub-module depth first.
func Walk[B tensor.Backend](m Module[B], fn func(Module[B])) {
	nn.Walk(m, fn)
}

// Xavier returns weights drawn from the Xavier/Glorot uniform distribution.
func Xavier[B tensor.Backend](fanIn, fanOut int, shape tensor.Shape, rng *rand.Rand, backend B) *tensor.Tensor[float32, B] {
	return nn.Xavier(fanIn, fanOut, shape, rng, backend)
}

// WeightsNormalInit redraws every Conv2D and Linear weight from N(0, std²).
func WeightsNormalInit[B tensor.Backend](std float64, rng *rand.Rand, modules ...Module[B]) {
	nn.WeightsNormalInit(std, rng, modules...)
}

// SetTrainable sets the trainable flag of every parameter of m.
func SetTrainable[B tensor.Backend](m Module[B], trainable bool) {
	nn.SetTrainable(m, trainable)
}

// SetTraining switches batch norm layers between training and evaluation.
func SetTraining[B tensor.Backend](m Module[B], training bool) {
	nn.SetTraining(m, training)
}

// NumParameters returns the total and trainable element counts of m.
func NumParameters[B tensor.Backend](m Module[B]) (total, trainable int) {
	return nn.NumParameters(m)
}

// Checkpoints

// SaveNet writes m's state dict to a SafeTensors file.
func SaveNet[B tensor.Backend](path string, m Module[B], metadata map[string]string) error {
	return nn.SaveNet(path, m, metadata)
}

// LoadNet copies every array of m's state dict from a SafeTensors file.
func LoadNet[B tensor.Backend](path string, m Module[B]) error {
	return nn.LoadNet(path, m)
}
