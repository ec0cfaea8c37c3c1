package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/relnet/internal/state"
	"github.com/born-ml/relnet/internal/tensor"
)

// Conv2D implements a 2D convolutional layer.
//
// Applies 2D convolution over an input signal composed of several input planes.
//
// Input shape: [batch, in_channels, height, width]
// Output shape: [batch, out_channels, out_height, out_width]
//
// Where:
//
//	out_height = (height + 2*padding - kernel_h) / stride + 1
//	out_width = (width + 2*padding - kernel_w) / stride + 1
//
// State keys: "weight" [out_channels, in_channels, kernel_h, kernel_w] and,
// when bias is enabled, "bias" [out_channels].
type Conv2D[B tensor.Backend] struct {
	inChannels  int
	outChannels int
	kernelSize  [2]int
	stride      int
	padding     int

	weight *Parameter[B]
	bias   *Parameter[B] // nil when bias is disabled

	backend B
}

// NewConv2D creates a new 2D convolutional layer.
//
// Weights use Xavier/Glorot uniform initialization and the bias starts at
// zero. Panics on non-positive channels, kernel size or stride.
func NewConv2D[B tensor.Backend](
	inChannels, outChannels int,
	kernelH, kernelW int,
	stride, padding int,
	useBias bool,
	backend B,
) *Conv2D[B] {
	if inChannels <= 0 || outChannels <= 0 {
		panic(fmt.Sprintf("conv2d: invalid channels in=%d, out=%d", inChannels, outChannels))
	}
	if kernelH <= 0 || kernelW <= 0 {
		panic(fmt.Sprintf("conv2d: invalid kernel size h=%d, w=%d", kernelH, kernelW))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("conv2d: invalid stride %d", stride))
	}
	if padding < 0 {
		panic(fmt.Sprintf("conv2d: invalid padding %d", padding))
	}

	weightShape := tensor.Shape{outChannels, inChannels, kernelH, kernelW}
	fanIn := inChannels * kernelH * kernelW
	fanOut := outChannels * kernelH * kernelW

	c := &Conv2D[B]{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  [2]int{kernelH, kernelW},
		stride:      stride,
		padding:     padding,
		weight:      NewParameter("weight", Xavier(fanIn, fanOut, weightShape, nil, backend)),
		backend:     backend,
	}
	if useBias {
		c.bias = NewParameter("bias", tensor.Zeros[float32](tensor.Shape{outChannels}, backend))
	}
	return c
}

// Forward computes the convolution and adds the per-channel bias.
func (c *Conv2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv2d: expected 4D input [N,C,H,W], got %dD", len(inputShape)))
	}
	if inputShape[1] != c.inChannels {
		panic(fmt.Sprintf("conv2d: input channels %d != expected %d", inputShape[1], c.inChannels))
	}

	out := tensor.New[float32, B](
		c.backend.Conv2D(input.Raw(), c.weight.Tensor().Raw(), c.stride, c.padding),
		c.backend,
	)

	if c.bias != nil {
		// [out_channels] -> [1, out_channels, 1, 1] broadcasts over batch and space.
		out = out.Add(c.bias.Tensor().Reshape(1, c.outChannels, 1, 1))
	}
	return out
}

// Parameters returns the weight and, if present, the bias.
func (c *Conv2D[B]) Parameters() []*Parameter[B] {
	if c.bias != nil {
		return []*Parameter[B]{c.weight, c.bias}
	}
	return []*Parameter[B]{c.weight}
}

// StateDict returns "weight" and, if present, "bias".
func (c *Conv2D[B]) StateDict() *state.Dict {
	return paramState(c.weight, c.bias)
}

// LoadStateDict copies weight and bias from sd.
func (c *Conv2D[B]) LoadStateDict(sd *state.Dict) error {
	return state.Copy("conv2d", c.StateDict(), sd)
}

// InitWeightNormal redraws the weight from N(0, std²). The bias is left as is.
func (c *Conv2D[B]) InitWeightNormal(std float64, rng *rand.Rand) {
	tensor.FillNormal(c.weight.Tensor().Data(), 0, std, rng)
}

// Weight returns the kernel parameter.
func (c *Conv2D[B]) Weight() *Parameter[B] {
	return c.weight
}

// Bias returns the bias parameter, or nil.
func (c *Conv2D[B]) Bias() *Parameter[B] {
	return c.bias
}

// InChannels returns the number of input channels.
func (c *Conv2D[B]) InChannels() int {
	return c.inChannels
}

// OutChannels returns the number of output channels.
func (c *Conv2D[B]) OutChannels() int {
	return c.outChannels
}

// KernelSize returns [kernel_h, kernel_w].
func (c *Conv2D[B]) KernelSize() [2]int {
	return c.kernelSize
}

// Stride returns the stride.
func (c *Conv2D[B]) Stride() int {
	return c.stride
}

// Padding returns the zero padding applied on each side.
func (c *Conv2D[B]) Padding() int {
	return c.padding
}

// ComputeOutputSize returns [out_h, out_w] for an input of inputH x inputW.
func (c *Conv2D[B]) ComputeOutputSize(inputH, inputW int) [2]int {
	outH := (inputH+2*c.padding-c.kernelSize[0])/c.stride + 1
	outW := (inputW+2*c.padding-c.kernelSize[1])/c.stride + 1
	return [2]int{outH, outW}
}

// String returns a PyTorch-style description.
func (c *Conv2D[B]) String() string {
	return fmt.Sprintf("Conv2D(in_channels=%d, out_channels=%d, kernel_size=(%d, %d), stride=%d, padding=%d, bias=%v)",
		c.inChannels, c.outChannels,
		c.kernelSize[0], c.kernelSize[1],
		c.stride, c.padding, c.bias != nil)
}
