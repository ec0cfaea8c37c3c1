package nn

import (
	"math/rand"

	"github.com/born-ml/relnet/internal/state"
	"github.com/born-ml/relnet/internal/tensor"
)

const (
	convBlockInitStd    = 0.01
	convBlockBNEps      = 0.001
	convBlockBNMomentum = 0.0
)

// ConvBlockConfig configures a ConvBlock.
type ConvBlockConfig struct {
	Stride      int
	ReLU        bool
	SamePadding bool
	BatchNorm   bool

	// Rng seeds the weight initialization. Nil uses the global source.
	Rng *rand.Rand
}

// DefaultConvBlockConfig returns stride 1 with ReLU, no padding and no
// batch norm.
func DefaultConvBlockConfig() ConvBlockConfig {
	return ConvBlockConfig{Stride: 1, ReLU: true}
}

// ConvBlock is the basic building block of the backbone:
// convolution, optional batch norm, optional ReLU.
//
// With SamePadding the padding is (kernel-1)/2, which keeps the spatial
// size for odd kernels at stride 1. The convolution weight is drawn from
// N(0, 0.01²) and the bias starts at zero. Batch norm uses eps 0.001,
// momentum 0 and learnable affine parameters.
//
// State keys: "conv.weight", "conv.bias" and, with batch norm,
// "bn.weight", "bn.bias", "bn.running_mean", "bn.running_var".
type ConvBlock[B tensor.Backend] struct {
	conv *Conv2D[B]
	bn   *BatchNorm2D[B] // nil without batch norm
	relu *ReLU[B]        // nil without ReLU
}

// NewConvBlock creates a convolution block. A zero Stride means 1.
func NewConvBlock[B tensor.Backend](inChannels, outChannels, kernelSize int, cfg ConvBlockConfig, backend B) *ConvBlock[B] {
	stride := cfg.Stride
	if stride == 0 {
		stride = 1
	}
	padding := 0
	if cfg.SamePadding {
		padding = (kernelSize - 1) / 2
	}

	conv := NewConv2D(inChannels, outChannels, kernelSize, kernelSize, stride, padding, true, backend)
	conv.InitWeightNormal(convBlockInitStd, cfg.Rng)

	b := &ConvBlock[B]{conv: conv}
	if cfg.BatchNorm {
		b.bn = NewBatchNorm2D(outChannels, convBlockBNEps, convBlockBNMomentum, true, backend)
	}
	if cfg.ReLU {
		b.relu = NewReLU(backend)
	}
	return b
}

// Forward applies conv, then batch norm and ReLU when configured.
func (b *ConvBlock[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	x := b.conv.Forward(input)
	if b.bn != nil {
		x = b.bn.Forward(x)
	}
	if b.relu != nil {
		x = b.relu.Forward(x)
	}
	return x
}

// Children returns "conv" and, when present, "bn".
func (b *ConvBlock[B]) Children() []Child[B] {
	children := []Child[B]{{Name: "conv", Module: b.conv}}
	if b.bn != nil {
		children = append(children, Child[B]{Name: "bn", Module: b.bn})
	}
	return children
}

// Parameters returns the conv and batch-norm parameters.
func (b *ConvBlock[B]) Parameters() []*Parameter[B] {
	return childParameters(b.Children())
}

// StateDict returns the prefixed conv and batch-norm state.
func (b *ConvBlock[B]) StateDict() *state.Dict {
	return childState(b.Children())
}

// LoadStateDict loads conv and batch-norm state.
func (b *ConvBlock[B]) LoadStateDict(sd *state.Dict) error {
	return state.Copy("conv block", b.StateDict(), sd)
}

// Conv returns the convolution layer.
func (b *ConvBlock[B]) Conv() *Conv2D[B] { return b.conv }

// BN returns the batch-norm layer, or nil.
func (b *ConvBlock[B]) BN() *BatchNorm2D[B] { return b.bn }

// HasReLU reports whether the block ends with ReLU.
func (b *ConvBlock[B]) HasReLU() bool { return b.relu != nil }

// FC is a fully connected layer with an optional ReLU.
//
// State keys: "fc.weight", "fc.bias".
type FC[B tensor.Backend] struct {
	fc   *Linear[B]
	relu *ReLU[B]
}

// NewFC creates a fully connected block.
func NewFC[B tensor.Backend](inFeatures, outFeatures int, relu bool, backend B) *FC[B] {
	f := &FC[B]{fc: NewLinear(inFeatures, outFeatures, backend)}
	if relu {
		f.relu = NewReLU(backend)
	}
	return f
}

// Forward applies the linear layer and, if configured, ReLU.
func (f *FC[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	x := f.fc.Forward(input)
	if f.relu != nil {
		x = f.relu.Forward(x)
	}
	return x
}

// Children returns "fc".
func (f *FC[B]) Children() []Child[B] {
	return []Child[B]{{Name: "fc", Module: f.fc}}
}

// Parameters returns the linear layer's parameters.
func (f *FC[B]) Parameters() []*Parameter[B] {
	return f.fc.Parameters()
}

// StateDict returns "fc.weight" and "fc.bias".
func (f *FC[B]) StateDict() *state.Dict {
	return childState(f.Children())
}

// LoadStateDict loads the linear layer's state.
func (f *FC[B]) LoadStateDict(sd *state.Dict) error {
	return state.Copy("fc", f.StateDict(), sd)
}

// Linear returns the wrapped linear layer.
func (f *FC[B]) Linear() *Linear[B] { return f.fc }
