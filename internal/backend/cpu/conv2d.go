package cpu

import (
	"fmt"

	"github.com/born-ml/relnet/internal/parallel"
	"github.com/born-ml/relnet/internal/tensor"
)

// Conv2D performs 2D convolution using the im2col algorithm.
//
// Input shape: [batch, in_channels, height, width]
// Kernel shape: [out_channels, in_channels, kernel_h, kernel_w]
// Output shape: [batch, out_channels, out_h, out_w]
//
// Where:
//
//	out_h = (H + 2*padding - KH) / stride + 1
//	out_w = (W + 2*padding - KW) / stride + 1
//
// Algorithm:
//  1. Im2col: [N, C, H, W] -> [N * H_out * W_out, C * K_h * K_w]
//  2. The kernel is already [C_out, C * K_h * K_w] in row-major layout
//  3. MatMul into [C_out, N * H_out * W_out]
//  4. Rearrange into [N, C_out, H_out, W_out]
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	inputShape := input.Shape()
	kernelShape := kernel.Shape()

	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv2d: input must be 4D [N,C,H,W], got %dD", len(inputShape)))
	}
	if len(kernelShape) != 4 {
		panic(fmt.Sprintf("conv2d: kernel must be 4D [C_out,C_in,K_h,K_w], got %dD", len(kernelShape)))
	}
	if stride <= 0 || padding < 0 {
		panic(fmt.Sprintf("conv2d: invalid stride=%d padding=%d", stride, padding))
	}

	g := convGeometry{
		N: inputShape[0], CIn: inputShape[1], H: inputShape[2], W: inputShape[3],
		COut: kernelShape[0], KH: kernelShape[2], KW: kernelShape[3],
		stride: stride, padding: padding,
	}
	if g.CIn != kernelShape[1] {
		panic(fmt.Sprintf("conv2d: input channels %d != kernel channels %d", g.CIn, kernelShape[1]))
	}

	g.HOut = (g.H+2*padding-g.KH)/stride + 1
	g.WOut = (g.W+2*padding-g.KW)/stride + 1
	if g.HOut <= 0 || g.WOut <= 0 {
		panic(fmt.Sprintf("conv2d: invalid output dimensions: out_h=%d, out_w=%d (check stride/padding)", g.HOut, g.WOut))
	}

	output, err := tensor.NewRaw(tensor.Shape{g.N, g.COut, g.HOut, g.WOut}, input.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("conv2d: failed to create output tensor: %v", err))
	}

	switch input.DType() {
	case tensor.Float32:
		conv2d(output.AsFloat32(), input.AsFloat32(), kernel.AsFloat32(), g, cpu.par.WithMinChunk(1))
	case tensor.Float64:
		conv2d(output.AsFloat64(), input.AsFloat64(), kernel.AsFloat64(), g, cpu.par.WithMinChunk(1))
	default:
		panic(fmt.Sprintf("conv2d: unsupported dtype %s", input.DType()))
	}

	return output
}

type convGeometry struct {
	N, CIn, H, W    int
	COut, KH, KW    int
	HOut, WOut      int
	stride, padding int
}

func conv2d[T float32 | float64](outputData, inputData, kernelData []T, g convGeometry, par parallel.Config) {
	colWidth := g.CIn * g.KH * g.KW
	colHeight := g.N * g.HOut * g.WOut
	colBuf := make([]T, colHeight*colWidth)
	im2col(colBuf, inputData, g)

	// result[i, j] = sum_k kernel[i, k] * colBuf[j, k], stored as [C_out, N*H_out*W_out].
	tmp := make([]T, g.COut*colHeight)
	parallel.For(g.COut, func(i int) {
		krow := kernelData[i*colWidth : (i+1)*colWidth]
		for j := 0; j < colHeight; j++ {
			crow := colBuf[j*colWidth : (j+1)*colWidth]
			var sum T
			for k, kv := range krow {
				sum += kv * crow[k]
			}
			tmp[i*colHeight+j] = sum
		}
	}, par)

	plane := g.HOut * g.WOut
	for n := 0; n < g.N; n++ {
		for c := 0; c < g.COut; c++ {
			src := tmp[c*colHeight+n*plane : c*colHeight+(n+1)*plane]
			dst := outputData[(n*g.COut+c)*plane : (n*g.COut+c+1)*plane]
			copy(dst, src)
		}
	}
}

// im2col transforms the input into a column matrix, one row per output position.
// Positions that fall into the zero padding contribute 0.
func im2col[T float32 | float64](colBuf, inputData []T, g convGeometry) {
	colWidth := g.CIn * g.KH * g.KW
	row := 0

	for n := 0; n < g.N; n++ {
		for outH := 0; outH < g.HOut; outH++ {
			for outW := 0; outW < g.WOut; outW++ {
				hStart := outH*g.stride - g.padding
				wStart := outW*g.stride - g.padding
				bufIdx := row * colWidth

				for c := 0; c < g.CIn; c++ {
					for kh := 0; kh < g.KH; kh++ {
						for kw := 0; kw < g.KW; kw++ {
							h := hStart + kh
							w := wStart + kw
							if h >= 0 && h < g.H && w >= 0 && w < g.W {
								colBuf[bufIdx] = inputData[((n*g.CIn+c)*g.H+h)*g.W+w]
							}
							bufIdx++
						}
					}
				}
				row++
			}
		}
	}
}
