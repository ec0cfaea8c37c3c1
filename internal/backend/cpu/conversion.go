package cpu

import (
	"fmt"

	"github.com/born-ml/relnet/internal/tensor"
)

// Cast converts the tensor to a different data type.
//
// Float to integer conversion truncates toward zero. Bool maps to 0/1 and any
// non-zero value maps to true.
func (cpu *CPUBackend) Cast(x *tensor.RawTensor, dtype tensor.DataType) *tensor.RawTensor {
	// No-op if same dtype
	if x.DType() == dtype {
		return x
	}

	result, err := tensor.NewRaw(x.Shape(), dtype, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("cast: %v", err))
	}

	switch x.DType() {
	case tensor.Float32:
		castFrom(result, x.AsFloat32())
	case tensor.Float64:
		castFrom(result, x.AsFloat64())
	case tensor.Int32:
		castFrom(result, x.AsInt32())
	case tensor.Int64:
		castFrom(result, x.AsInt64())
	case tensor.Uint8:
		castFrom(result, x.AsUint8())
	case tensor.Bool:
		src := x.AsBool()
		ints := make([]uint8, len(src))
		for i, v := range src {
			if v {
				ints[i] = 1
			}
		}
		castFrom(result, ints)
	default:
		panic(fmt.Sprintf("cast: unsupported source dtype %v", x.DType()))
	}

	return result
}

func castFrom[S number](result *tensor.RawTensor, src []S) {
	switch result.DType() {
	case tensor.Float32:
		convertInto(result.AsFloat32(), src)
	case tensor.Float64:
		convertInto(result.AsFloat64(), src)
	case tensor.Int32:
		convertInto(result.AsInt32(), src)
	case tensor.Int64:
		convertInto(result.AsInt64(), src)
	case tensor.Uint8:
		convertInto(result.AsUint8(), src)
	case tensor.Bool:
		dst := result.AsBool()
		for i, v := range src {
			dst[i] = v != 0
		}
	default:
		panic(fmt.Sprintf("cast: unsupported target dtype %v", result.DType()))
	}
}

func convertInto[D, S number](dst []D, src []S) {
	for i, v := range src {
		dst[i] = D(v)
	}
}
