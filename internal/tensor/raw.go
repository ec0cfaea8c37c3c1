package tensor

import (
	"fmt"
	"unsafe"

	"github.com/pkg/errors"
)

// Device represents the compute device for tensor operations.
type Device int

// Supported compute devices.
const (
	CPU Device = iota
	WebGPU
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case WebGPU:
		return "WebGPU"
	default:
		return "Unknown"
	}
}

// RawTensor is the low-level tensor representation: a contiguous, row-major
// byte buffer plus shape, strides, dtype and device.
type RawTensor struct {
	data   []byte
	shape  Shape
	stride []int
	dtype  DataType
	device Device
}

// NewRaw creates a new RawTensor with the given shape and type.
// Memory is zero-initialized.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	size, err := shape.ByteSize(dtype.Size())
	if err != nil {
		return nil, errors.Wrap(err, "invalid shape")
	}

	return &RawTensor{
		data:   make([]byte, size),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		device: device,
	}, nil
}

// NewRawFromBytes creates a RawTensor by copying little-endian element bytes.
func NewRawFromBytes(shape Shape, dtype DataType, device Device, data []byte) (*RawTensor, error) {
	raw, err := NewRaw(shape, dtype, device)
	if err != nil {
		return nil, err
	}
	if len(data) != len(raw.data) {
		return nil, errors.Errorf("shape %v of %s requires %d bytes, got %d", shape, dtype, len(raw.data), len(data))
	}
	copy(raw.data, data)
	return raw, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Device returns the tensor's compute device.
func (r *RawTensor) Device() Device {
	return r.device
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return len(r.data)
}

// Data returns the raw byte slice.
// WARNING: Direct access to underlying memory. Use with caution.
func (r *RawTensor) Data() []byte {
	return r.data
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	return view[float32](r.data, r.NumElements())
}

// AsFloat64 interprets the data as []float64.
// Panics if the tensor's dtype is not Float64.
func (r *RawTensor) AsFloat64() []float64 {
	if r.dtype != Float64 {
		panic(fmt.Sprintf("tensor dtype is %s, not float64", r.dtype))
	}
	return view[float64](r.data, r.NumElements())
}

// AsInt32 interprets the data as []int32.
// Panics if the tensor's dtype is not Int32.
func (r *RawTensor) AsInt32() []int32 {
	if r.dtype != Int32 {
		panic(fmt.Sprintf("tensor dtype is %s, not int32", r.dtype))
	}
	return view[int32](r.data, r.NumElements())
}

// AsInt64 interprets the data as []int64.
// Panics if the tensor's dtype is not Int64.
func (r *RawTensor) AsInt64() []int64 {
	if r.dtype != Int64 {
		panic(fmt.Sprintf("tensor dtype is %s, not int64", r.dtype))
	}
	return view[int64](r.data, r.NumElements())
}

// AsUint8 interprets the data as []uint8.
// Panics if the tensor's dtype is not Uint8.
func (r *RawTensor) AsUint8() []uint8 {
	if r.dtype != Uint8 {
		panic(fmt.Sprintf("tensor dtype is %s, not uint8", r.dtype))
	}
	return r.data
}

// AsBool interprets the data as []bool.
// Panics if the tensor's dtype is not Bool.
func (r *RawTensor) AsBool() []bool {
	if r.dtype != Bool {
		panic(fmt.Sprintf("tensor dtype is %s, not bool", r.dtype))
	}
	return view[bool](r.data, r.NumElements())
}

// view reinterprets data as n elements of T. Empty buffers give an empty slice.
func view[T any](data []byte, n int) []T {
	if len(data) == 0 {
		return []T{}
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), n)
}

// Clone creates a deep copy of the RawTensor.
func (r *RawTensor) Clone() *RawTensor {
	data := make([]byte, len(r.data))
	copy(data, r.data)
	return &RawTensor{
		data:   data,
		shape:  r.shape.Clone(),
		stride: append([]int(nil), r.stride...),
		dtype:  r.dtype,
		device: r.device,
	}
}

// WithDevice returns a shallow copy of r tagged with device d.
// The returned tensor shares r's buffer.
func (r *RawTensor) WithDevice(d Device) *RawTensor {
	return &RawTensor{
		data:   r.data,
		shape:  r.shape,
		stride: r.stride,
		dtype:  r.dtype,
		device: d,
	}
}

// CopyFrom overwrites r's elements with src's. Shapes and dtypes must match
// exactly; otherwise a *ShapeError or *DTypeError is returned and r is untouched.
func (r *RawTensor) CopyFrom(src *RawTensor) error {
	if !r.shape.Equal(src.shape) {
		return &ShapeError{Op: "copy", Want: r.shape.Clone(), Got: src.shape.Clone()}
	}
	if r.dtype != src.dtype {
		return &DTypeError{Op: "copy", Want: r.dtype, Got: src.dtype}
	}
	copy(r.data, src.data)
	return nil
}

// Permute returns a new contiguous tensor whose dimension i is r's dimension
// axes[i] (NumPy transpose / torch permute).
// Panics if axes is not a permutation of r's dimensions.
func (r *RawTensor) Permute(axes ...int) *RawTensor {
	outShape := r.shape.Permuted(axes)
	out, err := NewRaw(outShape, r.dtype, r.device)
	if err != nil {
		panic(fmt.Sprintf("permute: %v", err))
	}

	ndim := len(axes)
	elem := r.dtype.Size()
	// srcStride[i] is how far the source offset moves when output index i advances.
	srcStride := make([]int, ndim)
	for i, ax := range axes {
		srcStride[i] = r.stride[ax]
	}

	coord := make([]int, ndim)
	srcOff := 0
	n := outShape.NumElements()
	for dst := 0; dst < n; dst++ {
		copy(out.data[dst*elem:(dst+1)*elem], r.data[srcOff*elem:(srcOff+1)*elem])

		// Advance the output coordinate like an odometer.
		for d := ndim - 1; d >= 0; d-- {
			coord[d]++
			srcOff += srcStride[d]
			if coord[d] < outShape[d] {
				break
			}
			srcOff -= srcStride[d] * outShape[d]
			coord[d] = 0
		}
	}
	return out
}

// String returns a short description such as "float32[64 3 3 3]@CPU".
func (r *RawTensor) String() string {
	return fmt.Sprintf("%s%v@%s", r.dtype, []int(r.shape), r.device)
}
