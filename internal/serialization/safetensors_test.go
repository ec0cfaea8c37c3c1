package serialization

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/born-ml/relnet/internal/state"
	"github.com/born-ml/relnet/internal/tensor"
)

func newRaw[T float32 | float64 | int32 | int64](t *testing.T, shape tensor.Shape, dtype tensor.DataType, values ...T) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	require.NoError(t, err)
	switch dtype {
	case tensor.Float32:
		for i, v := range values {
			raw.AsFloat32()[i] = float32(v)
		}
	case tensor.Float64:
		for i, v := range values {
			raw.AsFloat64()[i] = float64(v)
		}
	case tensor.Int32:
		for i, v := range values {
			raw.AsInt32()[i] = int32(v)
		}
	case tensor.Int64:
		for i, v := range values {
			raw.AsInt64()[i] = int64(v)
		}
	}
	return raw
}

func TestSafeTensors_EmptyTensor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.safetensors")

	sd := state.New()
	sd.Set("head.weight", newRaw[float32](t, tensor.Shape{2}, tensor.Float32, 1, 2))
	sd.Set("head.anchors", newRaw[float32](t, tensor.Shape{0, 4}, tensor.Float32))
	sd.Set("head.bias", newRaw[float32](t, tensor.Shape{1}, tensor.Float32, 3))
	require.NoError(t, WriteSafeTensors(path, sd, nil))

	got, _, err := ReadSafeTensors(path)
	require.NoError(t, err)
	assert.Equal(t, sd.Keys(), got.Keys())

	empty, ok := got.Get("head.anchors")
	require.True(t, ok)
	assert.Equal(t, tensor.Shape{0, 4}, empty.Shape())
	assert.Empty(t, empty.AsFloat32())
	bias, _ := got.Get("head.bias")
	assert.Equal(t, []float32{3}, bias.AsFloat32())
}

func TestSafeTensors_RoundTripOrderAndMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "net.safetensors")

	sd := state.New()
	sd.Set("conv1.0.conv.weight", newRaw[float32](t, tensor.Shape{2, 1, 1, 1}, tensor.Float32, 1.5, -2.25))
	sd.Set("conv1.0.conv.bias", newRaw[float32](t, tensor.Shape{2}, tensor.Float32, math.SmallestNonzeroFloat32, 0))
	sd.Set("a.float64", newRaw[float64](t, tensor.Shape{3}, tensor.Float64, 1e-300, 2, 3))
	sd.Set("indices", newRaw[int64](t, tensor.Shape{2, 2}, tensor.Int64, 1, 2, 3, -4))
	sd.Set("counts", newRaw[int32](t, tensor.Shape{1}, tensor.Int32, 7))

	require.NoError(t, WriteSafeTensors(path, sd, map[string]string{"format": "relnet"}))

	got, meta, err := ReadSafeTensors(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"format": "relnet"}, meta)
	assert.Equal(t, sd.Keys(), got.Keys(), "file order follows the written dict")

	sd.Range(func(name string, want *tensor.RawTensor) bool {
		have, ok := got.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, want.Shape(), have.Shape(), name)
		assert.Equal(t, want.DType(), have.DType(), name)
		assert.Equal(t, want.Data(), have.Data(), "%s must be bit-identical", name)
		return true
	})
}

func TestSafeTensors_HeaderAlignment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.safetensors")
	sd := state.New()
	sd.Set("w", newRaw[float32](t, tensor.Shape{1}, tensor.Float32, 1))
	require.NoError(t, WriteSafeTensors(path, sd, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	headerSize := binary.LittleEndian.Uint64(data[:8])
	assert.Zero(t, headerSize%8)
	assert.Equal(t, int(8+headerSize+4), len(data))
}

// writeRawSafeTensors writes a hand-built header followed by data.
func writeRawSafeTensors(t *testing.T, header map[string]any, data []byte) string {
	t.Helper()
	h, err := json.Marshal(header)
	require.NoError(t, err)
	buf := make([]byte, 8, 8+len(h)+len(data))
	binary.LittleEndian.PutUint64(buf, uint64(len(h)))
	buf = append(buf, h...)
	buf = append(buf, data...)

	path := filepath.Join(t.TempDir(), "raw.safetensors")
	require.NoError(t, os.WriteFile(path, buf, 0o600))
	return path
}

func TestSafeTensors_HalfPrecisionWidened(t *testing.T) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint16(data[0:], float16.Fromfloat32(1.5).Bits())
	binary.LittleEndian.PutUint16(data[2:], float16.Fromfloat32(-0.25).Bits())
	binary.LittleEndian.PutUint16(data[4:], uint16(math.Float32bits(2.0)>>16))
	binary.LittleEndian.PutUint16(data[6:], uint16(math.Float32bits(-8.0)>>16))

	path := writeRawSafeTensors(t, map[string]any{
		"h": SafeTensorInfo{DType: "F16", Shape: []int64{2}, DataOffsets: [2]int64{0, 4}},
		"b": SafeTensorInfo{DType: "BF16", Shape: []int64{2}, DataOffsets: [2]int64{4, 8}},
	}, data)

	sd, _, err := ReadSafeTensors(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"h", "b"}, sd.Keys())

	h, _ := sd.Get("h")
	assert.Equal(t, tensor.Float32, h.DType())
	assert.Equal(t, []float32{1.5, -0.25}, h.AsFloat32())
	b, _ := sd.Get("b")
	assert.Equal(t, []float32{2, -8}, b.AsFloat32())
}

func TestSafeTensors_Malformed(t *testing.T) {
	t.Run("out of bounds", func(t *testing.T) {
		path := writeRawSafeTensors(t, map[string]any{
			"w": SafeTensorInfo{DType: "F32", Shape: []int64{4}, DataOffsets: [2]int64{0, 16}},
		}, make([]byte, 8))
		_, _, err := ReadSafeTensors(path)
		assert.ErrorIs(t, err, ErrOutOfBounds)
	})

	t.Run("overflowing shape", func(t *testing.T) {
		// 2^62 * 4 elements * 4 bytes wraps to 0, matching the empty offsets.
		path := writeRawSafeTensors(t, map[string]any{
			"w": SafeTensorInfo{DType: "F32", Shape: []int64{1 << 62, 4}, DataOffsets: [2]int64{0, 0}},
		}, nil)
		_, _, err := ReadSafeTensors(path)
		assert.ErrorIs(t, err, ErrOutOfBounds)
	})

	t.Run("size mismatch", func(t *testing.T) {
		path := writeRawSafeTensors(t, map[string]any{
			"w": SafeTensorInfo{DType: "F32", Shape: []int64{3}, DataOffsets: [2]int64{0, 8}},
		}, make([]byte, 8))
		_, _, err := ReadSafeTensors(path)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "w", verr.Tensor)
	})

	t.Run("unsupported dtype", func(t *testing.T) {
		path := writeRawSafeTensors(t, map[string]any{
			"w": SafeTensorInfo{DType: "C64", Shape: []int64{1}, DataOffsets: [2]int64{0, 8}},
		}, make([]byte, 8))
		_, _, err := ReadSafeTensors(path)
		assert.ErrorIs(t, err, ErrUnsupportedDType)
	})

	t.Run("header too large", func(t *testing.T) {
		buf := make([]byte, 16)
		binary.LittleEndian.PutUint64(buf, MaxHeaderSize+1)
		path := filepath.Join(t.TempDir(), "big.safetensors")
		require.NoError(t, os.WriteFile(path, buf, 0o600))
		_, err := OpenSafeTensors(path)
		assert.ErrorIs(t, err, ErrHeaderTooLarge)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := OpenSafeTensors(filepath.Join(t.TempDir(), "nope.safetensors"))
		assert.Error(t, err)
	})
}

func TestSafeTensorsReader_TensorNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.safetensors")
	sd := state.New()
	sd.Set("w", newRaw[float32](t, tensor.Shape{1}, tensor.Float32, 1))
	require.NoError(t, WriteSafeTensors(path, sd, nil))

	r, err := OpenSafeTensors(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	_, err = r.LoadTensor("missing")
	assert.ErrorIs(t, err, ErrTensorNotFound)
	assert.Nil(t, r.Metadata())
}
