package serialization

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"

	"github.com/born-ml/relnet/internal/state"
	"github.com/born-ml/relnet/internal/tensor"
)

// MaxHeaderSize bounds the JSON header of a SafeTensors file.
const MaxHeaderSize = 100 * 1024 * 1024

const metadataKey = "__metadata__"

// SafeTensors dtype names.
const (
	SafeTensorsF16  = "F16"
	SafeTensorsBF16 = "BF16"
	SafeTensorsF32  = "F32"
	SafeTensorsF64  = "F64"
	SafeTensorsI32  = "I32"
	SafeTensorsI64  = "I64"
	SafeTensorsU8   = "U8"
	SafeTensorsBool = "BOOL"
)

// SafeTensorInfo describes one tensor entry of the header.
type SafeTensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end) relative to the data section
}

// WriteSafeTensors writes sd to path. Tensor data is laid out in sd's key
// order, so reading the file back yields the same order.
func WriteSafeTensors(path string, sd *state.Dict, metadata map[string]string) (err error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model saving
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", path)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "failed to close %q", path)
		}
	}()
	return EncodeSafeTensors(file, sd, metadata)
}

// EncodeSafeTensors writes sd in SafeTensors format to w.
func EncodeSafeTensors(w io.Writer, sd *state.Dict, metadata map[string]string) error {
	header := make(map[string]any, sd.Len()+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}

	var offset int64
	var encodeErr error
	sd.Range(func(name string, raw *tensor.RawTensor) bool {
		dtype, err := dtypeToSafeTensors(raw.DType())
		if err != nil {
			encodeErr = errors.Wrapf(err, "tensor %q", name)
			return false
		}
		shape := make([]int64, len(raw.Shape()))
		for i, dim := range raw.Shape() {
			shape[i] = int64(dim)
		}
		size := int64(raw.ByteSize())
		header[name] = SafeTensorInfo{
			DType:       dtype,
			Shape:       shape,
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
		return true
	})
	if encodeErr != nil {
		return encodeErr
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "failed to marshal header")
	}
	// Pad the header with spaces so the data section starts 8-byte aligned.
	for len(headerJSON)%8 != 0 {
		headerJSON = append(headerJSON, ' ')
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return errors.Wrap(err, "failed to write header size")
	}
	if _, err := w.Write(headerJSON); err != nil {
		return errors.Wrap(err, "failed to write header")
	}

	var writeErr error
	sd.Range(func(name string, raw *tensor.RawTensor) bool {
		if _, err := w.Write(raw.Data()); err != nil {
			writeErr = errors.Wrapf(err, "failed to write tensor %q", name)
			return false
		}
		return true
	})
	return writeErr
}

// SafeTensorsReader reads tensors from a SafeTensors file.
type SafeTensorsReader struct {
	file       *os.File
	metadata   map[string]string
	tensors    map[string]SafeTensorInfo
	names      []string // ordered by data offset
	dataOffset int64
	dataSize   int64
}

// OpenSafeTensors opens path and parses its header.
func OpenSafeTensors(path string) (*SafeTensorsReader, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", path)
	}
	r, err := newSafeTensorsReader(file)
	if err != nil {
		_ = file.Close() // Best effort close on error
		return nil, errors.WithMessagef(err, "reading %q", path)
	}
	return r, nil
}

func newSafeTensorsReader(file *os.File) (*SafeTensorsReader, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat file")
	}

	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		return nil, errors.Wrap(err, "failed to read header size")
	}
	if headerSize > MaxHeaderSize {
		return nil, errors.Wrapf(ErrHeaderTooLarge, "header size %d", headerSize)
	}
	if int64(headerSize)+8 > info.Size() {
		return nil, errors.Wrapf(ErrOutOfBounds, "header size %d exceeds file size %d", headerSize, info.Size())
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		return nil, errors.Wrap(err, "failed to read header")
	}

	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &rawMap); err != nil {
		return nil, errors.Wrap(err, "failed to parse header JSON")
	}

	r := &SafeTensorsReader{
		file:       file,
		tensors:    make(map[string]SafeTensorInfo, len(rawMap)),
		dataOffset: int64(8 + headerSize), //nolint:gosec // G115: bounded by MaxHeaderSize
	}
	r.dataSize = info.Size() - r.dataOffset

	for key, value := range rawMap {
		if key == metadataKey {
			if err := json.Unmarshal(value, &r.metadata); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal metadata")
			}
			continue
		}
		var ti SafeTensorInfo
		if err := json.Unmarshal(value, &ti); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal tensor %q", key)
		}
		if err := r.validate(key, ti); err != nil {
			return nil, err
		}
		r.tensors[key] = ti
		r.names = append(r.names, key)
	}

	sort.Slice(r.names, func(i, j int) bool {
		a, b := r.tensors[r.names[i]], r.tensors[r.names[j]]
		if a.DataOffsets[0] != b.DataOffsets[0] {
			return a.DataOffsets[0] < b.DataOffsets[0]
		}
		// Empty tensors share their start offset with the next tensor.
		if a.DataOffsets[1] != b.DataOffsets[1] {
			return a.DataOffsets[1] < b.DataOffsets[1]
		}
		return r.names[i] < r.names[j]
	})
	klog.V(2).Infof("safetensors: %d tensors, header %d bytes", len(r.names), headerSize)
	return r, nil
}

func (r *SafeTensorsReader) validate(name string, ti SafeTensorInfo) error {
	start, end := ti.DataOffsets[0], ti.DataOffsets[1]
	if start < 0 || end < start {
		return &ValidationError{Type: "invalid_offsets", Tensor: name, Details: "negative or reversed data offsets"}
	}
	if end > r.dataSize {
		return errors.Wrapf(ErrOutOfBounds, "tensor %q ends at %d, data section is %d bytes", name, end, r.dataSize)
	}
	elemSize, err := safeTensorsElemSize(ti.DType)
	if err != nil {
		return errors.Wrapf(err, "tensor %q", name)
	}
	size := elemSize
	for _, d := range ti.Shape {
		if d < 0 {
			return &ValidationError{Type: "invalid_shape", Tensor: name, Details: "negative dimension"}
		}
		if d != 0 && size > math.MaxInt64/d {
			return errors.Wrapf(ErrOutOfBounds, "tensor %q: shape %v overflows", name, ti.Shape)
		}
		size *= d
	}
	if size != end-start {
		return &ValidationError{
			Type:    "size_mismatch",
			Tensor:  name,
			Details: "shape and dtype do not match the data offsets",
		}
	}
	return nil
}

// Close closes the underlying file.
func (r *SafeTensorsReader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Metadata returns the "__metadata__" entry, or nil.
func (r *SafeTensorsReader) Metadata() map[string]string {
	return r.metadata
}

// TensorNames returns tensor names ordered by their position in the file.
func (r *SafeTensorsReader) TensorNames() []string {
	return append([]string(nil), r.names...)
}

// TensorInfo returns the header entry of name.
func (r *SafeTensorsReader) TensorInfo(name string) (SafeTensorInfo, error) {
	info, ok := r.tensors[name]
	if !ok {
		return SafeTensorInfo{}, errors.Wrapf(ErrTensorNotFound, "%q", name)
	}
	return info, nil
}

// LoadTensor reads name into a host tensor. F16 and BF16 data is widened
// to float32.
func (r *SafeTensorsReader) LoadTensor(name string) (*tensor.RawTensor, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}

	shape := make(tensor.Shape, len(info.Shape))
	for i, d := range info.Shape {
		shape[i] = int(d)
	}

	data := make([]byte, info.DataOffsets[1]-info.DataOffsets[0])
	if _, err := r.file.ReadAt(data, r.dataOffset+info.DataOffsets[0]); err != nil {
		return nil, errors.Wrapf(err, "failed to read tensor %q", name)
	}

	switch info.DType {
	case SafeTensorsF16:
		return widenHalf(shape, data, func(bits uint16) float32 { return float16.Frombits(bits).Float32() })
	case SafeTensorsBF16:
		return widenHalf(shape, data, func(bits uint16) float32 { return math.Float32frombits(uint32(bits) << 16) })
	}

	dtype, err := safeTensorsToDType(info.DType)
	if err != nil {
		return nil, errors.Wrapf(err, "tensor %q", name)
	}
	raw, err := tensor.NewRawFromBytes(shape, dtype, tensor.CPU, data)
	if err != nil {
		return nil, errors.Wrapf(err, "tensor %q", name)
	}
	return raw, nil
}

// ReadStateDict loads every tensor in file order.
func (r *SafeTensorsReader) ReadStateDict() (*state.Dict, error) {
	sd := state.New()
	for _, name := range r.names {
		raw, err := r.LoadTensor(name)
		if err != nil {
			return nil, err
		}
		sd.Set(name, raw)
	}
	return sd, nil
}

// ReadSafeTensors loads all tensors and the metadata of path.
func ReadSafeTensors(path string) (*state.Dict, map[string]string, error) {
	r, err := OpenSafeTensors(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = r.Close() }()

	sd, err := r.ReadStateDict()
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "reading %q", path)
	}
	return sd, r.Metadata(), nil
}

func widenHalf(shape tensor.Shape, data []byte, toFloat32 func(uint16) float32) (*tensor.RawTensor, error) {
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, err
	}
	dst := raw.AsFloat32()
	for i := range dst {
		dst[i] = toFloat32(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return raw, nil
}

func dtypeToSafeTensors(dt tensor.DataType) (string, error) {
	switch dt {
	case tensor.Float32:
		return SafeTensorsF32, nil
	case tensor.Float64:
		return SafeTensorsF64, nil
	case tensor.Int32:
		return SafeTensorsI32, nil
	case tensor.Int64:
		return SafeTensorsI64, nil
	case tensor.Uint8:
		return SafeTensorsU8, nil
	case tensor.Bool:
		return SafeTensorsBool, nil
	default:
		return "", errors.Wrapf(ErrUnsupportedDType, "%s", dt)
	}
}

func safeTensorsToDType(s string) (tensor.DataType, error) {
	switch s {
	case SafeTensorsF32:
		return tensor.Float32, nil
	case SafeTensorsF64:
		return tensor.Float64, nil
	case SafeTensorsI32:
		return tensor.Int32, nil
	case SafeTensorsI64:
		return tensor.Int64, nil
	case SafeTensorsU8:
		return tensor.Uint8, nil
	case SafeTensorsBool:
		return tensor.Bool, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedDType, "%q", s)
	}
}

func safeTensorsElemSize(s string) (int64, error) {
	switch s {
	case SafeTensorsF16, SafeTensorsBF16:
		return 2, nil
	}
	dt, err := safeTensorsToDType(s)
	if err != nil {
		return 0, err
	}
	return int64(dt.Size()), nil
}
