package serialization

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"

	"github.com/born-ml/relnet/internal/state"
	"github.com/born-ml/relnet/internal/tensor"
)

const npyMagic = "\x93NUMPY"

var (
	reNpyDescr   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	reNpyFortran = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	reNpyShape   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// ReadNpyFile reads a .npy file into a host tensor.
func ReadNpyFile(filePath string) (*tensor.RawTensor, error) {
	//nolint:gosec // G304: File path comes from user input
	file, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open .npy file %q", filePath)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat .npy file %q", filePath)
	}
	return readNpy(file, info.Size())
}

// ReadNpy reads a .npy array from r.
//
// Supported dtypes: <f4, <f8, <f2 (widened to float32), <i4, <i8, |u1 and
// |b1. Fortran-ordered arrays are converted to row-major order.
func ReadNpy(r io.Reader) (*tensor.RawTensor, error) {
	return readNpy(r, -1)
}

// readNpy reads a .npy array of at most size bytes; a negative size means
// unknown.
func readNpy(r io.Reader, size int64) (*tensor.RawTensor, error) {
	magic := make([]byte, len(npyMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, errors.Wrap(err, "failed to read magic string")
	}
	if string(magic) != npyMagic {
		return nil, errors.Wrap(ErrInvalidMagic, ".npy")
	}

	version := make([]byte, 2)
	if _, err := io.ReadFull(r, version); err != nil {
		return nil, errors.Wrap(err, "failed to read version")
	}

	var headerLen int
	prefixLen := len(npyMagic) + 2
	switch version[0] {
	case 1:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, errors.Wrap(err, "failed to read header length (v1.0)")
		}
		headerLen = int(n)
		prefixLen += 2
	case 2, 3:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, errors.Wrap(err, "failed to read header length (v2.0+)")
		}
		if n > MaxHeaderSize {
			return nil, errors.Wrapf(ErrHeaderTooLarge, ".npy header %d bytes", n)
		}
		headerLen = int(n)
		prefixLen += 4
	default:
		return nil, errors.Wrapf(ErrUnsupportedVersion, ".npy %d.%d", version[0], version[1])
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, errors.Wrap(err, "failed to read header")
	}

	descr, shape, fortranOrder, err := parseNpyHeader(string(headerBytes))
	if err != nil {
		return nil, errors.WithMessage(err, "failed to parse .npy header")
	}

	dtype, elemSize, err := npyDType(descr)
	if err != nil {
		return nil, err
	}

	need, err := shape.ByteSize(elemSize)
	if err != nil {
		return nil, errors.Wrapf(ErrOutOfBounds, ".npy shape %v: %v", shape, err)
	}
	if remaining := size - int64(prefixLen+headerLen); size >= 0 && int64(need) > remaining {
		return nil, errors.Wrapf(ErrOutOfBounds, ".npy data needs %d bytes, %d left", need, remaining)
	}
	data, err := io.ReadAll(io.LimitReader(r, int64(need)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read tensor data")
	}
	if len(data) != need {
		return nil, errors.Wrapf(ErrOutOfBounds, ".npy data needs %d bytes, got %d", need, len(data))
	}
	if fortranOrder && len(shape) > 1 {
		cData := make([]byte, len(data))
		fortranToC(elemSize, shape, data, cData)
		data = cData
	}

	if strings.HasSuffix(descr, "f2") {
		return widenHalf(shape, data, func(bits uint16) float32 { return float16.Frombits(bits).Float32() })
	}
	raw, err := tensor.NewRawFromBytes(shape, dtype, tensor.CPU, data)
	if err != nil {
		return nil, errors.Wrap(err, ".npy")
	}
	return raw, nil
}

// parseNpyHeader extracts descr, shape and fortran_order from the header dict,
// e.g. "{'descr': '<f4', 'fortran_order': False, 'shape': (3, 3, 64, 128), }".
func parseNpyHeader(header string) (descr string, shape tensor.Shape, fortranOrder bool, err error) {
	m := reNpyDescr.FindStringSubmatch(header)
	if len(m) < 2 {
		return "", nil, false, errors.Errorf("could not find 'descr' in header: %q", header)
	}
	descr = m[1]

	m = reNpyFortran.FindStringSubmatch(header)
	if len(m) < 2 {
		return "", nil, false, errors.Errorf("could not find 'fortran_order' in header: %q", header)
	}
	fortranOrder = m[1] == "True"

	m = reNpyShape.FindStringSubmatch(header)
	if len(m) < 2 {
		return "", nil, false, errors.Errorf("could not find 'shape' in header: %q", header)
	}
	shape = tensor.Shape{}
	for _, p := range strings.Split(m[1], ",") {
		p = strings.TrimSpace(p)
		if p == "" { // trailing comma of "(N,)"
			continue
		}
		dim, convErr := strconv.Atoi(p)
		if convErr != nil {
			return "", nil, false, errors.Wrapf(convErr, "invalid shape value %q in header", p)
		}
		if dim < 0 {
			return "", nil, false, errors.Errorf("negative dimension %d in header", dim)
		}
		shape = append(shape, dim)
	}
	return descr, shape, fortranOrder, nil
}

// npyDType maps a NumPy descr to the tensor dtype and the on-disk element size.
func npyDType(descr string) (tensor.DataType, int, error) {
	if strings.HasPrefix(descr, ">") && !strings.HasSuffix(descr, "1") {
		return 0, 0, errors.Wrapf(ErrUnsupportedDType, "big-endian %q", descr)
	}
	switch strings.TrimLeft(descr, "<>|=") {
	case "f4":
		return tensor.Float32, 4, nil
	case "f8":
		return tensor.Float64, 8, nil
	case "f2":
		return tensor.Float32, 2, nil
	case "i4":
		return tensor.Int32, 4, nil
	case "i8":
		return tensor.Int64, 8, nil
	case "u1":
		return tensor.Uint8, 1, nil
	case "b1", "?":
		return tensor.Bool, 1, nil
	default:
		return 0, 0, errors.Wrapf(ErrUnsupportedDType, "NumPy %q", descr)
	}
}

// fortranToC reorders column-major element bytes into row-major order.
func fortranToC(elemSize int, dims tensor.Shape, fortranData, cData []byte) {
	coord := make([]int, len(dims))
	n := dims.NumElements()
	for cIndex := 0; cIndex < n; cIndex++ {
		tmp := cIndex
		for i := len(dims) - 1; i >= 0; i-- {
			coord[i] = tmp % dims[i]
			tmp /= dims[i]
		}
		fIndex, mult := 0, 1
		for i, d := range dims {
			fIndex += coord[i] * mult
			mult *= d
		}
		copy(cData[cIndex*elemSize:(cIndex+1)*elemSize], fortranData[fIndex*elemSize:(fIndex+1)*elemSize])
	}
}

// ReadNpz reads every .npy entry of a .npz archive. Keys are the entry names
// without the ".npy" suffix, in archive order.
func ReadNpz(filePath string) (*state.Dict, error) {
	//nolint:gosec // G304: File path comes from user input
	file, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open .npz file %q", filePath)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat .npz file %q", filePath)
	}
	return ReadNpzReader(file, info.Size())
}

// ReadNpzReader reads a .npz archive from r.
func ReadNpzReader(r io.ReaderAt, size int64) (*state.Dict, error) {
	zipReader, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create zip reader for .npz")
	}

	sd := state.New()
	for _, f := range zipReader.File {
		cleanPath := path.Clean(f.Name)
		if path.IsAbs(cleanPath) || strings.HasPrefix(cleanPath, "..") {
			return nil, errors.Errorf("invalid path in .npz archive: %q", f.Name)
		}
		if !strings.HasSuffix(f.Name, ".npy") {
			klog.V(1).Infof("npz: skipping non-array entry %q", f.Name)
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open %q within .npz", f.Name)
		}
		raw, err := readNpy(rc, int64(f.UncompressedSize64)) //nolint:gosec // G115: zip sizes fit int64
		_ = rc.Close()
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to read %q from .npz", f.Name)
		}
		sd.Set(strings.TrimSuffix(cleanPath, ".npy"), raw)
	}
	return sd, nil
}

// WriteNpy writes raw to w in .npy v1.0 format.
func WriteNpy(w io.Writer, raw *tensor.RawTensor) error {
	descr, err := npyDescr(raw.DType())
	if err != nil {
		return err
	}

	var shapeTuple string
	switch shape := raw.Shape(); len(shape) {
	case 0:
		shapeTuple = "()"
	case 1:
		shapeTuple = fmt.Sprintf("(%d,)", shape[0])
	default:
		dims := make([]string, len(shape))
		for i, d := range shape {
			dims[i] = strconv.Itoa(d)
		}
		shapeTuple = "(" + strings.Join(dims, ", ") + ")"
	}

	var header bytes.Buffer
	fmt.Fprintf(&header, "{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, shapeTuple)
	// Magic (6) + version (2) + length (2) + header + '\n' is a multiple of 64.
	for (10+header.Len()+1)%64 != 0 {
		header.WriteByte(' ')
	}
	header.WriteByte('\n')

	if _, err := io.WriteString(w, npyMagic); err != nil {
		return errors.Wrap(err, "failed to write magic string")
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return errors.Wrap(err, "failed to write version")
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(header.Len())); err != nil { //nolint:gosec // G115: header is short
		return errors.Wrap(err, "failed to write header length")
	}
	if _, err := w.Write(header.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write header")
	}
	if _, err := w.Write(raw.Data()); err != nil {
		return errors.Wrap(err, "failed to write tensor data")
	}
	return nil
}

// WriteNpz writes sd to filePath as a .npz archive, one "<key>.npy" entry per
// tensor in sd's order.
func WriteNpz(filePath string, sd *state.Dict) (err error) {
	//nolint:gosec // G304: File path comes from user input
	file, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create .npz file %q", filePath)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "failed to close %q", filePath)
		}
	}()

	zw := zip.NewWriter(file)
	var writeErr error
	sd.Range(func(name string, raw *tensor.RawTensor) bool {
		fw, err := zw.Create(name + ".npy")
		if err != nil {
			writeErr = errors.Wrapf(err, "failed to create %q in .npz archive", name)
			return false
		}
		if err := WriteNpy(fw, raw); err != nil {
			writeErr = errors.WithMessagef(err, "failed to write %q to .npz archive", name)
			return false
		}
		return true
	})
	if writeErr != nil {
		_ = zw.Close()
		return writeErr
	}
	return errors.Wrap(zw.Close(), "failed to close zip archive")
}

func npyDescr(dt tensor.DataType) (string, error) {
	switch dt {
	case tensor.Float32:
		return "<f4", nil
	case tensor.Float64:
		return "<f8", nil
	case tensor.Int32:
		return "<i4", nil
	case tensor.Int64:
		return "<i8", nil
	case tensor.Uint8:
		return "|u1", nil
	case tensor.Bool:
		return "|b1", nil
	default:
		return "", errors.Wrapf(ErrUnsupportedDType, "%s", dt)
	}
}
