package nn

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/relnet/internal/serialization"
	"github.com/born-ml/relnet/internal/state"
	"github.com/born-ml/relnet/internal/tensor"
)

// SaveNet writes the state dict of m to path in SafeTensors format.
// Keys are the model's own parameter and buffer names.
//
// Example:
//
//	err := nn.SaveNet("vgg.safetensors", model, map[string]string{"epoch": "3"})
func SaveNet[B tensor.Backend](path string, m Module[B], metadata map[string]string) error {
	sd := m.StateDict()
	if err := serialization.WriteSafeTensors(path, sd, metadata); err != nil {
		return errors.WithMessage(err, "save net")
	}
	klog.V(1).Infof("saved %d arrays (%d elements) to %s", sd.Len(), sd.NumElements(), path)
	return nil
}

// LoadNet reads path and copies, for every key of m's state dict, the stored
// array into the model in place.
//
// A key of the model that is missing from the file yields a *state.KeyError;
// a shape or dtype mismatch yields *tensor.ShapeError or *tensor.DTypeError.
// Arrays in the file that the model does not have are ignored.
func LoadNet[B tensor.Backend](path string, m Module[B]) error {
	r, err := serialization.OpenSafeTensors(path)
	if err != nil {
		return errors.WithMessage(err, "load net")
	}
	defer func() { _ = r.Close() }()

	dst := m.StateDict()
	for _, name := range dst.Keys() {
		src, err := r.LoadTensor(name)
		if errors.Is(err, serialization.ErrTensorNotFound) {
			return errors.WithMessagef(&state.KeyError{Op: "load net", Key: name}, "%s", path)
		}
		if err != nil {
			return errors.WithMessagef(err, "load net %s", path)
		}
		param, _ := dst.Get(name)
		if err := param.CopyFrom(src); err != nil {
			return errors.WithMessagef(err, "load net %q", name)
		}
		klog.V(2).Infof("load net: %s <- %s", name, src)
	}

	if extra := len(r.TensorNames()) - dst.Len(); extra > 0 {
		klog.V(1).Infof("load net: %d arrays in %s not used by the model", extra, path)
	}
	return nil
}
