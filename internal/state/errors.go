package state

import (
	"fmt"

	"github.com/born-ml/relnet/internal/tensor"
)

// KeyError reports a state-dict key that was required but absent, or present
// but not expected.
type KeyError struct {
	Op         string
	Key        string
	Unexpected bool
}

func (e *KeyError) Error() string {
	if e.Unexpected {
		return fmt.Sprintf("%s: unexpected key %q", e.Op, e.Key)
	}
	return fmt.Sprintf("%s: missing key %q", e.Op, e.Key)
}

// Copy overwrites every tensor of dst in place with the tensor of the same
// name in src. Keys of src that dst lacks are ignored. A missing key yields a
// *KeyError; a shape or dtype mismatch yields the tensor package's error for
// the offending key.
func Copy(op string, dst, src *Dict) error {
	for _, k := range dst.keys {
		from, ok := src.values[k]
		if !ok {
			return &KeyError{Op: op, Key: k}
		}
		if err := dst.values[k].CopyFrom(from); err != nil {
			return withKey(err, k)
		}
	}
	return nil
}

// withKey fills in the tensor name on shape and dtype errors.
func withKey(err error, key string) error {
	switch e := err.(type) {
	case *tensor.ShapeError:
		e.Name = key
	case *tensor.DTypeError:
		e.Name = key
	}
	return err
}
