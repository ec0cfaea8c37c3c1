package cpu

import (
	"testing"

	"github.com/born-ml/relnet/internal/tensor"
)

func newRaw32(t *testing.T, shape tensor.Shape, data ...float32) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	copy(raw.AsFloat32(), data)
	return raw
}

func float32SliceEqual(a, b []float32) bool {
	const epsilon = 1e-6
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		diff := a[i] - b[i]
		if diff < 0 {
			diff = -diff
		}
		if diff > epsilon {
			return false
		}
	}
	return true
}

func TestCPUBackend_New(t *testing.T) {
	backend := New()
	if backend.Name() != "CPU" {
		t.Errorf("Expected name 'CPU', got '%s'", backend.Name())
	}
	if backend.Device() != tensor.CPU {
		t.Errorf("Expected device CPU, got %v", backend.Device())
	}
}

func TestCPUBackend_Add(t *testing.T) {
	backend := New()

	a := newRaw32(t, tensor.Shape{2, 2}, 1, 2, 3, 4)
	b := newRaw32(t, tensor.Shape{2, 2}, 10, 20, 30, 40)
	got := backend.Add(a, b).AsFloat32()
	if want := []float32{11, 22, 33, 44}; !float32SliceEqual(got, want) {
		t.Errorf("Add: expected %v, got %v", want, got)
	}
}

func TestCPUBackend_MulBroadcast(t *testing.T) {
	backend := New()

	// [2,3] * [3] -> row-wise scaling.
	a := newRaw32(t, tensor.Shape{2, 3}, 1, 2, 3, 4, 5, 6)
	b := newRaw32(t, tensor.Shape{3}, 1, 10, 100)
	out := backend.Mul(a, b)
	if !out.Shape().Equal(tensor.Shape{2, 3}) {
		t.Fatalf("Expected shape [2 3], got %v", out.Shape())
	}
	if want := []float32{1, 20, 300, 4, 50, 600}; !float32SliceEqual(out.AsFloat32(), want) {
		t.Errorf("Mul: expected %v, got %v", want, out.AsFloat32())
	}
}

func TestCPUBackend_MulScalar(t *testing.T) {
	backend := New()
	a := newRaw32(t, tensor.Shape{3}, 1, -2, 4)
	got := backend.MulScalar(a, float32(0.5)).AsFloat32()
	if want := []float32{0.5, -1, 2}; !float32SliceEqual(got, want) {
		t.Errorf("MulScalar: expected %v, got %v", want, got)
	}
}

func TestCPUBackend_Transpose(t *testing.T) {
	backend := New()
	a := newRaw32(t, tensor.Shape{2, 3}, 1, 2, 3, 4, 5, 6)
	out := backend.Transpose(a)
	if !out.Shape().Equal(tensor.Shape{3, 2}) {
		t.Fatalf("Expected shape [3 2], got %v", out.Shape())
	}
	if want := []float32{1, 4, 2, 5, 3, 6}; !float32SliceEqual(out.AsFloat32(), want) {
		t.Errorf("Transpose: expected %v, got %v", want, out.AsFloat32())
	}
}

func TestCPUBackend_Reshape(t *testing.T) {
	backend := New()
	a := newRaw32(t, tensor.Shape{2, 3}, 1, 2, 3, 4, 5, 6)
	out := backend.Reshape(a, tensor.Shape{3, 2})
	if !out.Shape().Equal(tensor.Shape{3, 2}) {
		t.Fatalf("Expected shape [3 2], got %v", out.Shape())
	}

	defer func() {
		if recover() == nil {
			t.Error("Expected panic for incompatible reshape")
		}
	}()
	backend.Reshape(a, tensor.Shape{4})
}

func TestCPUBackend_ReLU(t *testing.T) {
	backend := New()
	a := newRaw32(t, tensor.Shape{4}, -1, 0, 2, -0.5)
	got := backend.ReLU(a).AsFloat32()
	if want := []float32{0, 0, 2, 0}; !float32SliceEqual(got, want) {
		t.Errorf("ReLU: expected %v, got %v", want, got)
	}
}

func TestCPUBackend_Cast(t *testing.T) {
	backend := New()

	a := newRaw32(t, tensor.Shape{3}, 1.9, -2.5, 0)
	if same := backend.Cast(a, tensor.Float32); same != a {
		t.Error("Cast to the same dtype should return the input")
	}

	ints := backend.Cast(a, tensor.Int64).AsInt64()
	if ints[0] != 1 || ints[1] != -2 || ints[2] != 0 {
		t.Errorf("Cast to int64: got %v", ints)
	}

	bools := backend.Cast(a, tensor.Bool).AsBool()
	if !bools[0] || !bools[1] || bools[2] {
		t.Errorf("Cast to bool: got %v", bools)
	}

	back := backend.Cast(backend.Cast(a, tensor.Bool), tensor.Float64).AsFloat64()
	if back[0] != 1 || back[1] != 1 || back[2] != 0 {
		t.Errorf("Cast bool to float64: got %v", back)
	}
}

func TestCPUBackend_MatMul(t *testing.T) {
	backend := New()
	a := newRaw32(t, tensor.Shape{2, 3}, 1, 2, 3, 4, 5, 6)
	b := newRaw32(t, tensor.Shape{3, 2}, 7, 8, 9, 10, 11, 12)
	out := backend.MatMul(a, b)
	if !out.Shape().Equal(tensor.Shape{2, 2}) {
		t.Fatalf("Expected shape [2 2], got %v", out.Shape())
	}
	if want := []float32{58, 64, 139, 154}; !float32SliceEqual(out.AsFloat32(), want) {
		t.Errorf("MatMul: expected %v, got %v", want, out.AsFloat32())
	}
}
