// Package placement moves host arrays onto a compute device.
package placement

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/relnet/internal/backend/cpu"
	"github.com/born-ml/relnet/internal/backend/webgpu"
	"github.com/born-ml/relnet/internal/serialization"
	"github.com/born-ml/relnet/internal/tensor"
)

// Placement puts host arrays on one device.
type Placement interface {
	Device() tensor.Device
	Place(raw *tensor.RawTensor) (*Placed, error)
}

// Placed is an array on a device. Exactly one of Host and GPU is set.
type Placed struct {
	Host *tensor.RawTensor
	GPU  *webgpu.Buffer
}

// Shape returns the array shape.
func (p *Placed) Shape() tensor.Shape {
	if p.GPU != nil {
		return p.GPU.Shape()
	}
	return p.Host.Shape()
}

// DType returns the element type.
func (p *Placed) DType() tensor.DataType {
	if p.GPU != nil {
		return p.GPU.DType()
	}
	return p.Host.DType()
}

// Device returns where the array lives.
func (p *Placed) Device() tensor.Device {
	if p.GPU != nil {
		return tensor.WebGPU
	}
	return tensor.CPU
}

// Release frees device memory. It is a no-op for host arrays and nil.
func (p *Placed) Release() {
	if p != nil && p.GPU != nil {
		p.GPU.Release()
	}
}

type cpuPlacement struct{}

// CPU returns the host placement. Placed arrays may share memory with the
// input.
func CPU() Placement { return cpuPlacement{} }

func (cpuPlacement) Device() tensor.Device { return tensor.CPU }

func (cpuPlacement) Place(raw *tensor.RawTensor) (*Placed, error) {
	if raw.Device() != tensor.CPU {
		raw = raw.WithDevice(tensor.CPU)
	}
	return &Placed{Host: raw}, nil
}

type gpuPlacement struct {
	dev *webgpu.Device
}

// WebGPU returns a placement that uploads to dev.
func WebGPU(dev *webgpu.Device) Placement { return gpuPlacement{dev: dev} }

func (g gpuPlacement) Device() tensor.Device { return tensor.WebGPU }

func (g gpuPlacement) Place(raw *tensor.RawTensor) (*Placed, error) {
	buf, err := g.dev.Upload(raw)
	if err != nil {
		return nil, err
	}
	return &Placed{GPU: buf}, nil
}

// Auto opens a WebGPU device when one is available and falls back to the
// host otherwise. The returned func releases the device.
func Auto() (Placement, func()) {
	dev, err := webgpu.New()
	if err != nil {
		klog.V(1).Infof("placement: using CPU: %v", err)
		return CPU(), func() {}
	}
	klog.V(1).Infof("placement: using %s", dev.Name())
	return WebGPU(dev), dev.Release
}

var caster = cpu.New()

// ToDevice converts raw to dtype on the host and places the result.
func ToDevice(raw *tensor.RawTensor, dtype tensor.DataType, p Placement) (*Placed, error) {
	if raw == nil {
		return nil, errors.New("placement: nil array")
	}
	return p.Place(caster.Cast(raw, dtype))
}

// LoadNpy reads a host array from a .npy file.
func LoadNpy(path string) (*tensor.RawTensor, error) {
	return serialization.ReadNpyFile(path)
}
