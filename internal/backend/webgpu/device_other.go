//go:build !windows

package webgpu

import (
	"github.com/born-ml/relnet/internal/tensor"
)

// Device is a WebGPU device. It cannot be opened on this platform.
type Device struct{}

// New returns ErrUnavailable.
func New() (*Device, error) {
	return nil, ErrUnavailable
}

// IsAvailable returns false.
func IsAvailable() bool { return false }

// Name returns "unavailable".
func (d *Device) Name() string { return "unavailable" }

// Device returns tensor.WebGPU.
func (d *Device) Device() tensor.Device { return tensor.WebGPU }

// Upload returns ErrUnavailable.
func (d *Device) Upload(*tensor.RawTensor) (*Buffer, error) { return nil, ErrUnavailable }

// Download returns ErrUnavailable.
func (d *Device) Download(*Buffer) (*tensor.RawTensor, error) { return nil, ErrUnavailable }

// Release is a no-op.
func (d *Device) Release() {}
