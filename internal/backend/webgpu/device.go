//go:build windows

package webgpu

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/relnet/internal/tensor"
)

// Device owns a WebGPU adapter, device and queue.
type Device struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	mu       sync.Mutex
	released bool
	name     string
}

// New opens the high-performance adapter and its default queue.
func New() (d *Device, err error) {
	// The bindings panic when the native library is missing.
	defer func() {
		if r := recover(); r != nil {
			d = nil
			err = errors.Wrapf(ErrUnavailable, "native library: %v", r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, errors.Wrapf(ErrUnavailable, "request adapter: %v", err)
	}

	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, errors.Wrapf(ErrUnavailable, "request device: %v", err)
	}

	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, errors.Wrap(ErrUnavailable, "no default queue")
	}

	info := adapter.GetInfo()
	d = &Device{
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    queue,
		name:     fmt.Sprintf("%s %s", info.Name, info.VendorName),
	}
	klog.V(1).Infof("webgpu: opened %s", d.name)
	return d, nil
}

// IsAvailable reports whether New succeeds on this system.
func IsAvailable() bool {
	d, err := New()
	if err != nil {
		return false
	}
	d.Release()
	return true
}

// Name returns the adapter description.
func (d *Device) Name() string { return d.name }

// Device returns tensor.WebGPU.
func (d *Device) Device() tensor.Device { return tensor.WebGPU }

// Upload copies raw into a new storage buffer.
func (d *Device) Upload(raw *tensor.RawTensor) (*Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil, errors.New("webgpu: upload on released device")
	}

	data := raw.Data()
	size := uint64(len(data))
	padded := alignedSize(size)
	if padded == 0 {
		padded = 4
	}

	buf := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:             padded,
		MappedAtCreation: wgpu.True,
	})
	if buf == nil {
		return nil, errors.Errorf("webgpu: failed to allocate %d bytes", padded)
	}
	mapped := buf.GetMappedRange(0, padded)
	//nolint:gosec // unsafe.Slice over the mapped range
	copy(unsafe.Slice((*byte)(mapped), padded), data)
	buf.Unmap()

	return &Buffer{
		handle: buf,
		shape:  raw.Shape().Clone(),
		dtype:  raw.DType(),
		size:   size,
	}, nil
}

// Download copies buf back into a new host array.
func (d *Device) Download(buf *Buffer) (*tensor.RawTensor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil, errors.New("webgpu: download on released device")
	}
	src, ok := buf.handle.(*wgpu.Buffer)
	if !ok || src == nil {
		return nil, errors.New("webgpu: download of released buffer")
	}

	padded := alignedSize(buf.size)
	if padded == 0 {
		padded = 4
	}
	staging := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  padded,
	})
	defer staging.Release()

	encoder := d.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, padded)
	d.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(d.device, wgpu.MapModeRead, 0, padded); err != nil {
		return nil, errors.Wrap(err, "webgpu: map staging buffer")
	}
	mapped := staging.GetMappedRange(0, padded)
	//nolint:gosec // unsafe.Slice over the mapped range
	data := append([]byte(nil), unsafe.Slice((*byte)(mapped), padded)[:buf.size]...)
	staging.Unmap()

	return tensor.NewRawFromBytes(buf.shape.Clone(), buf.dtype, tensor.CPU, data)
}

// Release frees the device. Buffers must be released first.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return
	}
	d.released = true
	d.device.Release()
	d.adapter.Release()
	d.instance.Release()
}
