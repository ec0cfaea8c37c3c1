// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu places host arrays in GPU memory through WebGPU.
//
// Only Windows builds link the native library; on other platforms New
// returns ErrUnavailable.
//
// Example:
//
//	dev, err := webgpu.New()
//	if errors.Is(err, webgpu.ErrUnavailable) {
//	    // fall back to the CPU
//	}
//	defer dev.Release()
//	buf, err := dev.Upload(raw)
package webgpu

import (
	internalwebgpu "github.com/born-ml/relnet/internal/backend/webgpu"
)

// Device is an open WebGPU device.
type Device = internalwebgpu.Device

// Buffer is a GPU-resident copy of a host array.
type Buffer = internalwebgpu.Buffer

// ErrUnavailable is returned by New when no WebGPU device can be used.
var ErrUnavailable = internalwebgpu.ErrUnavailable

// New opens the high-performance adapter. Call Release when done.
func New() (*Device, error) {
	return internalwebgpu.New()
}

// IsAvailable reports whether a WebGPU device can be opened.
func IsAvailable() bool {
	return internalwebgpu.IsAvailable()
}
