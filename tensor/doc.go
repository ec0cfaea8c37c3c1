// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public tensor types of relnet.
//
// # Overview
//
// Two layers of tensors are exposed:
//   - RawTensor: a byte buffer with shape, dtype and device. Checkpoints,
//     state dicts and weight migration work on raw tensors.
//   - Tensor[T, B]: a typed view bound to a Backend, used by the layers.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/relnet/backend/cpu"
//	    "github.com/born-ml/relnet/tensor"
//	)
//
//	func main() {
//	    backend := cpu.New()
//	    x := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
//	    y := tensor.Ones[float32](tensor.Shape{2, 3}, backend)
//	    z := x.Add(y)
//	}
//
// # Layout
//
// Raw tensors are contiguous and row-major. Permute returns a new contiguous
// tensor; it is how legacy HWIO convolution kernels become OIHW.
package tensor
