// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the convolutional building blocks of relnet.
//
// # Overview
//
// This package contains:
//   - Layers: Conv2D, BatchNorm2D, Linear, ReLU, MaxPool2D, Flatten
//   - Blocks: ConvBlock (conv, optional batch norm, optional ReLU) and FC
//   - Utilities: Sequential, Module, Parameter, Walk
//   - Initialization: Xavier, WeightsNormalInit, SetTrainable
//   - Checkpoints: SaveNet and LoadNet
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/relnet/backend/cpu"
//	    "github.com/born-ml/relnet/nn"
//	)
//
//	func main() {
//	    backend := cpu.New()
//	    cfg := nn.DefaultConvBlockConfig()
//	    cfg.SamePadding = true
//
//	    stage := nn.NewSequential[*cpu.Backend](
//	        nn.NewConvBlock(3, 64, 3, cfg, backend),
//	        nn.NewConvBlock(64, 64, 3, cfg, backend),
//	    )
//	    if err := nn.SaveNet[*cpu.Backend]("stage.safetensors", stage, nil); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # State dicts
//
// Every module exposes its arrays as an ordered state dict keyed by dotted
// names ("0.conv.weight", "0.bn.running_mean"). Checkpoints store exactly
// these keys.
package nn
