// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides gradient clipping and the SGD optimizer.
//
// Example:
//
//	total := optim.ClipGradNorm(model.Parameters(), 10)
//	opt := optim.NewSGD(model.Parameters(), optim.SGDConfig{LR: 0.01, Momentum: 0.9}, backend)
//	opt.Step()
package optim

import (
	"github.com/born-ml/relnet/internal/nn"
	"github.com/born-ml/relnet/internal/optim"
	"github.com/born-ml/relnet/internal/tensor"
)

// Optimizer interface defines the common interface for all optimizers.
type Optimizer = optim.Optimizer

// SGD represents the SGD optimizer with optional momentum.
type SGD[B tensor.Backend] = optim.SGD[B]

// SGDConfig contains configuration for SGD optimizer.
type SGDConfig = optim.SGDConfig

// NewSGD creates a new SGD optimizer.
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig, backend B) *SGD[B] {
	return optim.NewSGD(params, config, backend)
}

// ClipGradNorm scales the gradients of trainable parameters so that their
// global L2 norm is at most maxNorm. It returns the norm before clipping.
func ClipGradNorm[B tensor.Backend](params []*nn.Parameter[B], maxNorm float64) float64 {
	return optim.ClipGradNorm(params, maxNorm)
}

// GradNorm returns the global L2 norm of the trainable gradients.
func GradNorm[B tensor.Backend](params []*nn.Parameter[B]) float64 {
	return optim.GradNorm(params)
}
