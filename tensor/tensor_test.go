// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/relnet/backend/cpu"
	"github.com/born-ml/relnet/tensor"
)

func TestCreationFunctions(t *testing.T) {
	backend := cpu.New()

	z := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
	assert.Equal(t, tensor.Shape{2, 3}, z.Shape())
	assert.Equal(t, tensor.Float32, z.DType())

	o := tensor.Ones[int64](tensor.Shape{3}, backend)
	assert.Equal(t, []int64{1, 1, 1}, o.Data())

	f := tensor.Full[float32](tensor.Shape{2}, 0.5, backend)
	assert.Equal(t, []float32{0.5, 0.5}, f.Data())

	n := tensor.Normal(tensor.Shape{4}, 0, 1, rand.New(rand.NewSource(1)), backend)
	assert.Equal(t, 4, n.NumElements())

	x, err := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{2, 2}, backend)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 4, 6, 8}, x.Add(x).Data())
}

func TestRawTensorAPI(t *testing.T) {
	raw, err := tensor.NewRawFromBytes(tensor.Shape{2}, tensor.Uint8, tensor.CPU, []byte{3, 4})
	require.NoError(t, err)
	assert.Equal(t, []uint8{3, 4}, raw.AsUint8())
	assert.Equal(t, tensor.CPU, raw.Device())

	dst, err := tensor.NewRaw(tensor.Shape{3}, tensor.Uint8, tensor.CPU)
	require.NoError(t, err)
	var shapeErr *tensor.ShapeError
	assert.ErrorAs(t, dst.CopyFrom(raw), &shapeErr)

	wrapped := tensor.New[uint8](raw, cpu.New())
	assert.Equal(t, uint8(4), wrapped.At(1))
}

func TestDataTypes(t *testing.T) {
	dt, err := tensor.ParseDataType("int64")
	require.NoError(t, err)
	assert.Equal(t, tensor.Int64, dt)
	assert.Equal(t, 8, dt.Size())
	assert.Equal(t, "WebGPU", tensor.WebGPU.String())
}

func TestBroadcastShapes(t *testing.T) {
	out, broadcast, err := tensor.BroadcastShapes(tensor.Shape{1, 4, 1, 1}, tensor.Shape{2, 4, 5, 5})
	require.NoError(t, err)
	assert.True(t, broadcast)
	assert.Equal(t, tensor.Shape{2, 4, 5, 5}, out)
}
