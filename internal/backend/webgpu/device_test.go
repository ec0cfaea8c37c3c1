package webgpu

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/relnet/internal/tensor"
)

func TestAlignedSize(t *testing.T) {
	assert.Equal(t, uint64(0), alignedSize(0))
	assert.Equal(t, uint64(4), alignedSize(1))
	assert.Equal(t, uint64(8), alignedSize(8))
	assert.Equal(t, uint64(12), alignedSize(9))
}

func TestBuffer_ReleaseTwice(t *testing.T) {
	var n int
	b := &Buffer{handle: countingReleaser{&n}, shape: tensor.Shape{2}, dtype: tensor.Float32, size: 8}
	b.Release()
	b.Release()
	assert.Equal(t, 1, n)
	assert.Equal(t, tensor.Shape{2}, b.Shape())
	assert.Equal(t, tensor.Float32, b.DType())
	assert.Equal(t, uint64(8), b.Size())
}

type countingReleaser struct{ n *int }

func (c countingReleaser) Release() { *c.n++ }

func TestUploadDownload(t *testing.T) {
	dev, err := New()
	if err != nil {
		require.True(t, errors.Is(err, ErrUnavailable), "unexpected error: %v", err)
		assert.False(t, IsAvailable())
		t.Skip("WebGPU not available")
	}
	defer dev.Release()

	raw, err := tensor.NewRaw(tensor.Shape{3}, tensor.Uint8, tensor.CPU)
	require.NoError(t, err)
	copy(raw.AsUint8(), []uint8{7, 8, 9})

	buf, err := dev.Upload(raw)
	require.NoError(t, err)
	defer buf.Release()

	back, err := dev.Download(buf)
	require.NoError(t, err)
	assert.Equal(t, []uint8{7, 8, 9}, back.AsUint8())
	assert.Equal(t, tensor.CPU, back.Device())
}
