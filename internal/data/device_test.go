package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceOther(t *testing.T) {
	assert.Equal(t, DeviceHost, DeviceAccelerator.Other())
	assert.Equal(t, DeviceAccelerator, DeviceHost.Other())
}

func TestDeviceString(t *testing.T) {
	assert.Equal(t, "accelerator", DeviceAccelerator.String())
	assert.Equal(t, "host", DeviceHost.String())
	assert.Panics(t, func() { _ = Device(9).String() })
	assert.Panics(t, func() { _ = Device(9).Other() })
}

func TestDTypeByteSize(t *testing.T) {
	assert.Equal(t, int64(4), DTypeFloat32.ByteSize())
	assert.Equal(t, int64(2), DTypeFloat16.ByteSize())
	assert.Panics(t, func() { _ = DType(5).ByteSize() })
}

func TestTensorSliceAssigned(t *testing.T) {
	ts := NewTensorSlice("bert.encoder.layer.0.weight", 1024)
	assert.False(t, ts.Assigned())
	assert.Equal(t, PackingDType, ts.DType)
	ts.ChunkId = 0
	ts.Offset = 0
	assert.True(t, ts.Assigned())
	assert.Equal(t, "bert.encoder.layer.0.weight@0:0", ts.String())
}
