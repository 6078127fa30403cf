package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xinkaiwang/chunkmgr/internal/data"
)

func TestChunkPacking(t *testing.T) {
	env := newTestEnv(10000, 10000)
	// capacity 1000 elements; slices of 400, 400, 300
	chunk := NewChunk(0, data.PackingDType, 1000, 0, env.tracer, env.provider)

	sliceA := data.NewTensorSlice("a", 400)
	sliceB := data.NewTensorSlice("b", 400)
	sliceC := data.NewTensorSlice("c", 300)

	assert.True(t, chunk.CanFit(400))
	assert.True(t, chunk.AddSlice(sliceA))
	assert.Equal(t, int64(0), sliceA.Offset)
	assert.Equal(t, data.ChunkId(0), sliceA.ChunkId)

	assert.True(t, chunk.AddSlice(sliceB))
	assert.Equal(t, int64(400), sliceB.Offset)
	assert.Equal(t, int64(800), chunk.UsedNumel())

	// 1000-800=200 < 300
	assert.False(t, chunk.CanFit(300))
	assert.False(t, chunk.AddSlice(sliceC))
	assert.Equal(t, int64(800), chunk.UsedNumel())
	assert.False(t, sliceC.Assigned())
}

func TestChunkAddSliceContract(t *testing.T) {
	env := newTestEnv(10000, 10000)
	chunk := NewChunk(0, data.PackingDType, 1000, 0, env.tracer, env.provider)

	badDtype := data.NewTensorSlice("bad", 10)
	badDtype.DType = data.DTypeFloat16
	assert.Panics(t, func() { chunk.AddSlice(badDtype) })

	slice := data.NewTensorSlice("a", 10)
	assert.True(t, chunk.AddSlice(slice))
	// (chunkId, offset) is fixed once assigned
	assert.Panics(t, func() { chunk.AddSlice(slice) })
}

func TestChunkPayloadRoundTrip(t *testing.T) {
	env := newTestEnv(10000, 10000)
	chunk := env.chunkList.NewChunk(env.ctx, data.PackingDType)
	assert.Equal(t, ChunkStateReleased, chunk.State())
	assert.Equal(t, int64(100), chunk.ChunkSpaceBytes())

	before := env.tracer.ChunkUsed(data.DeviceAccelerator)
	chunk.AllocatePayload(env.ctx, data.DeviceAccelerator)
	assert.Equal(t, ChunkStateHold, chunk.State())
	assert.Equal(t, before+100, env.tracer.ChunkUsed(data.DeviceAccelerator))
	dev, ok := chunk.PayloadDevice()
	assert.True(t, ok)
	assert.Equal(t, data.DeviceAccelerator, dev)

	// double allocate is a sequencing violation
	assert.Panics(t, func() { chunk.AllocatePayload(env.ctx, data.DeviceHost) })

	chunk.ReleasePayload(env.ctx)
	assert.Equal(t, ChunkStateReleased, chunk.State())
	assert.Equal(t, before, env.tracer.ChunkUsed(data.DeviceAccelerator))
	assert.Equal(t, int64(0), chunk.PayloadSizeBytes())
	assert.Panics(t, func() { chunk.ReleasePayload(env.ctx) })
}

func TestChunkMoveConservation(t *testing.T) {
	env := newTestEnv(10000, 10000)
	chunk := env.newResidentChunk("a", data.DeviceAccelerator)
	assert.Equal(t, int64(100), env.tracer.ChunkUsed(data.DeviceAccelerator))
	assert.Equal(t, int64(0), env.tracer.ChunkUsed(data.DeviceHost))

	chunk.Move(env.ctx, data.DeviceHost)
	assert.Equal(t, int64(0), env.tracer.ChunkUsed(data.DeviceAccelerator))
	assert.Equal(t, int64(100), env.tracer.ChunkUsed(data.DeviceHost))
	dev, _ := chunk.PayloadDevice()
	assert.Equal(t, data.DeviceHost, dev)

	// total tracked bytes conserved across both devices
	total := env.tracer.ChunkUsed(data.DeviceAccelerator) + env.tracer.ChunkUsed(data.DeviceHost)
	assert.Equal(t, int64(100), total)

	assert.Panics(t, func() { chunk.Move(env.ctx, data.DeviceHost) })
}

func TestChunkInComputeRejectsMoveAndRelease(t *testing.T) {
	env := newTestEnv(10000, 10000)
	chunk := env.newResidentChunk("a", data.DeviceAccelerator)

	chunk.IncInCompute()
	assert.Equal(t, ChunkStateCompute, chunk.State())
	assert.Panics(t, func() { chunk.Move(env.ctx, data.DeviceHost) })
	assert.Panics(t, func() { chunk.ReleasePayload(env.ctx) })

	chunk.DecInCompute()
	assert.Equal(t, ChunkStateHold, chunk.State())
	assert.Panics(t, func() { chunk.DecInCompute() })

	// once out of compute both operations work again
	chunk.Move(env.ctx, data.DeviceHost)
	chunk.ReleasePayload(env.ctx)
}

func TestChunkPinUnpin(t *testing.T) {
	env := newTestEnv(10000, 10000)
	chunk := env.newResidentChunk("a", data.DeviceAccelerator)
	assert.False(t, chunk.IsPinned())
	chunk.Pin()
	assert.True(t, chunk.IsPinned())

	// pinning does not prevent an explicit move
	chunk.Move(env.ctx, data.DeviceHost)

	chunk.Unpin()
	assert.False(t, chunk.IsPinned())
}
