package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xinkaiwang/chunkmgr/internal/data"
	"github.com/xinkaiwang/chunkmgr/kcommon"
)

func TestChunkListAppendSlice(t *testing.T) {
	env := newTestEnv(10000, 10000)
	cl := env.chunkList

	// capacity is 25 elements: 10+10 pack into chunk 0, next 10 opens chunk 1
	s1, err := cl.AppendSlice(env.ctx, "t1", 10)
	assert.NoError(t, err)
	s2, err := cl.AppendSlice(env.ctx, "t2", 10)
	assert.NoError(t, err)
	s3, err := cl.AppendSlice(env.ctx, "t3", 10)
	assert.NoError(t, err)

	assert.Equal(t, data.ChunkId(0), s1.ChunkId)
	assert.Equal(t, int64(0), s1.Offset)
	assert.Equal(t, data.ChunkId(0), s2.ChunkId)
	assert.Equal(t, int64(10), s2.Offset)
	assert.Equal(t, data.ChunkId(1), s3.ChunkId)
	assert.Equal(t, int64(0), s3.Offset)
	assert.Equal(t, 2, cl.Len())
	assert.Same(t, cl.Get(s3.ChunkId), cl.Get(1))

	// a slice larger than the chunk capacity is a capacity violation
	_, err = cl.AppendSlice(env.ctx, "huge", 26)
	assert.Error(t, err)
	_, err = cl.AppendSlice(env.ctx, "empty", 0)
	assert.Error(t, err)
}

func TestChunkMemUsed(t *testing.T) {
	env := newTestEnv(10000, 10000)
	env.newResidentChunk("a", data.DeviceAccelerator)
	env.newResidentChunk("b", data.DeviceAccelerator)
	env.newResidentChunk("c", data.DeviceHost)
	env.chunkList.NewChunk(env.ctx, data.PackingDType) // stays RELEASED

	assert.Equal(t, int64(200), env.chunkList.ChunkMemUsed(data.DeviceAccelerator))
	assert.Equal(t, int64(100), env.chunkList.ChunkMemUsed(data.DeviceHost))

	// the list's view matches the tracer's counters
	assert.Equal(t, env.tracer.ChunkUsed(data.DeviceAccelerator), env.chunkList.ChunkMemUsed(data.DeviceAccelerator))
	assert.Equal(t, env.tracer.ChunkUsed(data.DeviceHost), env.chunkList.ChunkMemUsed(data.DeviceHost))
}

func TestMakeRoomEvictsInIdOrder(t *testing.T) {
	env := newTestEnv(10000, 10000)
	c0 := env.newResidentChunk("a", data.DeviceAccelerator)
	c1 := env.newResidentChunk("b", data.DeviceAccelerator)
	c2 := env.newResidentChunk("c", data.DeviceAccelerator)

	env.chunkList.MakeRoom(env.ctx, 150, data.DeviceAccelerator)

	// ids 0 and 1 go first; 100+100 >= 150 so chunk 2 stays
	dev0, _ := c0.PayloadDevice()
	dev1, _ := c1.PayloadDevice()
	dev2, _ := c2.PayloadDevice()
	assert.Equal(t, data.DeviceHost, dev0)
	assert.Equal(t, data.DeviceHost, dev1)
	assert.Equal(t, data.DeviceAccelerator, dev2)
	assert.Equal(t, int64(100), env.chunkList.ChunkMemUsed(data.DeviceAccelerator))
	assert.Equal(t, int64(200), env.chunkList.ChunkMemUsed(data.DeviceHost))
}

func TestMakeRoomSkipsPinnedAndCompute(t *testing.T) {
	env := newTestEnv(10000, 10000)
	c0 := env.newResidentChunk("a", data.DeviceAccelerator)
	c1 := env.newResidentChunk("b", data.DeviceAccelerator)
	c2 := env.newResidentChunk("c", data.DeviceAccelerator)
	c0.Pin()
	c1.IncInCompute()

	env.chunkList.MakeRoom(env.ctx, 100, data.DeviceAccelerator)

	dev0, _ := c0.PayloadDevice()
	dev1, _ := c1.PayloadDevice()
	dev2, _ := c2.PayloadDevice()
	assert.Equal(t, data.DeviceAccelerator, dev0)
	assert.Equal(t, data.DeviceAccelerator, dev1)
	assert.Equal(t, data.DeviceHost, dev2)
}

func TestMakeRoomInsufficientEvictable(t *testing.T) {
	env := newTestEnv(10000, 10000)
	env.newResidentChunk("a", data.DeviceAccelerator)
	env.newResidentChunk("b", data.DeviceAccelerator)
	env.newResidentChunk("c", data.DeviceAccelerator)

	// 500 requested, only 300 evictable
	ke := kcommon.TryCatchRun(env.ctx, func() {
		env.chunkList.MakeRoom(env.ctx, 500, data.DeviceAccelerator)
	})
	assert.NotNil(t, ke)
	assert.Equal(t, "NotEnoughEvictableChunks", ke.Type)

	// partial progress kept, counters consistent
	assert.Equal(t, int64(0), env.chunkList.ChunkMemUsed(data.DeviceAccelerator))
	assert.Equal(t, int64(300), env.chunkList.ChunkMemUsed(data.DeviceHost))
	assert.Equal(t, int64(0), env.tracer.ChunkUsed(data.DeviceAccelerator))
	assert.Equal(t, int64(300), env.tracer.ChunkUsed(data.DeviceHost))
}

func TestLargestFirstPolicy(t *testing.T) {
	env := newTestEnv(10000, 10000)
	env.chunkList.WithVictimPolicy(NewLargestFirstPolicy())

	small := env.chunkList.NewChunk(env.ctx, data.PackingDType)
	small.AllocatePayload(env.ctx, data.DeviceAccelerator)
	big := NewChunk(99, data.PackingDType, 100, 0, env.tracer, env.provider)
	env.chunkList.chunks = append(env.chunkList.chunks, big)
	env.chunkList.byId[big.id] = big
	big.AllocatePayload(env.ctx, data.DeviceAccelerator) // 400 bytes

	env.chunkList.MakeRoom(env.ctx, 200, data.DeviceAccelerator)

	devBig, _ := big.PayloadDevice()
	devSmall, _ := small.PayloadDevice()
	assert.Equal(t, data.DeviceHost, devBig)
	assert.Equal(t, data.DeviceAccelerator, devSmall)
}

func TestAccessSliceMaterializes(t *testing.T) {
	env := newTestEnv(10000, 10000)
	env.manager.StartTraining(env.ctx, false)
	slice, err := env.chunkList.AppendSlice(env.ctx, "w1", 20)
	assert.NoError(t, err)
	chunk := env.chunkList.Get(slice.ChunkId)
	assert.Equal(t, ChunkStateReleased, chunk.State())

	// released chunk is allocated on the compute device
	env.chunkList.AccessSlice(env.ctx, slice, data.DeviceAccelerator)
	assert.Equal(t, ChunkStateCompute, chunk.State())
	dev, _ := chunk.PayloadDevice()
	assert.Equal(t, data.DeviceAccelerator, dev)

	env.chunkList.ReleaseSlice(env.ctx, slice)
	assert.Equal(t, ChunkStateHold, chunk.State())

	// misplaced chunk is fetched back
	chunk.Move(env.ctx, data.DeviceHost)
	env.chunkList.AccessSlice(env.ctx, slice, data.DeviceAccelerator)
	dev, _ = chunk.PayloadDevice()
	assert.Equal(t, data.DeviceAccelerator, dev)
	env.chunkList.ReleaseSlice(env.ctx, slice)

	// right device already: no movement, just the compute count
	env.chunkList.AccessSlice(env.ctx, slice, data.DeviceAccelerator)
	env.chunkList.AccessSlice(env.ctx, slice, data.DeviceAccelerator)
	assert.Equal(t, ChunkStateCompute, chunk.State())
	env.chunkList.ReleaseSlice(env.ctx, slice)
	env.chunkList.ReleaseSlice(env.ctx, slice)
	assert.Equal(t, ChunkStateHold, chunk.State())
}

func TestAccessSliceEvictsWhenOverBudget(t *testing.T) {
	// accel total 1000 * 0.6 = 600 overall; warm-up budget = 600/3 = 200
	env := newTestEnv(1000, 10000)
	env.manager.StartTraining(env.ctx, true)

	a := env.newResidentChunk("a", data.DeviceAccelerator)
	b := env.newResidentChunk("b", data.DeviceAccelerator)
	assert.Equal(t, int64(0), env.manager.FreeChunkMem(data.DeviceAccelerator))

	slice, err := env.chunkList.AppendSlice(env.ctx, "c", 25)
	assert.NoError(t, err)

	// materializing 100 more bytes forces an eviction first
	env.chunkList.AccessSlice(env.ctx, slice, data.DeviceAccelerator)
	devA, _ := a.PayloadDevice()
	devB, _ := b.PayloadDevice()
	assert.Equal(t, data.DeviceHost, devA)
	assert.Equal(t, data.DeviceAccelerator, devB)
	assert.Equal(t, int64(200), env.chunkList.ChunkMemUsed(data.DeviceAccelerator))
	env.chunkList.ReleaseSlice(env.ctx, slice)
}
