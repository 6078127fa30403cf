package core

import (
	"context"

	"github.com/xinkaiwang/chunkmgr/internal/data"
	"github.com/xinkaiwang/chunkmgr/internal/deviceprov"
	"github.com/xinkaiwang/chunkmgr/kcommon"
	"github.com/xinkaiwang/chunkmgr/kerror"
	"github.com/xinkaiwang/chunkmgr/klogging"
	"github.com/xinkaiwang/chunkmgr/kmetrics"
)

var (
	MoveElapsedMsMetric = kmetrics.CreateKmetric(context.Background(), "chunk_move_elapsed_ms", "time spent copying chunk payloads between devices", []string{"src", "dst"})
)

// ChunkState is derived from payload presence and the in-compute counter,
// never stored independently.
type ChunkState int8

const (
	// ChunkStateReleased: no backing store
	ChunkStateReleased ChunkState = iota
	// ChunkStateCompute: at least one slice actively read/written by a kernel
	ChunkStateCompute
	// ChunkStateHold: payload present, idle
	ChunkStateHold
)

func (s ChunkState) String() string {
	switch s {
	case ChunkStateReleased:
		return "RELEASED"
	case ChunkStateCompute:
		return "COMPUTE"
	case ChunkStateHold:
		return "HOLD"
	default:
		panic(kerror.Create("UnknownChunkState", "invalid chunk state").With("state", int8(s)))
	}
}

// Chunk 是固定容量、单一 dtype 的连续缓冲区，把多个 tensor slice 打包进同一块
// 物理分配里。payload 要么不存在，要么恰好在一个设备上。
type Chunk struct {
	id        data.ChunkId
	dtype     data.DType // storage dtype; slices are packed in PackingDType elements
	capacity  int64      // max element count
	endOffset int64
	localRank int
	pinned    bool
	slices    []*data.TensorSlice

	numInCompute int
	payload      deviceprov.Buffer // nil when RELEASED

	tracer   *UsageTracer
	provider deviceprov.DeviceProvider
}

func NewChunk(id data.ChunkId, dtype data.DType, capacity int64, localRank int, tracer *UsageTracer, provider deviceprov.DeviceProvider) *Chunk {
	if capacity <= 0 {
		panic(kerror.Create("InvalidChunkCapacity", "chunk capacity must be positive").With("capacity", capacity))
	}
	return &Chunk{
		id:        id,
		dtype:     dtype,
		capacity:  capacity,
		localRank: localRank,
		tracer:    tracer,
		provider:  provider,
	}
}

func (c *Chunk) Id() data.ChunkId {
	return c.id
}

func (c *Chunk) Dtype() data.DType {
	return c.dtype
}

func (c *Chunk) Capacity() int64 {
	return c.capacity
}

// UsedNumel: current end-of-fill offset in elements
func (c *Chunk) UsedNumel() int64 {
	return c.endOffset
}

// ChunkSpaceBytes is the payload byte size when allocated.
func (c *Chunk) ChunkSpaceBytes() int64 {
	return c.capacity * c.dtype.ByteSize()
}

func (c *Chunk) State() ChunkState {
	if c.payload == nil {
		return ChunkStateReleased
	}
	if c.numInCompute > 0 {
		return ChunkStateCompute
	}
	return ChunkStateHold
}

func (c *Chunk) CanFit(numel int64) bool {
	return c.capacity-c.endOffset >= numel
}

// AddSlice accepts the slice and fixes its (chunkId, offset), or returns false
// without mutation when there is not enough room. The slice dtype must be the
// packing dtype; a mismatch is a caller contract violation.
func (c *Chunk) AddSlice(slice *data.TensorSlice) bool {
	if slice.DType != data.PackingDType {
		panic(kerror.Create("PackingDtypeMismatch", "slice dtype is not the packing dtype").
			With("tensorId", string(slice.TensorId)).
			With("dtype", slice.DType.String()).
			With("packingDtype", data.PackingDType.String()))
	}
	if slice.Assigned() {
		panic(kerror.Create("SliceAlreadyAssigned", "slice already belongs to a chunk").
			With("tensorId", string(slice.TensorId)).
			With("chunkId", int32(slice.ChunkId)))
	}
	if !c.CanFit(slice.Numel) {
		return false
	}
	slice.ChunkId = c.id
	slice.Offset = c.endOffset
	c.endOffset += slice.Numel
	c.slices = append(c.slices, slice)
	return true
}

// AllocatePayload allocates a zero-initialized buffer of capacity elements on
// dev and registers the byte size with the tracer. Host payloads request
// pinned memory (transfer speed hint, not a correctness requirement). The
// caller must have ensured room on dev.
func (c *Chunk) AllocatePayload(ctx context.Context, dev data.Device) {
	if c.payload != nil {
		panic(kerror.Create("PayloadAlreadyPresent", "allocate on a chunk that already has a payload").
			With("chunkId", int32(c.id)).
			With("device", c.payload.Device().String()))
	}
	sizeBytes := c.ChunkSpaceBytes()
	c.payload = c.provider.Allocate(ctx, dev, sizeBytes, dev == data.DeviceHost)
	c.tracer.Add(dev, sizeBytes)
	klogging.Verbose(ctx).With("chunkId", int32(c.id)).With("device", dev.String()).With("sizeBytes", sizeBytes).Log("ChunkPayloadAllocated", "")
}

// ReleasePayload unregisters the payload at its current device and frees it.
func (c *Chunk) ReleasePayload(ctx context.Context) {
	if c.payload == nil {
		panic(kerror.Create("PayloadAbsent", "release on a chunk without payload").With("chunkId", int32(c.id)))
	}
	if c.numInCompute > 0 {
		panic(kerror.Create("ChunkInCompute", "release while slices are in compute").
			With("chunkId", int32(c.id)).
			With("numInCompute", c.numInCompute))
	}
	dev := c.payload.Device()
	sizeBytes := c.payload.SizeBytes()
	c.tracer.Delete(dev, sizeBytes)
	c.payload.Free()
	c.payload = nil
	klogging.Verbose(ctx).With("chunkId", int32(c.id)).With("device", dev.String()).With("sizeBytes", sizeBytes).Log("ChunkPayloadReleased", "")
}

// Move 同步搬运 payload 到目标设备。刻意阻塞：预测驱动的搬运必须在依赖这块
// 空间的 step 开始之前完成。目标设备的容量由调用方（eviction engine）保证。
func (c *Chunk) Move(ctx context.Context, target data.Device) {
	if c.payload == nil {
		panic(kerror.Create("PayloadAbsent", "move on a chunk without payload").With("chunkId", int32(c.id)))
	}
	if c.numInCompute > 0 {
		panic(kerror.Create("ChunkInCompute", "move while slices are in compute").
			With("chunkId", int32(c.id)).
			With("numInCompute", c.numInCompute))
	}
	src := c.payload.Device()
	if src == target {
		panic(kerror.Create("MoveToSameDevice", "move target equals current device").
			With("chunkId", int32(c.id)).
			With("device", src.String()))
	}

	startMs := kcommon.GetMonoTimeMs()
	sizeBytes := c.payload.SizeBytes()
	newPayload := c.provider.Allocate(ctx, target, sizeBytes, target == data.DeviceHost)
	newPayload.CopyFrom(c.payload)
	c.payload.Free()
	c.payload = newPayload

	c.tracer.Delete(src, sizeBytes)
	c.tracer.Add(target, sizeBytes)

	elapsedMs := kcommon.GetMonoTimeMs() - startMs
	MoveElapsedMsMetric.GetTimeSequence(ctx, src.String(), target.String()).Add(elapsedMs)
	klogging.Verbose(ctx).With("chunkId", int32(c.id)).With("src", src.String()).With("dst", target.String()).With("sizeBytes", sizeBytes).With("elapsedMs", elapsedMs).Log("ChunkMoved", "")
}

// Pin marks the chunk as a bad eviction victim. It does not prevent an
// explicit Move.
func (c *Chunk) Pin() {
	c.pinned = true
}

func (c *Chunk) Unpin() {
	c.pinned = false
}

func (c *Chunk) IsPinned() bool {
	return c.pinned
}

// IncInCompute/DecInCompute bracket kernel execution on any slice of this
// chunk. The compute layer owns the pairing.
func (c *Chunk) IncInCompute() {
	c.numInCompute++
}

func (c *Chunk) DecInCompute() {
	if c.numInCompute <= 0 {
		panic(kerror.Create("InComputeUnderflow", "decInCompute below zero").With("chunkId", int32(c.id)))
	}
	c.numInCompute--
}

// PayloadDevice reports where the payload lives; ok is false when RELEASED.
func (c *Chunk) PayloadDevice() (dev data.Device, ok bool) {
	if c.payload == nil {
		return data.DeviceAccelerator, false
	}
	return c.payload.Device(), true
}

// PayloadSizeBytes is 0 when RELEASED.
func (c *Chunk) PayloadSizeBytes() int64 {
	if c.payload == nil {
		return 0
	}
	return c.payload.SizeBytes()
}
