package core

import (
	"context"

	"github.com/xinkaiwang/chunkmgr/internal/data"
	"github.com/xinkaiwang/chunkmgr/internal/deviceprov"
	"github.com/xinkaiwang/chunkmgr/kerror"
	"github.com/xinkaiwang/chunkmgr/klogging"
	"github.com/xinkaiwang/chunkmgr/kmetrics"
)

var (
	EvictionBytesMetric = kmetrics.CreateKmetric(context.Background(), "chunk_eviction_bytes", "bytes evicted per device by makeRoom", []string{"device"})
)

// ChunkList 持有全部 chunk，是设备摆放的唯一修改者。同时实现腾挪算法
// (MakeRoom) 和 tensor 访问路径 (AccessSlice)。
type ChunkList struct {
	manager   *MemManager
	tracer    *UsageTracer
	provider  deviceprov.DeviceProvider
	policy    VictimPolicy
	localRank int

	defaultCapacity int64 // elements per chunk

	chunks []*Chunk
	byId   map[data.ChunkId]*Chunk
	nextId data.ChunkId
}

func NewChunkList(manager *MemManager) *ChunkList {
	cfg := manager.Config()
	return &ChunkList{
		manager:         manager,
		tracer:          manager.Tracer(),
		provider:        manager.Provider(),
		policy:          NewIdOrderPolicy(),
		localRank:       cfg.LocalRank,
		defaultCapacity: cfg.DefaultChunkCapacity,
		byId:            map[data.ChunkId]*Chunk{},
	}
}

// WithVictimPolicy replaces the default eviction ordering.
func (cl *ChunkList) WithVictimPolicy(policy VictimPolicy) *ChunkList {
	cl.policy = policy
	return cl
}

// NewChunk starts a fresh buffer with the configured default capacity.
func (cl *ChunkList) NewChunk(ctx context.Context, dtype data.DType) *Chunk {
	chunk := NewChunk(cl.nextId, dtype, cl.defaultCapacity, cl.localRank, cl.tracer, cl.provider)
	cl.nextId++
	cl.chunks = append(cl.chunks, chunk)
	cl.byId[chunk.id] = chunk
	klogging.Info(ctx).With("chunkId", int32(chunk.id)).With("dtype", dtype.String()).With("capacity", chunk.capacity).Log("ChunkCreated", "")
	return chunk
}

// AppendSlice packs the slice into the last open chunk, or starts a new one
// when it does not fit. A slice larger than the chunk capacity can never be
// packed; that is a capacity violation reported to the caller.
func (cl *ChunkList) AppendSlice(ctx context.Context, tensorId data.TensorId, numel int64) (*data.TensorSlice, error) {
	if numel <= 0 {
		return nil, kerror.Create("InvalidSliceNumel", "slice element count must be positive").
			With("tensorId", string(tensorId)).
			With("numel", numel)
	}
	if numel > cl.defaultCapacity {
		return nil, kerror.Create("SliceExceedsChunkCapacity", "slice can never fit in a chunk").
			With("tensorId", string(tensorId)).
			With("numel", numel).
			With("chunkCapacity", cl.defaultCapacity)
	}
	slice := data.NewTensorSlice(tensorId, numel)
	if n := len(cl.chunks); n > 0 && cl.chunks[n-1].AddSlice(slice) {
		return slice, nil
	}
	chunk := cl.NewChunk(ctx, data.PackingDType)
	if !chunk.AddSlice(slice) {
		// capacity was checked above, a fresh chunk must accept the slice
		panic(kerror.Create("FreshChunkRejectedSlice", "new chunk rejected a fitting slice").
			With("tensorId", string(tensorId)).
			With("numel", numel))
	}
	return slice, nil
}

func (cl *ChunkList) Get(id data.ChunkId) *Chunk {
	return cl.byId[id]
}

func (cl *ChunkList) Len() int {
	return len(cl.chunks)
}

func (cl *ChunkList) VisitChunks(fn func(chunk *Chunk)) {
	for _, chunk := range cl.chunks {
		fn(chunk)
	}
}

// ChunkMemUsed 统计当前驻留在 dev 上的所有 payload 字节数
func (cl *ChunkList) ChunkMemUsed(dev data.Device) int64 {
	var total int64
	for _, chunk := range cl.chunks {
		if resident, ok := chunk.PayloadDevice(); ok && resident == dev {
			total += chunk.PayloadSizeBytes()
		}
	}
	return total
}

// MakeRoom frees at least requiredBytes on dev by relocating whole chunks to
// the other device. Victims are resident, unpinned, non-compute chunks in the
// order chosen by the victim policy. Partial progress is kept: chunks already
// moved stay moved and all counters remain consistent; running out of
// evictable bytes panics, the training step must fail rather than run
// under-provisioned.
func (cl *ChunkList) MakeRoom(ctx context.Context, requiredBytes int64, dev data.Device) {
	if requiredBytes <= 0 {
		panic(kerror.Create("InvalidMakeRoomRequest", "requiredBytes must be positive").
			With("requiredBytes", requiredBytes).
			With("device", dev.String()))
	}
	var candidates []*Chunk
	for _, chunk := range cl.chunks {
		if resident, ok := chunk.PayloadDevice(); !ok || resident != dev {
			continue
		}
		if chunk.IsPinned() || chunk.State() == ChunkStateCompute {
			continue
		}
		candidates = append(candidates, chunk)
	}
	candidates = cl.policy.OrderVictims(candidates)

	target := dev.Other()
	var freedBytes int64
	var evicted int
	for _, chunk := range candidates {
		if freedBytes >= requiredBytes {
			break
		}
		sizeBytes := chunk.PayloadSizeBytes()
		chunk.Move(ctx, target)
		freedBytes += sizeBytes
		evicted++
	}
	EvictionBytesMetric.GetTimeSequence(ctx, dev.String()).Add(freedBytes)

	if freedBytes < requiredBytes {
		panic(kerror.Create("NotEnoughEvictableChunks", "cannot free the requested bytes").
			With("device", dev.String()).
			With("requiredBytes", requiredBytes).
			With("freedBytes", freedBytes).
			With("evictedChunks", evicted))
	}
	klogging.Info(ctx).With("device", dev.String()).With("requiredBytes", requiredBytes).With("freedBytes", freedBytes).With("evictedChunks", evicted).Log("MakeRoomDone", "")
}

// AccessSlice is the tensor-access path: materializes the parent chunk on
// computeDev (allocating or moving as needed, budget-checked through the
// manager) and bumps the in-compute counter. Must be paired with
// ReleaseSlice.
func (cl *ChunkList) AccessSlice(ctx context.Context, slice *data.TensorSlice, computeDev data.Device) {
	if !slice.Assigned() {
		panic(kerror.Create("SliceNotAssigned", "access on a slice without a chunk").
			With("tensorId", string(slice.TensorId)))
	}
	chunk, ok := cl.byId[slice.ChunkId]
	if !ok {
		panic(kerror.Create("ChunkNotFound", "slice points at an unknown chunk").
			With("tensorId", string(slice.TensorId)).
			With("chunkId", int32(slice.ChunkId)))
	}

	switch chunk.State() {
	case ChunkStateReleased:
		cl.ensureRoom(ctx, chunk.ChunkSpaceBytes(), computeDev)
		chunk.AllocatePayload(ctx, computeDev)
	case ChunkStateHold:
		if resident, _ := chunk.PayloadDevice(); resident != computeDev {
			cl.ensureRoom(ctx, chunk.PayloadSizeBytes(), computeDev)
			chunk.Move(ctx, computeDev)
		}
	case ChunkStateCompute:
		// already materialized; a chunk in compute is never on the wrong device
	}
	chunk.IncInCompute()
}

// ReleaseSlice ends one compute use of the slice's chunk.
func (cl *ChunkList) ReleaseSlice(ctx context.Context, slice *data.TensorSlice) {
	chunk, ok := cl.byId[slice.ChunkId]
	if !ok {
		panic(kerror.Create("ChunkNotFound", "slice points at an unknown chunk").
			With("tensorId", string(slice.TensorId)).
			With("chunkId", int32(slice.ChunkId)))
	}
	chunk.DecInCompute()
}

// ensureRoom checks the manager's budget (which covers all chunk-attributed
// bytes, not just this list's payloads) before a new payload lands on dev.
func (cl *ChunkList) ensureRoom(ctx context.Context, needBytes int64, dev data.Device) {
	freeBytes := cl.manager.FreeChunkMem(dev)
	if freeBytes < needBytes {
		cl.MakeRoom(ctx, needBytes-freeBytes, dev)
	}
}
