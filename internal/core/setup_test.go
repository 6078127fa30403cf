package core

import (
	"context"

	"github.com/xinkaiwang/chunkmgr/internal/config"
	"github.com/xinkaiwang/chunkmgr/internal/data"
	"github.com/xinkaiwang/chunkmgr/internal/deviceprov"
)

// testEnv wires a sim provider, tracer, manager and chunk list with small,
// easy-to-reason-about sizes: chunks hold 25 float32 elements = 100 bytes.
type testEnv struct {
	ctx       context.Context
	cfg       config.MemConfig
	provider  *deviceprov.SimProvider
	tracer    *UsageTracer
	manager   *MemManager
	chunkList *ChunkList
}

func newTestEnv(accelBytes, hostBytes int64) *testEnv {
	ctx := context.Background()
	cfg := config.DefaultMemConfig()
	cfg.ChunkMemFraction = 0.6
	cfg.DefaultChunkCapacity = 25
	cfg.SafetyMarginBytes = 0
	provider := deviceprov.NewSimProvider(ctx, accelBytes, hostBytes)
	tracer := NewUsageTracer(provider)
	manager := NewMemManager(ctx, cfg, provider, tracer)
	return &testEnv{
		ctx:       ctx,
		cfg:       cfg,
		provider:  provider,
		tracer:    tracer,
		manager:   manager,
		chunkList: NewChunkList(manager),
	}
}

// newResidentChunk creates a chunk holding one full slice and materializes it
// on dev.
func (env *testEnv) newResidentChunk(name data.TensorId, dev data.Device) *Chunk {
	chunk := env.chunkList.NewChunk(env.ctx, data.PackingDType)
	slice := data.NewTensorSlice(name, env.cfg.DefaultChunkCapacity)
	if !chunk.AddSlice(slice) {
		panic("slice must fit in a fresh chunk")
	}
	chunk.AllocatePayload(env.ctx, dev)
	return chunk
}
