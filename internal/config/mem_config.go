package config

import (
	"github.com/xinkaiwang/chunkmgr/kcommon"
	"github.com/xinkaiwang/chunkmgr/kerror"
)

const (
	DefaultChunkMemFraction = 0.6
	// DefaultChunkCapacity 默认每个 chunk 容纳 32M 个元素
	DefaultChunkCapacity     = 32 * 1024 * 1024
	DefaultSafetyMarginBytes = 500 * 1000 * 1000 // 500 MB reserve against allocator fragmentation / transient spikes
	DefaultWarmupAccelRatio  = 1.0 / 3.0
)

type MemConfigProvider interface {
	GetMemConfig() MemConfig
}

// MemConfig 内存管理核心配置
type MemConfig struct {
	// fraction of physical device memory that chunks may use
	ChunkMemFraction float64 `json:"chunk_mem_fraction"`
	// default chunk capacity in elements (not bytes)
	DefaultChunkCapacity int64 `json:"default_chunk_capacity"`
	// run a profiling (warm-up) iteration before enabling prediction-driven eviction
	WarmupEnabled bool `json:"warmup_enabled"`
	// fixed reserve held back from the steady-state chunk budget
	SafetyMarginBytes int64 `json:"safety_margin_bytes"`
	// during warm-up the accelerator chunk budget is overall * ratio
	WarmupAccelRatio float64 `json:"warmup_accel_ratio"`
	// process placement: host memory is shared by all co-located ranks
	LocalRank int `json:"local_rank"`
	WorldSize int `json:"world_size"`
}

func DefaultMemConfig() MemConfig {
	return MemConfig{
		ChunkMemFraction:     DefaultChunkMemFraction,
		DefaultChunkCapacity: DefaultChunkCapacity,
		WarmupEnabled:        true,
		SafetyMarginBytes:    DefaultSafetyMarginBytes,
		WarmupAccelRatio:     DefaultWarmupAccelRatio,
		LocalRank:            0,
		WorldSize:            1,
	}
}

/*
export CHUNKMGR_MEM_FRACTION=0.6
export CHUNKMGR_CHUNK_CAPACITY=33554432
export CHUNKMGR_WARMUP=true
export CHUNKMGR_SAFETY_MARGIN_MB=500
export LOCAL_RANK=0
export WORLD_SIZE=1
*/
func MemConfigFromEnv() MemConfig {
	cfg := DefaultMemConfig()
	cfg.ChunkMemFraction = kcommon.GetEnvFloat("CHUNKMGR_MEM_FRACTION", cfg.ChunkMemFraction)
	cfg.DefaultChunkCapacity = int64(kcommon.GetEnvInt("CHUNKMGR_CHUNK_CAPACITY", int(cfg.DefaultChunkCapacity)))
	cfg.WarmupEnabled = kcommon.GetEnvBool("CHUNKMGR_WARMUP", cfg.WarmupEnabled)
	cfg.SafetyMarginBytes = int64(kcommon.GetEnvInt("CHUNKMGR_SAFETY_MARGIN_MB", 500)) * 1000 * 1000
	cfg.WarmupAccelRatio = kcommon.GetEnvFloat("CHUNKMGR_WARMUP_ACCEL_RATIO", cfg.WarmupAccelRatio)
	cfg.LocalRank = kcommon.GetEnvInt("LOCAL_RANK", cfg.LocalRank)
	cfg.WorldSize = kcommon.GetEnvInt("WORLD_SIZE", cfg.WorldSize)
	cfg.Validate()
	return cfg
}

// Validate panics on configs that can never work.
func (cfg MemConfig) Validate() {
	if cfg.ChunkMemFraction <= 0 || cfg.ChunkMemFraction > 1 {
		panic(kerror.Create("InvalidMemConfig", "ChunkMemFraction out of range").With("fraction", cfg.ChunkMemFraction))
	}
	if cfg.DefaultChunkCapacity <= 0 {
		panic(kerror.Create("InvalidMemConfig", "DefaultChunkCapacity must be positive").With("capacity", cfg.DefaultChunkCapacity))
	}
	if cfg.WorldSize <= 0 {
		panic(kerror.Create("InvalidMemConfig", "WorldSize must be positive").With("worldSize", cfg.WorldSize))
	}
}
