package core

import (
	"context"
	"io"

	"github.com/xinkaiwang/chunkmgr/internal/config"
	"github.com/xinkaiwang/chunkmgr/internal/data"
	"github.com/xinkaiwang/chunkmgr/internal/deviceprov"
	"github.com/xinkaiwang/chunkmgr/kerror"
	"github.com/xinkaiwang/chunkmgr/klogging"
	"github.com/xinkaiwang/chunkmgr/kmetrics"
	"go.opencensus.io/metric"
)

// MemManager orchestrates the chunk budget. During warm-up it only records the
// per-step usage profile; after ResetMetronome it uses that profile plus the
// metronome's next-step prediction to evict ahead of demand spikes. One
// instance per process, constructed explicitly and handed to the training
// loop.
type MemManager struct {
	cfg      config.MemConfig
	provider deviceprov.DeviceProvider
	tracer   *UsageTracer
	metro    *Metronome

	// overallBytes is the per-device chunk capacity, computed once at
	// construction: physical total * fraction, host additionally divided by
	// world size (co-located ranks share host memory).
	overallBytes [data.DeviceCount]int64

	warmup          bool
	trainingStarted bool
}

func NewMemManager(ctx context.Context, cfg config.MemConfig, provider deviceprov.DeviceProvider, tracer *UsageTracer) *MemManager {
	cfg.Validate()
	mgr := &MemManager{
		cfg:      cfg,
		provider: provider,
		tracer:   tracer,
		metro:    NewMetronome(),
	}
	mgr.overallBytes[data.DeviceAccelerator] = int64(float64(provider.TotalMemBytes(data.DeviceAccelerator)) * cfg.ChunkMemFraction)
	mgr.overallBytes[data.DeviceHost] = int64(float64(provider.TotalMemBytes(data.DeviceHost))*cfg.ChunkMemFraction) / int64(cfg.WorldSize)
	klogging.Info(ctx).
		With("accelOverallBytes", mgr.overallBytes[data.DeviceAccelerator]).
		With("hostOverallBytes", mgr.overallBytes[data.DeviceHost]).
		With("localRank", cfg.LocalRank).
		With("worldSize", cfg.WorldSize).
		Log("MemManagerCreated", "")
	return mgr
}

func (mgr *MemManager) Config() config.MemConfig {
	return mgr.cfg
}

func (mgr *MemManager) Provider() deviceprov.DeviceProvider {
	return mgr.provider
}

func (mgr *MemManager) Tracer() *UsageTracer {
	return mgr.tracer
}

func (mgr *MemManager) Metronome() *Metronome {
	return mgr.metro
}

// OverallChunkMem is the fixed per-device ceiling chunks may ever occupy.
func (mgr *MemManager) OverallChunkMem(dev data.Device) int64 {
	return mgr.overallBytes[dev]
}

// StartTraining enters the training phase. warmup requests a profiling
// iteration first; it is ignored when the config disables warm-up.
func (mgr *MemManager) StartTraining(ctx context.Context, warmup bool) {
	if mgr.trainingStarted {
		panic(kerror.Create("TrainingAlreadyStarted", "startTraining called twice"))
	}
	mgr.trainingStarted = true
	mgr.warmup = warmup && mgr.cfg.WarmupEnabled
	klogging.Info(ctx).With("warmup", mgr.warmup).Log("TrainingStarted", "")
}

func (mgr *MemManager) InWarmup() bool {
	return mgr.warmup
}

// ResetMetronome ends the warm-up iteration: captures the iteration length,
// freezes the usage history, switches to prediction-driven eviction. Called
// exactly once; the transition is irreversible for the life of the process.
func (mgr *MemManager) ResetMetronome(ctx context.Context) {
	if !mgr.warmup {
		panic(kerror.Create("NotInWarmup", "resetMetronome outside warm-up"))
	}
	mgr.metro.Reset()
	mgr.tracer.Freeze(ctx)
	mgr.warmup = false
	klogging.Info(ctx).With("totalSteps", mgr.metro.TotalSteps()).Log("WarmupDone", "entering steady state")
}

// Tick runs once per micro-step, after the step's compute. Warm-up: sample
// usage into the history. Steady: compare next-step availability against
// current chunk demand and evict the difference before advancing.
func (mgr *MemManager) Tick(ctx context.Context, chunkList *ChunkList) {
	if !mgr.trainingStarted {
		panic(kerror.Create("TrainingNotStarted", "tick before startTraining"))
	}
	if mgr.warmup {
		for _, dev := range data.AllDevices() {
			mgr.tracer.AppendSample(ctx, dev)
		}
		mgr.metro.Tick()
		return
	}
	if !mgr.tracer.Frozen() {
		// warm-up disabled: no profile, no prediction
		mgr.metro.Tick()
		return
	}

	nextStep := mgr.metro.NextStep()
	for _, dev := range data.AllDevices() {
		nextAvailable := mgr.overallBytes[dev] - mgr.tracer.SysUsedAt(dev, nextStep)
		demand := chunkList.ChunkMemUsed(dev)
		if nextAvailable < demand {
			klogging.Info(ctx).
				With("device", dev.String()).
				With("step", mgr.metro.CurrentStep()).
				With("nextStep", nextStep).
				With("nextAvailable", nextAvailable).
				With("demand", demand).
				Log("PredictiveEviction", "next-step budget below current demand")
			chunkList.MakeRoom(ctx, demand-nextAvailable, dev)
		}
	}
	mgr.metro.Tick()
}

// AvailableChunkMem is the byte budget chunks may occupy on dev right now.
// Warm-up (or before training, or when no profile was ever captured) uses a
// conservative static fraction; steady state uses min(current, next)
// predicted budget minus the safety margin.
func (mgr *MemManager) AvailableChunkMem(dev data.Device) int64 {
	overall := mgr.overallBytes[dev]
	if !mgr.trainingStarted || mgr.warmup || !mgr.tracer.Frozen() {
		if dev == data.DeviceAccelerator {
			return int64(float64(overall) * mgr.cfg.WarmupAccelRatio)
		}
		return overall
	}
	cur := overall - mgr.tracer.SysUsedAt(dev, mgr.metro.CurrentStep())
	next := overall - mgr.tracer.SysUsedAt(dev, mgr.metro.NextStep())
	available := cur
	if next < available {
		available = next
	}
	return available - mgr.cfg.SafetyMarginBytes
}

// FreeChunkMem is the budget headroom left on dev.
func (mgr *MemManager) FreeChunkMem(dev data.Device) int64 {
	return mgr.AvailableChunkMem(dev) - mgr.tracer.ChunkUsed(dev)
}

// Add registers chunk-attributed bytes allocated outside the chunk list
// (gradient buffers and similar). Delete unregisters them.
func (mgr *MemManager) Add(dev data.Device, bytes int64) {
	mgr.tracer.Add(dev, bytes)
}

func (mgr *MemManager) Delete(dev data.Device, bytes int64) {
	mgr.tracer.Delete(dev, bytes)
}

// DumpUsage writes the warm-up usage history as plain text.
func (mgr *MemManager) DumpUsage(w io.Writer) {
	mgr.tracer.DumpTo(w)
}

// RegisterMetrics installs per-device gauges on the given registry.
func (mgr *MemManager) RegisterMetrics(ctx context.Context, registry *metric.Registry) {
	chunkUsed := kmetrics.NewInt64DerivedGauge(ctx, registry, "chunkmgr_chunk_used_bytes", "chunk-attributed bytes per device", "device")
	deviceUsed := kmetrics.NewInt64DerivedGauge(ctx, registry, "chunkmgr_device_used_bytes", "total device bytes in use", "device")
	for _, dev := range data.AllDevices() {
		dev := dev
		chunkUsed.Upsert(ctx, func() int64 { return mgr.tracer.ChunkUsed(dev) }, dev.String())
		deviceUsed.Upsert(ctx, func() int64 { return mgr.provider.UsedMemBytes(dev) }, dev.String())
	}
	kmetrics.AddInt64DerivedGaugeWithLabels(ctx, registry,
		func() int64 { return int64(mgr.metro.CurrentStep()) },
		"chunkmgr_metronome_step", "current micro-step within the iteration", map[string]string{})
}
