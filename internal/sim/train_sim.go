package sim

import (
	"context"
	"fmt"

	"github.com/xinkaiwang/chunkmgr/internal/config"
	"github.com/xinkaiwang/chunkmgr/internal/core"
	"github.com/xinkaiwang/chunkmgr/internal/data"
	"github.com/xinkaiwang/chunkmgr/internal/deviceprov"
	"github.com/xinkaiwang/chunkmgr/kcommon"
	"github.com/xinkaiwang/chunkmgr/kerror"
	"github.com/xinkaiwang/chunkmgr/klogging"
)

// SimConfig 模拟训练负载的形状参数
type SimConfig struct {
	NumTensors  int   `json:"num_tensors"`
	TensorNumel int64 `json:"tensor_numel"`
	// micro-steps per training iteration
	StepsPerIteration int `json:"steps_per_iteration"`
	// peak of the synthetic non-chunk accelerator load, in MB
	SysLoadPeakMb int64 `json:"sys_load_peak_mb"`
	// baseline non-chunk host load, in MB (jittered per step)
	HostSysLoadMb int `json:"host_sys_load_mb"`
	// slices touched per micro-step
	WorkingSetSize int `json:"working_set_size"`
}

func DefaultSimConfig() SimConfig {
	return SimConfig{
		NumTensors:        64,
		TensorNumel:       4 * 1024 * 1024,
		StepsPerIteration: 16,
		SysLoadPeakMb:     2000,
		HostSysLoadMb:     64,
		WorkingSetSize:    8,
	}
}

/*
export SIM_NUM_TENSORS=64
export SIM_TENSOR_NUMEL=4194304
export SIM_STEPS_PER_ITER=16
export SIM_SYS_LOAD_PEAK_MB=2000
export SIM_WORKING_SET=8
*/
func SimConfigFromEnv() SimConfig {
	cfg := DefaultSimConfig()
	cfg.NumTensors = kcommon.GetEnvInt("SIM_NUM_TENSORS", cfg.NumTensors)
	cfg.TensorNumel = int64(kcommon.GetEnvInt("SIM_TENSOR_NUMEL", int(cfg.TensorNumel)))
	cfg.StepsPerIteration = kcommon.GetEnvInt("SIM_STEPS_PER_ITER", cfg.StepsPerIteration)
	cfg.SysLoadPeakMb = int64(kcommon.GetEnvInt("SIM_SYS_LOAD_PEAK_MB", int(cfg.SysLoadPeakMb)))
	cfg.HostSysLoadMb = kcommon.GetEnvInt("SIM_HOST_SYS_LOAD_MB", cfg.HostSysLoadMb)
	cfg.WorkingSetSize = kcommon.GetEnvInt("SIM_WORKING_SET", cfg.WorkingSetSize)
	return cfg
}

// TrainSim drives the memory manager the way a real training loop would: each
// micro-step touches a sliding window of tensor slices on the accelerator,
// applies a periodic synthetic system load, and ends with Manager.Tick. The
// first iteration runs as warm-up; ResetMetronome fires at its end.
// Implements krunloop.CriticalResource; all mutations happen on the run loop.
type TrainSim struct {
	simCfg    SimConfig
	provider  *deviceprov.SimProvider
	manager   *core.MemManager
	chunkList *core.ChunkList
	slices    []*data.TensorSlice

	// periodic non-chunk accelerator load, one entry per micro-step
	sysCurve []int64

	iteration  int
	stepInIter int
	aborted    bool
}

// IsResource marks TrainSim as a krunloop critical resource.
func (ts *TrainSim) IsResource() {}

func NewTrainSim(ctx context.Context, simCfg SimConfig, memCfg config.MemConfig, provider *deviceprov.SimProvider) *TrainSim {
	tracer := core.NewUsageTracer(provider)
	manager := core.NewMemManager(ctx, memCfg, provider, tracer)
	ts := &TrainSim{
		simCfg:    simCfg,
		provider:  provider,
		manager:   manager,
		chunkList: core.NewChunkList(manager),
		sysCurve:  buildSysCurve(simCfg.StepsPerIteration, simCfg.SysLoadPeakMb*1000*1000),
	}

	for i := 0; i < simCfg.NumTensors; i++ {
		tensorId := data.TensorId(fmt.Sprintf("param_%03d", i))
		slice, err := ts.chunkList.AppendSlice(ctx, tensorId, simCfg.TensorNumel)
		if err != nil {
			panic(kerror.Wrap(err, "SimSetupFailed", "cannot pack sim tensor", false).With("tensorId", string(tensorId)))
		}
		ts.slices = append(ts.slices, slice)
	}
	klogging.Info(ctx).With("numTensors", simCfg.NumTensors).With("chunks", ts.chunkList.Len()).With("stepsPerIter", simCfg.StepsPerIteration).Log("TrainSimCreated", "")

	manager.StartTraining(ctx, true)
	return ts
}

func (ts *TrainSim) Manager() *core.MemManager {
	return ts.manager
}

func (ts *TrainSim) ChunkList() *core.ChunkList {
	return ts.chunkList
}

func (ts *TrainSim) Aborted() bool {
	return ts.aborted
}

// buildSysCurve: triangular profile, 0 at iteration boundaries and peak in
// the middle, mimicking activation memory growing through forward and
// shrinking through backward.
func buildSysCurve(steps int, peakBytes int64) []int64 {
	curve := make([]int64, steps)
	half := steps / 2
	if half == 0 {
		curve[0] = peakBytes
		return curve
	}
	for k := 0; k < steps; k++ {
		dist := k
		if k > half {
			dist = steps - k
		}
		curve[k] = peakBytes * int64(dist) / int64(half)
	}
	return curve
}

// step runs one micro-step. A *Kerror panic out of the core means a
// bookkeeping or capacity invariant broke; the run aborts.
func (ts *TrainSim) step(ctx context.Context) {
	if ts.aborted {
		return
	}
	ke := kcommon.TryCatchRun(ctx, func() {
		ts.runStep(ctx)
	})
	if ke != nil {
		ts.aborted = true
		klogging.Error(ctx).WithError(ke).With("iteration", ts.iteration).With("step", ts.stepInIter).Log("TrainSimAborted", "training step failed")
	}
}

func (ts *TrainSim) runStep(ctx context.Context) {
	k := ts.stepInIter
	ts.provider.SetSystemLoad(data.DeviceAccelerator, ts.sysCurve[k])
	if ts.simCfg.HostSysLoadMb > 0 {
		// host-side non-chunk load is small and noisy, never the eviction driver
		hostLoad := kcommon.RandomlizeValueByRatio(ctx, ts.simCfg.HostSysLoadMb*1000*1000, 0.2)
		ts.provider.SetSystemLoad(data.DeviceHost, int64(hostLoad))
	}

	// touch this step's working set on the accelerator
	touched := make([]*data.TensorSlice, 0, ts.simCfg.WorkingSetSize)
	for i := 0; i < ts.simCfg.WorkingSetSize; i++ {
		slice := ts.slices[(k*ts.simCfg.WorkingSetSize+i)%len(ts.slices)]
		ts.chunkList.AccessSlice(ctx, slice, data.DeviceAccelerator)
		touched = append(touched, slice)
	}
	for _, slice := range touched {
		ts.chunkList.ReleaseSlice(ctx, slice)
	}

	ts.manager.Tick(ctx, ts.chunkList)

	ts.stepInIter++
	if ts.stepInIter == ts.simCfg.StepsPerIteration {
		ts.stepInIter = 0
		ts.iteration++
		if ts.manager.InWarmup() {
			ts.manager.ResetMetronome(ctx)
		}
		klogging.Info(ctx).With("iteration", ts.iteration).Log("IterationDone", "")
	}
}
