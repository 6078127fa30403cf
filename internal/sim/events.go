package sim

import (
	"bytes"
	"context"

	"github.com/xinkaiwang/chunkmgr/internal/core"
	"github.com/xinkaiwang/chunkmgr/internal/data"
)

// StepEvent runs one training micro-step.
type StepEvent struct{}

func NewStepEvent() *StepEvent {
	return &StepEvent{}
}

func (e *StepEvent) GetName() string {
	return "step"
}

func (e *StepEvent) Process(ctx context.Context, ts *TrainSim) {
	ts.step(ctx)
}

// DeviceUsage is one device's view in the usage snapshot.
type DeviceUsage struct {
	Device            string `json:"device"`
	TotalBytes        int64  `json:"total_bytes"`
	UsedBytes         int64  `json:"used_bytes"`
	ChunkUsedBytes    int64  `json:"chunk_used_bytes"`
	AvailableChunkMem int64  `json:"available_chunk_mem"`
	FreeChunkMem      int64  `json:"free_chunk_mem"`
}

// UsageSnapshot is the /api/usage payload.
type UsageSnapshot struct {
	Iteration  int           `json:"iteration"`
	Step       int           `json:"step"`
	TotalSteps int           `json:"total_steps"`
	InWarmup   bool          `json:"in_warmup"`
	Aborted    bool          `json:"aborted"`
	NumChunks  int           `json:"num_chunks"`
	ByState    map[string]int `json:"chunks_by_state"`
	Devices    []DeviceUsage `json:"devices"`
}

// QueryEvent collects a usage snapshot on the run loop thread.
type QueryEvent struct {
	RespChan chan *UsageSnapshot
}

func NewQueryEvent() *QueryEvent {
	return &QueryEvent{
		RespChan: make(chan *UsageSnapshot, 1),
	}
}

func (e *QueryEvent) GetName() string {
	return "query"
}

func (e *QueryEvent) Process(ctx context.Context, ts *TrainSim) {
	mgr := ts.manager
	snapshot := &UsageSnapshot{
		Iteration:  ts.iteration,
		Step:       ts.stepInIter,
		TotalSteps: mgr.Metronome().TotalSteps(),
		InWarmup:   mgr.InWarmup(),
		Aborted:    ts.aborted,
		NumChunks:  ts.chunkList.Len(),
		ByState:    map[string]int{},
	}
	ts.chunkList.VisitChunks(func(chunk *core.Chunk) {
		snapshot.ByState[chunk.State().String()]++
	})
	for _, dev := range data.AllDevices() {
		totalUsed, chunkUsed := mgr.Tracer().Sample(dev)
		snapshot.Devices = append(snapshot.Devices, DeviceUsage{
			Device:            dev.String(),
			TotalBytes:        ts.provider.TotalMemBytes(dev),
			UsedBytes:         totalUsed,
			ChunkUsedBytes:    chunkUsed,
			AvailableChunkMem: mgr.AvailableChunkMem(dev),
			FreeChunkMem:      mgr.FreeChunkMem(dev),
		})
	}
	e.RespChan <- snapshot
}

// DumpEvent renders the warm-up usage history as plain text.
type DumpEvent struct {
	RespChan chan string
}

func NewDumpEvent() *DumpEvent {
	return &DumpEvent{
		RespChan: make(chan string, 1),
	}
}

func (e *DumpEvent) GetName() string {
	return "dump"
}

func (e *DumpEvent) Process(ctx context.Context, ts *TrainSim) {
	var buf bytes.Buffer
	ts.manager.DumpUsage(&buf)
	e.RespChan <- buf.String()
}
