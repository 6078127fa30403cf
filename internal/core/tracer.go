package core

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/xinkaiwang/chunkmgr/internal/data"
	"github.com/xinkaiwang/chunkmgr/internal/deviceprov"
	"github.com/xinkaiwang/chunkmgr/kerror"
	"github.com/xinkaiwang/chunkmgr/klogging"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// CheckedCounter is a never-negative byte counter. Going below zero means the
// accounting has already broken somewhere else, so Sub panics instead of
// clamping. Atomic so metrics gauges can read it from other goroutines.
type CheckedCounter struct {
	value int64
}

func (c *CheckedCounter) Add(bytes int64) {
	if bytes < 0 {
		panic(kerror.Create("NegativeAdd", "counter add with negative bytes").With("bytes", bytes))
	}
	atomic.AddInt64(&c.value, bytes)
}

func (c *CheckedCounter) Sub(bytes int64) {
	if bytes < 0 {
		panic(kerror.Create("NegativeSub", "counter sub with negative bytes").With("bytes", bytes))
	}
	newVal := atomic.AddInt64(&c.value, -bytes)
	if newVal < 0 {
		panic(kerror.Create("CounterUnderflow", "chunk byte counter went negative").
			With("bytes", bytes).
			With("newValue", newVal))
	}
}

func (c *CheckedCounter) Get() int64 {
	return atomic.LoadInt64(&c.value)
}

// usageHistory 是 warm-up 期间每个 step 的用量采样序列（单位 byte）
type usageHistory struct {
	totalUsed []int64
	chunkUsed []int64
	sysUsed   []int64 // totalUsed - chunkUsed
}

// UsageTracer does the per-device bookkeeping: how many bytes are occupied by
// chunk payloads right now, and (during warm-up) the per-step history of
// total / chunk / system usage. Pure bookkeeping, no eviction policy.
type UsageTracer struct {
	provider deviceprov.DeviceProvider
	counters [data.DeviceCount]CheckedCounter
	history  [data.DeviceCount]usageHistory
	frozen   bool
}

func NewUsageTracer(provider deviceprov.DeviceProvider) *UsageTracer {
	return &UsageTracer{
		provider: provider,
	}
}

// Add 登记 chunk 占用的字节数（payload 分配、梯度 buffer 等）
func (t *UsageTracer) Add(dev data.Device, bytes int64) {
	t.counters[dev].Add(bytes)
}

func (t *UsageTracer) Delete(dev data.Device, bytes int64) {
	t.counters[dev].Sub(bytes)
}

// ChunkUsed returns the chunk-attributed bytes currently on dev.
func (t *UsageTracer) ChunkUsed(dev data.Device) int64 {
	return t.counters[dev].Get()
}

// Sample takes a point-in-time measurement: actual device usage as reported by
// the provider, plus the tracer's own chunk counter.
func (t *UsageTracer) Sample(dev data.Device) (totalUsed int64, chunkUsed int64) {
	return t.provider.UsedMemBytes(dev), t.counters[dev].Get()
}

// AppendSample records one warm-up step into the history.
func (t *UsageTracer) AppendSample(ctx context.Context, dev data.Device) {
	if t.frozen {
		panic(kerror.Create("HistoryFrozen", "append sample after warm-up ended").With("device", dev.String()))
	}
	totalUsed, chunkUsed := t.Sample(dev)
	h := &t.history[dev]
	h.totalUsed = append(h.totalUsed, totalUsed)
	h.chunkUsed = append(h.chunkUsed, chunkUsed)
	h.sysUsed = append(h.sysUsed, totalUsed-chunkUsed)
}

// Freeze ends warm-up: the history becomes fixed-length and read-only. Logs a
// per-device summary of the system-usage profile.
func (t *UsageTracer) Freeze(ctx context.Context) {
	if t.frozen {
		panic(kerror.Create("AlreadyFrozen", "tracer history frozen twice"))
	}
	t.frozen = true
	for _, dev := range data.AllDevices() {
		sysUsed := t.history[dev].sysUsed
		if len(sysUsed) == 0 {
			klogging.Warning(ctx).With("device", dev.String()).Log("UsageHistoryEmpty", "no warm-up samples recorded")
			continue
		}
		values := make([]float64, len(sysUsed))
		for i, v := range sysUsed {
			values[i] = float64(v)
		}
		stddev := 0.0
		if len(values) > 1 {
			stddev = stat.StdDev(values, nil)
		}
		klogging.Info(ctx).
			With("device", dev.String()).
			With("steps", len(values)).
			With("sysUsedMeanMb", int64(stat.Mean(values, nil))/bytesPerMb).
			With("sysUsedMaxMb", int64(floats.Max(values))/bytesPerMb).
			With("sysUsedStddevMb", int64(stddev)/bytesPerMb).
			Log("UsageProfileFrozen", "warm-up profile captured")
	}
}

func (t *UsageTracer) Frozen() bool {
	return t.frozen
}

// Steps returns the warm-up history length.
func (t *UsageTracer) Steps() int {
	return len(t.history[data.DeviceAccelerator].sysUsed)
}

// SysUsedAt returns the recorded non-chunk usage of dev at the given warm-up
// step. Only valid after Freeze.
func (t *UsageTracer) SysUsedAt(dev data.Device, step int) int64 {
	if !t.frozen {
		panic(kerror.Create("HistoryNotFrozen", "sysUsedAt before warm-up ended").With("device", dev.String()))
	}
	sysUsed := t.history[dev].sysUsed
	if step < 0 || step >= len(sysUsed) {
		panic(kerror.Create("StepOutOfRange", "no history for step").
			With("device", dev.String()).
			With("step", step).
			With("steps", len(sysUsed)))
	}
	return sysUsed[step]
}

const bytesPerMb = 1000 * 1000

// DumpTo writes the historical usage sequences as plain text, one line per
// sequence, values in MB.
func (t *UsageTracer) DumpTo(w io.Writer) {
	for _, dev := range data.AllDevices() {
		h := &t.history[dev]
		dumpLine(w, dev.String()+" total_used_mb:", h.totalUsed)
		dumpLine(w, dev.String()+" chunk_used_mb:", h.chunkUsed)
		dumpLine(w, dev.String()+" sys_used_mb:", h.sysUsed)
	}
}

func dumpLine(w io.Writer, prefix string, values []int64) {
	fmt.Fprint(w, prefix)
	for _, v := range values {
		fmt.Fprintf(w, " %d", v/bytesPerMb)
	}
	fmt.Fprintln(w)
}
