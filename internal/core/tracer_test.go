package core

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xinkaiwang/chunkmgr/internal/data"
	"github.com/xinkaiwang/chunkmgr/internal/deviceprov"
)

func TestCheckedCounter(t *testing.T) {
	var counter CheckedCounter
	assert.Equal(t, int64(0), counter.Get())
	counter.Add(100)
	counter.Add(50)
	assert.Equal(t, int64(150), counter.Get())
	counter.Sub(150)
	assert.Equal(t, int64(0), counter.Get())

	assert.Panics(t, func() { counter.Sub(1) })
	assert.Panics(t, func() { counter.Add(-1) })
	assert.Panics(t, func() { counter.Sub(-1) })
}

func TestTracerAddDelete(t *testing.T) {
	ctx := context.Background()
	provider := deviceprov.NewSimProvider(ctx, 1000, 1000)
	tracer := NewUsageTracer(provider)

	tracer.Add(data.DeviceAccelerator, 300)
	tracer.Add(data.DeviceHost, 100)
	assert.Equal(t, int64(300), tracer.ChunkUsed(data.DeviceAccelerator))
	assert.Equal(t, int64(100), tracer.ChunkUsed(data.DeviceHost))

	tracer.Delete(data.DeviceAccelerator, 300)
	assert.Equal(t, int64(0), tracer.ChunkUsed(data.DeviceAccelerator))
	assert.Panics(t, func() { tracer.Delete(data.DeviceAccelerator, 1) })
}

func TestTracerSample(t *testing.T) {
	ctx := context.Background()
	provider := deviceprov.NewSimProvider(ctx, 1000, 1000)
	tracer := NewUsageTracer(provider)

	provider.SetSystemLoad(data.DeviceAccelerator, 400)
	buf := provider.Allocate(ctx, data.DeviceAccelerator, 100, false)
	tracer.Add(data.DeviceAccelerator, buf.SizeBytes())

	totalUsed, chunkUsed := tracer.Sample(data.DeviceAccelerator)
	assert.Equal(t, int64(500), totalUsed)
	assert.Equal(t, int64(100), chunkUsed)
}

func TestTracerHistoryFreeze(t *testing.T) {
	ctx := context.Background()
	provider := deviceprov.NewSimProvider(ctx, 1000, 1000)
	tracer := NewUsageTracer(provider)

	// three warm-up steps with varying system load
	for _, load := range []int64{100, 120, 90} {
		provider.SetSystemLoad(data.DeviceAccelerator, load)
		for _, dev := range data.AllDevices() {
			tracer.AppendSample(ctx, dev)
		}
	}
	assert.Equal(t, 3, tracer.Steps())
	assert.False(t, tracer.Frozen())

	// history is only readable once frozen
	assert.Panics(t, func() { tracer.SysUsedAt(data.DeviceAccelerator, 0) })

	tracer.Freeze(ctx)
	assert.True(t, tracer.Frozen())
	assert.Equal(t, int64(100), tracer.SysUsedAt(data.DeviceAccelerator, 0))
	assert.Equal(t, int64(120), tracer.SysUsedAt(data.DeviceAccelerator, 1))
	assert.Equal(t, int64(90), tracer.SysUsedAt(data.DeviceAccelerator, 2))
	assert.Equal(t, int64(0), tracer.SysUsedAt(data.DeviceHost, 1))

	assert.Panics(t, func() { tracer.SysUsedAt(data.DeviceAccelerator, 3) })
	assert.Panics(t, func() { tracer.AppendSample(ctx, data.DeviceAccelerator) })
	assert.Panics(t, func() { tracer.Freeze(ctx) })
}

func TestTracerDumpTo(t *testing.T) {
	ctx := context.Background()
	provider := deviceprov.NewSimProvider(ctx, 10*1000*1000*1000, 10*1000*1000*1000)
	tracer := NewUsageTracer(provider)

	provider.SetSystemLoad(data.DeviceAccelerator, 100*1000*1000)
	tracer.Add(data.DeviceAccelerator, 50*1000*1000)
	provider.Allocate(ctx, data.DeviceAccelerator, 50*1000*1000, false)
	for _, dev := range data.AllDevices() {
		tracer.AppendSample(ctx, dev)
	}

	var buf bytes.Buffer
	tracer.DumpTo(&buf)
	expected := "accelerator total_used_mb: 150\n" +
		"accelerator chunk_used_mb: 50\n" +
		"accelerator sys_used_mb: 100\n" +
		"host total_used_mb: 0\n" +
		"host chunk_used_mb: 0\n" +
		"host sys_used_mb: 0\n"
	assert.Equal(t, expected, buf.String())
}
