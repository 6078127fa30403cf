package deviceprov

import (
	"context"
	"sync"

	"github.com/xinkaiwang/chunkmgr/internal/data"
	"github.com/xinkaiwang/chunkmgr/kcommon"
	"github.com/xinkaiwang/chunkmgr/kerror"
	"github.com/xinkaiwang/chunkmgr/klogging"
)

const (
	// 默认模拟设备大小：加速器 16GB，宿主 64GB
	DefaultSimAccelBytes = 16 * 1000 * 1000 * 1000
	DefaultSimHostBytes  = 64 * 1000 * 1000 * 1000
)

// SimProvider implements DeviceProvider. It backs both device classes with
// in-process arenas and lets callers shape a synthetic non-chunk ("system")
// load per device, so tests and the simulator can reproduce any usage curve.
type SimProvider struct {
	mu     sync.Mutex
	arenas [data.DeviceCount]*simArena
}

type simArena struct {
	totalBytes int64
	usedBytes  int64 // allocated through this provider
	sysBytes   int64 // synthetic non-chunk load, set by SetSystemLoad
}

func NewSimProvider(ctx context.Context, accelBytes, hostBytes int64) *SimProvider {
	p := &SimProvider{}
	p.arenas[data.DeviceAccelerator] = &simArena{totalBytes: accelBytes}
	p.arenas[data.DeviceHost] = &simArena{totalBytes: hostBytes}
	klogging.Info(ctx).With("accelBytes", accelBytes).With("hostBytes", hostBytes).Log("SimProviderCreated", "")
	return p
}

func (p *SimProvider) TotalMemBytes(dev data.Device) int64 {
	return p.arenas[dev].totalBytes
}

func (p *SimProvider) UsedMemBytes(dev data.Device) (used int64) {
	kcommon.RunWithLock(&p.mu, func() {
		arena := p.arenas[dev]
		used = arena.usedBytes + arena.sysBytes
	})
	return
}

// SetSystemLoad 设置该设备上非 chunk 占用的字节数（模拟算子激活、临时缓冲等）
func (p *SimProvider) SetSystemLoad(dev data.Device, bytes int64) {
	if bytes < 0 {
		panic(kerror.Create("InvalidSystemLoad", "system load cannot be negative").With("bytes", bytes))
	}
	kcommon.RunWithLock(&p.mu, func() {
		p.arenas[dev].sysBytes = bytes
	})
}

func (p *SimProvider) Allocate(ctx context.Context, dev data.Device, sizeBytes int64, pinned bool) Buffer {
	if sizeBytes <= 0 {
		panic(kerror.Create("InvalidAllocSize", "allocation size must be positive").With("sizeBytes", sizeBytes))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	arena := p.arenas[dev]
	if arena.usedBytes+arena.sysBytes+sizeBytes > arena.totalBytes {
		panic(kerror.Create("DeviceOutOfMemory", "sim arena exhausted").
			With("device", dev.String()).
			With("requestBytes", sizeBytes).
			With("usedBytes", arena.usedBytes).
			With("sysBytes", arena.sysBytes).
			With("totalBytes", arena.totalBytes))
	}
	arena.usedBytes += sizeBytes
	return &simBuffer{
		provider: p,
		dev:      dev,
		pinned:   pinned,
		storage:  make([]byte, sizeBytes), // zero-initialized
	}
}

// simBuffer implements Buffer
type simBuffer struct {
	provider *SimProvider
	dev      data.Device
	pinned   bool
	storage  []byte // nil after Free
}

func (b *simBuffer) Device() data.Device {
	return b.dev
}

func (b *simBuffer) SizeBytes() int64 {
	return int64(len(b.storage))
}

func (b *simBuffer) Pinned() bool {
	return b.pinned
}

func (b *simBuffer) Data() []byte {
	if b.storage == nil {
		panic(kerror.Create("UseAfterFree", "buffer already freed").With("device", b.dev.String()))
	}
	return b.storage
}

func (b *simBuffer) CopyFrom(src Buffer) {
	if int64(len(b.storage)) != src.SizeBytes() {
		panic(kerror.Create("BufferSizeMismatch", "copy between different sized buffers").
			With("dstBytes", len(b.storage)).
			With("srcBytes", src.SizeBytes()))
	}
	copy(b.storage, src.Data())
}

func (b *simBuffer) Free() {
	if b.storage == nil {
		panic(kerror.Create("DoubleFree", "buffer already freed").With("device", b.dev.String()))
	}
	size := int64(len(b.storage))
	b.provider.mu.Lock()
	b.provider.arenas[b.dev].usedBytes -= size
	b.provider.mu.Unlock()
	b.storage = nil
}
