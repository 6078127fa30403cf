package deviceprov

import (
	"context"

	"github.com/xinkaiwang/chunkmgr/internal/data"
)

// Buffer 是一块已分配的设备内存（chunk payload 的物理载体）
type Buffer interface {
	// Device returns the device class this buffer lives on.
	Device() data.Device

	// SizeBytes returns the allocated size.
	SizeBytes() int64

	// Pinned: host buffers may be page-locked for faster transfer. This is a
	// performance hint, never a correctness requirement.
	Pinned() bool

	// Data exposes the raw bytes. For a real accelerator provider this is a
	// staging view; for the sim provider it is the storage itself.
	Data() []byte

	// CopyFrom copies the full content of src into this buffer. Blocking:
	// returns only when the transfer has completed.
	CopyFrom(src Buffer)

	// Free releases the memory back to the device. The buffer must not be
	// used afterwards.
	Free()
}

// DeviceProvider 定义物理内存操作的接口。真正的 CUDA allocator 在这里注入；
// 本仓库自带的 SimProvider 用宿主内存模拟两类设备。
type DeviceProvider interface {
	// TotalMemBytes: physical capacity of the device class
	TotalMemBytes(dev data.Device) int64

	// UsedMemBytes: point-in-time measurement of actual device memory usage
	// (chunk and non-chunk alike); this is the introspection facility the
	// usage tracer samples during warm-up.
	UsedMemBytes(dev data.Device) int64

	// Allocate a zero-initialized buffer. The caller is responsible for
	// having ensured room on the device; allocation failure panics.
	Allocate(ctx context.Context, dev data.Device, sizeBytes int64, pinned bool) Buffer
}

var (
	currentDeviceProvider DeviceProvider
)

func GetCurrentDeviceProvider(ctx context.Context) DeviceProvider {
	if currentDeviceProvider == nil {
		currentDeviceProvider = NewSimProvider(ctx, DefaultSimAccelBytes, DefaultSimHostBytes)
	}
	return currentDeviceProvider
}

func SetCurrentDeviceProvider(provider DeviceProvider) {
	currentDeviceProvider = provider
}

// RunWithDeviceProvider 在执行 fn 期间临时使用提供的 DeviceProvider，执行完成后恢复原来的 provider
func RunWithDeviceProvider(provider DeviceProvider, fn func()) {
	old := currentDeviceProvider
	currentDeviceProvider = provider
	defer func() {
		currentDeviceProvider = old
	}()
	fn()
}
