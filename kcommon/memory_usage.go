package kcommon

import "runtime"

var (
	mem = &runtime.MemStats{}
)

// GetHeapAlloc: bytes of allocated heap objects
func GetHeapAlloc() uint64 {
	runtime.ReadMemStats(mem)
	return mem.HeapAlloc
}

// GetHeapIdle: heap idle (unused)
func GetHeapIdle() uint64 {
	runtime.ReadMemStats(mem)
	return mem.HeapIdle
}

// GetSysMem: total bytes obtained from the OS
func GetSysMem() uint64 {
	runtime.ReadMemStats(mem)
	return mem.Sys
}
