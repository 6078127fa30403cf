package data

import "github.com/xinkaiwang/chunkmgr/kerror"

// Device is a closed enum over the two device classes a chunk payload can
// live on. There is deliberately no string-tagged dispatch: every switch over
// Device must be exhaustive and unknown values panic.
type Device int8

const (
	// DeviceAccelerator: fast, scarce memory (GPU or similar)
	DeviceAccelerator Device = iota
	// DeviceHost: larger, slower memory (CPU DRAM)
	DeviceHost

	DeviceCount = 2
)

func (d Device) String() string {
	switch d {
	case DeviceAccelerator:
		return "accelerator"
	case DeviceHost:
		return "host"
	default:
		panic(kerror.Create("UnknownDevice", "invalid device value").With("device", int8(d)))
	}
}

// Other returns the opposite device class. Eviction always moves payloads to
// the other device.
func (d Device) Other() Device {
	switch d {
	case DeviceAccelerator:
		return DeviceHost
	case DeviceHost:
		return DeviceAccelerator
	default:
		panic(kerror.Create("UnknownDevice", "invalid device value").With("device", int8(d)))
	}
}

// AllDevices: iteration order is fixed (accelerator first)
func AllDevices() [DeviceCount]Device {
	return [DeviceCount]Device{DeviceAccelerator, DeviceHost}
}
