package data

import "github.com/xinkaiwang/chunkmgr/kerror"

// DType is the element type of a chunk payload.
type DType int8

const (
	DTypeFloat32 DType = iota
	DTypeFloat16
)

// PackingDType: all tensor slices are packed in float32 elements, regardless
// of the storage dtype of the chunk that holds them (mixed-precision packing).
const PackingDType = DTypeFloat32

func (dt DType) String() string {
	switch dt {
	case DTypeFloat32:
		return "float32"
	case DTypeFloat16:
		return "float16"
	default:
		panic(kerror.Create("UnknownDType", "invalid dtype value").With("dtype", int8(dt)))
	}
}

// ByteSize returns bytes per element.
func (dt DType) ByteSize() int64 {
	switch dt {
	case DTypeFloat32:
		return 4
	case DTypeFloat16:
		return 2
	default:
		panic(kerror.Create("UnknownDType", "invalid dtype value").With("dtype", int8(dt)))
	}
}
