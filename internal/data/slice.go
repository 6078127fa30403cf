package data

import "strconv"

type ChunkId int32

type TensorId string

// TensorSlice is one named tensor's storage range inside a chunk.
// (ChunkId, Offset) is assigned exactly once, when the slice is accepted by a
// chunk, and never reused while the chunk is alive.
type TensorSlice struct {
	TensorId TensorId
	DType    DType // element dtype of the packed values; must equal PackingDType
	Numel    int64 // element count
	ChunkId  ChunkId
	Offset   int64 // element offset inside the chunk payload
}

func NewTensorSlice(tensorId TensorId, numel int64) *TensorSlice {
	return &TensorSlice{
		TensorId: tensorId,
		DType:    PackingDType,
		Numel:    numel,
		ChunkId:  -1, // not assigned yet
		Offset:   -1,
	}
}

// Assigned: slice has been placed into a chunk
func (ts *TensorSlice) Assigned() bool {
	return ts.ChunkId >= 0
}

func (ts *TensorSlice) String() string {
	return string(ts.TensorId) + "@" + strconv.Itoa(int(ts.ChunkId)) + ":" + strconv.FormatInt(ts.Offset, 10)
}
