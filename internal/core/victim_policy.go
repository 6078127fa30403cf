package core

import "sort"

// VictimPolicy orders eviction candidates. Candidates handed in are already
// filtered (resident on the deficit device, unpinned, not in compute); the
// policy only decides processing order.
type VictimPolicy interface {
	PolicyName() string
	OrderVictims(candidates []*Chunk) []*Chunk
}

// IdOrderPolicy evicts in ascending chunk id order. Chunk ids are assigned in
// packing order, so low ids hold the earliest-packed (typically
// earliest-layer) tensors. Default policy.
type IdOrderPolicy struct{}

func NewIdOrderPolicy() *IdOrderPolicy {
	return &IdOrderPolicy{}
}

func (p *IdOrderPolicy) PolicyName() string {
	return "id_order"
}

func (p *IdOrderPolicy) OrderVictims(candidates []*Chunk) []*Chunk {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].id < candidates[j].id
	})
	return candidates
}

// LargestFirstPolicy evicts the biggest resident payloads first, minimizing
// the number of device-to-device copies per MakeRoom call.
type LargestFirstPolicy struct{}

func NewLargestFirstPolicy() *LargestFirstPolicy {
	return &LargestFirstPolicy{}
}

func (p *LargestFirstPolicy) PolicyName() string {
	return "largest_first"
}

func (p *LargestFirstPolicy) OrderVictims(candidates []*Chunk) []*Chunk {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.PayloadSizeBytes() != b.PayloadSizeBytes() {
			return a.PayloadSizeBytes() > b.PayloadSizeBytes()
		}
		return a.id < b.id
	})
	return candidates
}
