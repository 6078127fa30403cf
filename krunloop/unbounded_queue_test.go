package krunloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUnboundedQueueOrdering(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewUnboundedQueue[*testResource](ctx)
	e1 := &incEvent{}
	e2 := &incEvent{}
	e3 := &incEvent{}
	q.Enqueue(e1)
	q.Enqueue(e2)
	q.Enqueue(e3)

	got := []IEvent[*testResource]{}
	for i := 0; i < 3; i++ {
		select {
		case item := <-q.GetOutputChan():
			got = append(got, item)
		case <-time.After(2 * time.Second):
			t.Fatal("timeout")
		}
	}
	assert.Same(t, e1, got[0])
	assert.Same(t, e2, got[1])
	assert.Same(t, e3, got[2])
	assert.Equal(t, int64(0), q.GetSize())
}

func TestUnboundedQueueEnqueueNeverBlocks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewUnboundedQueue[*testResource](ctx)
	// no consumer; many producers should still not block
	for i := 0; i < 1000; i++ {
		q.Enqueue(&incEvent{})
	}
	assert.Equal(t, int64(1000), q.GetSize())
}
