package audio

import (
	"context"
	"sync/atomic"
)

// DefaultQueueCapacity bounds the per-channel ingress queues. At 20 ms per
// frame this is 4 seconds of backlog.
const DefaultQueueCapacity = 200

// FrameQueue is a bounded FIFO of PCM frames. When full, Push evicts the
// oldest frame so the queue always keeps the most recent audio. Eviction is
// counted, never fatal.
type FrameQueue struct {
	frames  chan []byte
	dropped atomic.Int64
}

// NewFrameQueue creates a queue holding at most capacity frames.
// Non-positive capacities fall back to DefaultQueueCapacity.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &FrameQueue{frames: make(chan []byte, capacity)}
}

// Push appends a frame, evicting the oldest one first if the queue is full.
// It never blocks.
func (q *FrameQueue) Push(frame []byte) {
	for {
		select {
		case q.frames <- frame:
			return
		default:
		}
		select {
		case <-q.frames:
			q.dropped.Add(1)
		default:
		}
	}
}

// Pop removes and returns the oldest frame, blocking until one is available
// or ctx is done.
func (q *FrameQueue) Pop(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-q.frames:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the number of queued frames.
func (q *FrameQueue) Len() int { return len(q.frames) }

// Dropped reports how many frames have been evicted since creation.
func (q *FrameQueue) Dropped() int64 { return q.dropped.Load() }
