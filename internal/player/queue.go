// ABOUTME: Bounded FIFO of response audio chunks
// ABOUTME: Producer blocks while full; consumer polls with a timeout
package player

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrQueueClosed is returned by Push after Close, and by Pop once the
// queue is closed and empty
var ErrQueueClosed = errors.New("player: queue closed")

// DefaultQueueCapacity holds about 8 s of 16 kHz 16-bit audio in 512-byte chunks
const DefaultQueueCapacity = 512

// Queue is a bounded, closable FIFO of audio chunks.
// A nil entry marks the end of one response.
type Queue struct {
	mu       sync.Mutex
	items    [][]byte
	capacity int
	closed   bool
	// closed and replaced whenever items or closed change
	signal chan struct{}
}

// NewQueue creates a queue holding at most capacity chunks
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		capacity: capacity,
		signal:   make(chan struct{}),
	}
}

func (q *Queue) broadcast() {
	close(q.signal)
	q.signal = make(chan struct{})
}

// Push appends a copy of chunk, blocking while the queue is full.
// Empty chunks are ignored.
func (q *Queue) Push(ctx context.Context, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	return q.push(ctx, append([]byte(nil), chunk...))
}

// EndResponse marks the end of the current response
func (q *Queue) EndResponse(ctx context.Context) error {
	return q.push(ctx, nil)
}

func (q *Queue) push(ctx context.Context, item []byte) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if len(q.items) < q.capacity {
			q.items = append(q.items, item)
			q.broadcast()
			q.mu.Unlock()
			return nil
		}
		wait := q.signal
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// Pop removes the oldest chunk, waiting up to timeout for one to arrive.
// ok is false when the wait timed out. A nil chunk with ok set marks a
// response boundary. ErrQueueClosed is returned only when the queue is
// closed and empty.
func (q *Queue) Pop(timeout time.Duration) (chunk []byte, ok bool, err error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			chunk = q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.broadcast()
			q.mu.Unlock()
			return chunk, true, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false, ErrQueueClosed
		}
		wait := q.signal
		q.mu.Unlock()

		if expired == nil {
			return nil, false, nil
		}
		select {
		case <-expired:
			return nil, false, nil
		case <-wait:
		}
	}
}

// Close stops further pushes. Chunks already queued can still be popped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.broadcast()
	}
}

// Closed reports whether Close was called
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued entries
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain discards everything queued and returns how many entries were dropped
func (q *Queue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	if n > 0 {
		q.broadcast()
	}
	return n
}
