package core

import (
	"context"
	"sync"

	"github.com/quietroom/relay/internal/domain"
)

// SendQueue is the bounded outbound queue of one client handle. Many
// relay goroutines push; exactly one send goroutine pops. A push onto a
// full queue evicts the oldest pending packet instead of blocking, so a
// slow consumer sees recent data and never stalls the relay.
type SendQueue struct {
	mu      sync.Mutex
	buf     []domain.Packet
	head    int
	n       int
	dropped uint64
	closed  bool

	// notify wakes the single consumer; capacity 1 so pushes never block.
	notify chan struct{}
}

func NewSendQueue(capacity int) *SendQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &SendQueue{
		buf:    make([]domain.Packet, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push enqueues p, evicting the oldest packet when the queue is full.
// It reports whether an eviction happened. Pushing to a closed queue
// returns domain.ErrClientClosed.
func (q *SendQueue) Push(p domain.Packet) (evicted bool, err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, domain.ErrClientClosed
	}
	if q.n == len(q.buf) {
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		q.dropped++
		evicted = true
	}
	q.buf[(q.head+q.n)%len(q.buf)] = p
	q.n++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return evicted, nil
}

// Pop returns the oldest pending packet, blocking until one is available,
// the queue is closed and drained, or ctx is done. Packets queued before
// Close are still delivered, so a draining handle can flush.
func (q *SendQueue) Pop(ctx context.Context) (domain.Packet, error) {
	for {
		q.mu.Lock()
		if q.n > 0 {
			p := q.buf[q.head]
			q.buf[q.head] = domain.Packet{}
			q.head = (q.head + 1) % len(q.buf)
			q.n--
			q.mu.Unlock()
			return p, nil
		}
		if q.closed {
			q.mu.Unlock()
			return domain.Packet{}, domain.ErrClientClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.Packet{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Close rejects further pushes and wakes a blocked consumer. Idempotent.
func (q *SendQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Dropped returns how many packets were evicted by full-queue pushes.
func (q *SendQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
