package containers

import (
	"sync"

	"github.com/cockroachdb/errors"
)

var ErrQueueClosed = errors.New("queue is closed")

// UnboundedQueue is a multi producer FIFO that never blocks the sender.
// Receivers block in Pop until an element arrives or the queue is closed
// and drained.
type UnboundedQueue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  *RingQueue[T]
	closed bool
}

func NewUnboundedQueue[T any]() *UnboundedQueue[T] {
	q := &UnboundedQueue[T]{
		queue: NewGrowableRingQueue[T](16),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *UnboundedQueue[T]) Push(value T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	// growable queues never report full
	_ = q.queue.Enqueue(value)
	q.cond.Signal()
	return nil
}

// Pop waits for the next element. The boolean is false once the queue is
// closed and every element pushed before Close has been received.
func (q *UnboundedQueue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.queue.IsEmpty() && !q.closed {
		q.cond.Wait()
	}
	value, err := q.queue.Dequeue()
	if err != nil {
		return value, false
	}
	return value, true
}

// TryPop returns the next element without waiting.
func (q *UnboundedQueue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	value, err := q.queue.Dequeue()
	if err != nil {
		return value, false
	}
	return value, true
}

// Close rejects further pushes and wakes every waiting receiver.
func (q *UnboundedQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

func (q *UnboundedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queue.Len()
}
