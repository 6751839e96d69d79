package containers

import (
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueFixed(t *testing.T) {
	rq := NewRingQueue[int](2)
	require.NoError(t, rq.Enqueue(1))
	require.NoError(t, rq.Enqueue(2))
	assert.ErrorIs(t, rq.Enqueue(3), ErrQueueFull)

	v, err := rq.Peek()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = rq.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	require.NoError(t, rq.Enqueue(3))

	v, _ = rq.Dequeue()
	assert.Equal(t, 2, v)
	v, _ = rq.Dequeue()
	assert.Equal(t, 3, v)

	_, err = rq.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestRingQueueGrowKeepsOrder(t *testing.T) {
	rq := NewGrowableRingQueue[int](2)
	// wrap the indices before growing
	require.NoError(t, rq.Enqueue(0))
	_, _ = rq.Dequeue()
	for i := 1; i <= 9; i++ {
		require.NoError(t, rq.Enqueue(i))
	}
	assert.Equal(t, 9, rq.Len())
	assert.GreaterOrEqual(t, rq.Cap(), 9)
	for i := 1; i <= 9; i++ {
		v, err := rq.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.True(t, rq.IsEmpty())
}

func TestUnboundedQueueFIFOPerProducer(t *testing.T) {
	q := NewUnboundedQueue[[2]int]()
	const producers, perProducer = 4, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				assert.NoError(t, q.Push([2]int{p, i}))
			}
		}(p)
	}

	go func() {
		wg.Wait()
		q.Close()
	}()

	last := map[int]int{}
	received := 0
	for {
		v, ok := q.Pop()
		if !ok {
			break
		}
		prev, seen := last[v[0]]
		if seen {
			assert.Equal(t, prev+1, v[1])
		}
		last[v[0]] = v[1]
		received++
	}
	assert.Equal(t, producers*perProducer, received)
	assert.ErrorIs(t, q.Push([2]int{}), ErrQueueClosed)
}

func TestUnboundedQueueTryPop(t *testing.T) {
	q := NewUnboundedQueue[string]()
	_, ok := q.TryPop()
	assert.False(t, ok)

	require.NoError(t, q.Push("a"))
	assert.Equal(t, 1, q.Len())
	v, ok := q.TryPop()
	assert.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestQueueErrorsMatchThroughWrapping(t *testing.T) {
	q := NewUnboundedQueue[int]()
	q.Close()
	err := errors.Wrap(q.Push(1), "sending frame")
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.NotErrorIs(t, err, ErrQueueFull)

	rq := NewRingQueue[int](1)
	_, err = rq.Dequeue()
	assert.ErrorIs(t, errors.Wrapf(err, "draining %d", 1), ErrQueueEmpty)
}
