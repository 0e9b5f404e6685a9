package queue_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/model"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/queue"
)

func TestQueue_FIFOOrder(t *testing.T) {
	q := queue.New(0)
	ids := []model.TaskID{"a", "b", "c"}
	for _, id := range ids {
		require.NoError(t, q.Enqueue(id))
	}

	for _, want := range ids {
		got, ok := q.Dequeue(time.Second)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	assert.True(t, q.IsEmpty())
}

func TestQueue_DequeueTimesOutWhenEmpty(t *testing.T) {
	q := queue.New(0)
	_, ok := q.Dequeue(20 * time.Millisecond)
	assert.False(t, ok)
}

func TestQueue_DequeueUnblocksOnEnqueue(t *testing.T) {
	q := queue.New(0)

	var got model.TaskID
	var ok bool
	done := make(chan struct{})
	go func() {
		got, ok = q.Dequeue(2 * time.Second)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue("task-1"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not unblock after enqueue")
	}
	assert.True(t, ok)
	assert.Equal(t, model.TaskID("task-1"), got)
}

func TestQueue_BoundedCapacity(t *testing.T) {
	q := queue.New(2)
	require.NoError(t, q.Enqueue("a"))
	require.NoError(t, q.Enqueue("b"))

	err := q.Enqueue("c")
	assert.ErrorIs(t, err, queue.ErrQueueFull)

	_, ok := q.Dequeue(time.Second)
	require.True(t, ok)
	assert.NoError(t, q.Enqueue("c"))
}

func TestQueue_Stats(t *testing.T) {
	q := queue.New(0)
	require.NoError(t, q.Enqueue("a"))
	require.NoError(t, q.Enqueue("b"))
	_, _ = q.Dequeue(time.Second)

	stats := q.GetStats()
	assert.Equal(t, int64(2), stats.Enqueued)
	assert.Equal(t, int64(1), stats.Dequeued)
	assert.Equal(t, int64(1), stats.CurrentSize)
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := queue.New(0)
	const n = 100

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = q.Enqueue(model.TaskID(string(rune(i))))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, q.Size())
}
