package ingest

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/simrecord/internal/monitoring"
	"github.com/banshee-data/simrecord/internal/stream"
)

func TestNewQueue(t *testing.T) {
	t.Parallel()

	q, err := NewQueue(4)
	require.NoError(t, err)
	assert.Equal(t, 4, q.Cap())
	assert.Equal(t, 0, q.Len())

	_, err = NewQueue(0)
	assert.Error(t, err)
}

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()

	q, err := NewQueue(3)
	require.NoError(t, err)

	for i := int64(1); i <= 3; i++ {
		assert.True(t, q.Push(stream.Record{Stamp: i}))
	}
	for i := int64(1); i <= 3; i++ {
		rec, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, rec.Stamp)
	}

	_, ok := q.TryPop()
	assert.False(t, ok, "empty queue reports no work")
}

func TestQueue_DropNewestWhenFull(t *testing.T) {
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	q, err := NewQueue(2)
	require.NoError(t, err)

	var drops, accepts int
	q.OnDrop(func() { drops++ })
	q.OnAccept(func() { accepts++ })

	assert.True(t, q.Push(stream.Record{Stamp: 1}))
	assert.True(t, q.Push(stream.Record{Stamp: 2}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			q.Push(stream.Record{Stamp: int64(100 + i)})
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Push blocked on a full queue")
	}

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, uint64(500), q.Dropped())
	assert.Equal(t, uint64(2), q.Pushed())
	assert.Equal(t, 500, drops)
	assert.Equal(t, 2, accepts)

	// The oldest records survive.
	rec, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, int64(1), rec.Stamp)
}

func TestQueue_DropLoggingIsRateLimited(t *testing.T) {
	var mu sync.Mutex
	var lines int
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		lines++
		mu.Unlock()
	})
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	q, err := NewQueue(1)
	require.NoError(t, err)
	q.Push(stream.Record{})
	for i := 0; i < 250; i++ {
		q.Push(stream.Record{})
	}

	mu.Lock()
	defer mu.Unlock()
	// drops 1, 100 and 200
	assert.Equal(t, 3, lines)
}

func TestQueue_NeverExceedsCapacity(t *testing.T) {
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	const capacity = 8
	q, err := NewQueue(capacity)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			q.Push(stream.Record{Stamp: int64(i)})
			if n := q.Len(); n > capacity {
				t.Errorf("queue length %d exceeds capacity %d", n, capacity)
			}
		}
	}()
	var popped int
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			if _, ok := q.TryPop(); ok {
				popped++
			}
		}
	}()
	wg.Wait()

	for {
		if _, ok := q.TryPop(); !ok {
			break
		}
		popped++
	}
	assert.Equal(t, uint64(popped), q.Pushed())
	assert.Equal(t, uint64(2000), q.Pushed()+q.Dropped())
}
