package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestQueueFIFO hands out run IDs in submission order.
func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue(3)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(context.Background(), id))
	}
	require.Equal(t, 3, q.Len())
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

// TestQueueBlockingDequeue wakes a waiting consumer.
func TestQueueBlockingDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	got := make(chan string, 1)
	go func() {
		id, err := q.Dequeue(context.Background())
		if err == nil {
			got <- id
		}
	}()
	require.NoError(t, q.Enqueue(context.Background(), "run-1"))
	select {
	case id := <-got:
		require.Equal(t, "run-1", id)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return")
	}
}

// TestQueueCancellation surfaces context errors on both ends.
func TestQueueCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := NewQueue(1)
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, q.Enqueue(context.Background(), "primed"))
	err = q.Enqueue(ctx, "overflow")
	require.ErrorIs(t, err, context.Canceled)
}

// TestQueueClose drains queued runs and then reports ErrClosed.
func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), "left"))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(context.Background(), "late"), ErrClosed)
	id, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "left", id)
	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
