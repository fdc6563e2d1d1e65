package bus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue[int](2)
	require.NoError(t, q.TryPublish(1))
	require.NoError(t, q.TryPublish(2))
	assert.ErrorIs(t, q.TryPublish(3), ErrQueueFull)
	assert.Equal(t, 2, q.Len())
}

func TestQueueRunDrainsAfterClose(t *testing.T) {
	q := NewQueue[string](4)
	require.NoError(t, q.TryPublish("a"))
	require.NoError(t, q.TryPublish("b"))
	q.Close()
	assert.ErrorIs(t, q.TryPublish("c"), ErrQueueClosed)

	var got []string
	q.Run(context.Background(), func(s string) { got = append(got, s) })
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestQueueConcurrentPublishAndClose(t *testing.T) {
	q := NewQueue[int](8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			_ = q.TryPublish(v)
		}(i)
	}
	q.Close()
	wg.Wait()
	q.Run(t.Context(), func(int) {})
}
