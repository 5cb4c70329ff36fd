package mqtt5

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketIDs(t *testing.T) {
	ids := newPacketIDs()

	first, err := ids.acquire()
	require.NoError(t, err)
	second, err := ids.acquire()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), first)
	assert.Equal(t, uint16(2), second)
	assert.Equal(t, 2, ids.inUse())

	assert.True(t, ids.release(first))
	assert.False(t, ids.release(first))
	assert.Equal(t, 1, ids.inUse())

	t.Run("wraps and skips busy ids", func(t *testing.T) {
		ids := newPacketIDs()
		ids.next = 65535
		ids.used[1] = struct{}{}

		id, err := ids.acquire()
		require.NoError(t, err)
		assert.Equal(t, uint16(65535), id)

		id, err = ids.acquire()
		require.NoError(t, err)
		assert.Equal(t, uint16(2), id)
	})

	t.Run("exhausted", func(t *testing.T) {
		ids := newPacketIDs()
		for i := 0; i < maxUint16; i++ {
			_, err := ids.acquire()
			require.NoError(t, err)
		}
		_, err := ids.acquire()
		assert.ErrorIs(t, err, ErrNoPacketIDs)

		ids.release(400)
		id, err := ids.acquire()
		require.NoError(t, err)
		assert.Equal(t, uint16(400), id)
	})

	t.Run("concurrent acquire is unique", func(t *testing.T) {
		ids := newPacketIDs()
		var (
			mu   sync.Mutex
			seen = make(map[uint16]bool)
			wg   sync.WaitGroup
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					id, err := ids.acquire()
					if !assert.NoError(t, err) {
						return
					}
					mu.Lock()
					assert.False(t, seen[id], "duplicate id %d", id)
					seen[id] = true
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Len(t, seen, 800)
	})
}

func TestSendQuota(t *testing.T) {
	q := newSendQuota(2)
	ctx := context.Background()

	require.NoError(t, q.acquire(ctx))
	require.NoError(t, q.acquire(ctx))
	assert.Equal(t, 0, q.available())

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.acquire(short), context.DeadlineExceeded)

	q.release()
	assert.Equal(t, 1, q.available())
	require.NoError(t, q.acquire(ctx))

	q.release()
	q.release()
	q.release()
	assert.Equal(t, 2, q.available())

	assert.Equal(t, 65535, newSendQuota(0).available())
}
