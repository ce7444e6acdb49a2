package liveness

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkSlotSemantics(t *testing.T, s Slot) {
	t.Helper()
	ctx := context.Background()

	had, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.False(t, had)

	_, ok, err := s.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "first"))
	require.NoError(t, s.Put(ctx, "second"))

	// Чтение не очищает
	for i := 0; i < 2; i++ {
		id, ok, err := s.Get(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "second", id)
	}

	had, err = s.Clear(ctx)
	require.NoError(t, err)
	assert.True(t, had)

	_, ok, err = s.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemorySlot(t *testing.T) {
	checkSlotSemantics(t, NewMemorySlot())
}

// Интеграционный: нужен живой Redis в REDIS_ADDR.
func TestRedisSlot(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	checkSlotSemantics(t, NewRedisSlot(rdb, time.Minute))
}
