package liveness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/rvs-verify/internal/infra"
)

// RedisSlot — слот в Redis: переживает рестарт ретранслятора и сразу
// оповещает подписчиков через Pub/Sub.
type RedisSlot struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisSlot: ttl ограничивает жизнь забытого ID (0 без срока).
func NewRedisSlot(rdb *redis.Client, ttl time.Duration) *RedisSlot {
	return &RedisSlot{rdb: rdb, ttl: ttl}
}

func (s *RedisSlot) Put(ctx context.Context, sessionID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, infra.RedisKeyLivenessSlot, sessionID, s.ttl)
	pipe.Publish(ctx, infra.RedisChanLivenessResult, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("liveness: redis put: %w", err)
	}
	return nil
}

func (s *RedisSlot) Get(ctx context.Context) (string, bool, error) {
	id, err := s.rdb.Get(ctx, infra.RedisKeyLivenessSlot).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("liveness: redis get: %w", err)
	}
	return id, id != "", nil
}

func (s *RedisSlot) Clear(ctx context.Context) (bool, error) {
	n, err := s.rdb.Del(ctx, infra.RedisKeyLivenessSlot).Result()
	if err != nil {
		return false, fmt.Errorf("liveness: redis clear: %w", err)
	}
	return n > 0, nil
}
