package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/rvs-verify/internal/infra"
	"go.uber.org/zap"
)

// RedisWaiter ждет публикации ID в канале вместо опроса.
// Используется, когда ретранслятор хранит слот в Redis.
type RedisWaiter struct {
	rdb     *redis.Client
	slot    LivenessSource
	timeout time.Duration
	logger  *zap.Logger
}

func NewRedisWaiter(rdb *redis.Client, slot LivenessSource, timeout time.Duration, logger *zap.Logger) *RedisWaiter {
	if timeout <= 0 {
		timeout = DefaultLivenessTimeout
	}
	return &RedisWaiter{rdb: rdb, slot: slot, timeout: timeout, logger: logger}
}

func (w *RedisWaiter) Wait(ctx context.Context) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	found := make(chan string, 1)
	deliver := func(id string) {
		if id == "" {
			return
		}
		select {
		case found <- id:
		default:
		}
	}

	// Публикация могла случиться до подписки: при каждом коннекте сверяемся со слотом
	resync := func() error {
		id, ok, err := w.slot.Liveness(waitCtx)
		if err != nil {
			return err
		}
		if ok {
			deliver(id)
		}
		return nil
	}

	go listenResilient(waitCtx, w.rdb, w.logger, infra.RedisChanLivenessResult, resync, deliver)

	select {
	case id := <-found:
		return id, nil
	case <-waitCtx.Done():
		return "", waitError(ctx, waitCtx)
	}
}

// listenResilient держит подписку на канал, переподключаясь при обрыве.
func listenResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func() error, // Синхронизация при каждом коннекте
	onMessage func(payload string),
) {
	for {
		pubsub := rdb.Subscribe(ctx, channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			if !sleepCtx(ctx, 5*time.Second) {
				return
			}
			continue
		}

		if err := onReconnect(); err != nil {
			logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				onMessage(msg.Payload)
			}
		}

		pubsub.Close()
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
