package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPollInterval    = 2 * time.Second
	DefaultLivenessTimeout = 2 * time.Minute
)

var ErrLivenessTimeout = errors.New("liveness check timed out")

// LivenessWaiter ждет ID liveness-сессии, пока браузер проходит проверку.
type LivenessWaiter interface {
	Wait(ctx context.Context) (string, error)
}

// LivenessSource — чтение слота без очистки.
type LivenessSource interface {
	Liveness(ctx context.Context) (string, bool, error)
}

// PollWaiter опрашивает GET /liveness_result с фиксированным интервалом.
type PollWaiter struct {
	src      LivenessSource
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

func NewPollWaiter(src LivenessSource, interval, timeout time.Duration, logger *zap.Logger) *PollWaiter {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultLivenessTimeout
	}
	return &PollWaiter{src: src, interval: interval, timeout: timeout, logger: logger}
}

func (w *PollWaiter) Wait(ctx context.Context) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return "", waitError(ctx, waitCtx)
		case <-ticker.C:
			id, ok, err := w.src.Liveness(waitCtx)
			if err != nil {
				// Ретранслятор мог еще не подняться, продолжаем опрос
				w.logger.Debug("liveness poll failed", zap.Error(err))
				continue
			}
			if ok {
				return id, nil
			}
		}
	}
}

// waitError отличает истечение потолка ожидания от отмены сессии.
func waitError(parent, waitCtx context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return ErrLivenessTimeout
	}
	return waitCtx.Err()
}
