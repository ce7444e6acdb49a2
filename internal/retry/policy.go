// Package retry — единая политика повторов поверх avast/retry-go.
// Используется журналом аудита (линейный бэкофф, только transient-ошибки БД)
// и ретранслятором (фиксированная задержка, только сетевые ошибки).
package retry

import (
	"context"
	"time"

	retrygo "github.com/avast/retry-go/v5"
)

// Policy описывает ограниченный повтор операции.
type Policy struct {
	// Attempts — общее число попыток, включая первую. 0 трактуется как 1.
	Attempts uint
	// Backoff возвращает паузу после неудачной попытки номер attempt (с 1).
	Backoff func(attempt uint) time.Duration
	// Retryable решает, стоит ли повторять. nil: повторяем любую ошибку.
	Retryable func(err error) bool
	// OnRetry вызывается после каждой неудачной повторяемой попытки.
	OnRetry func(attempt uint, err error)
}

// Linear — задержка base × attempt: 100ms, 200ms, ...
func Linear(base time.Duration) func(uint) time.Duration {
	return func(attempt uint) time.Duration {
		return base * time.Duration(attempt)
	}
}

// Fixed — одинаковая задержка между попытками.
func Fixed(d time.Duration) func(uint) time.Duration {
	return func(uint) time.Duration {
		return d
	}
}

// Do выполняет fn до исчерпания попыток. Возвращает nil после первой успешной попытки
// либо последнюю наблюдаемую ошибку (неповторяемая ошибка возвращается сразу).
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = Fixed(0)
	}

	// Счетчик свой: не зависим от того, с какого n библиотека начинает отсчет
	var attempt uint

	opts := []retrygo.Option{
		retrygo.Context(ctx),
		retrygo.Attempts(attempts),
		retrygo.LastErrorOnly(true),
		retrygo.DelayType(func(_ uint, _ error, _ retrygo.DelayContext) time.Duration {
			return backoff(attempt)
		}),
		retrygo.RetryIf(func(err error) bool {
			if p.Retryable == nil {
				return true
			}
			return p.Retryable(err)
		}),
	}
	if p.OnRetry != nil {
		opts = append(opts, retrygo.OnRetry(func(_ uint, err error) {
			p.OnRetry(attempt, err)
		}))
	}

	return retrygo.New(opts...).Do(func() error {
		attempt++
		return fn(ctx)
	})
}
