package everify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xela07ax/rvs-verify/internal/retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ReliabilityConfig — настройки обвязки исходящих вызовов.
type ReliabilityConfig struct {
	Attempts    uint          // Попыток на сетевые сбои, включая первую
	RetryDelay  time.Duration // Фиксированная пауза между попытками
	CallTimeout time.Duration // Таймаут одной попытки
	RateLimit   float64       // Запросов в секунду
	RateBurst   int

	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration // Через сколько CB попробует "закрыться"
	CBMaxFailures uint32        // Подряд сетевых отказов до размыкания
}

func DefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		Attempts:      3,
		RetryDelay:    time.Second,
		CallTimeout:   10 * time.Second,
		RateLimit:     20,
		RateBurst:     5,
		CBMaxRequests: 3,
		CBInterval:    5 * time.Second,
		CBTimeout:     30 * time.Second,
		CBMaxFailures: 5,
	}
}

// Gauge — состояние предохранителя (0 замкнут, 1 разомкнут).
type Gauge interface {
	Set(float64)
}

// ReliabilityWrapper: лимитер -> предохранитель -> повторы с таймаутом на попытку.
// Повторяются только сетевые сбои; HTTP-ответы любых статусов отдаются как есть.
type ReliabilityWrapper struct {
	next    Transport
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cfg     ReliabilityConfig
	logger  *zap.Logger
}

func NewReliabilityWrapper(next Transport, cfg ReliabilityConfig, logger *zap.Logger, cbState Gauge) *ReliabilityWrapper {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "everify-upstream",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.CBMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if cbState != nil {
				if to == gobreaker.StateOpen {
					cbState.Set(1)
				} else {
					cbState.Set(0)
				}
			}
		},
	})

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &ReliabilityWrapper{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(limit, max(cfg.RateBurst, 1)),
		cfg:     cfg,
		logger:  logger.With(zap.String("mod", "everify-reliability")),
	}
}

func (w *ReliabilityWrapper) Post(ctx context.Context, path, token string, body []byte) (*Response, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	// 2. Circuit Breaker
	res, err := w.cb.Execute(func() (interface{}, error) {
		var out *Response

		policy := retry.Policy{
			Attempts: w.cfg.Attempts,
			Backoff:  retry.Fixed(w.cfg.RetryDelay),
			// Повторяем только сетевые сбои. Таймаут не повторяем: ответ клиенту 504 сразу
			Retryable: func(err error) bool { return !errors.Is(err, ErrUpstreamTimeout) && isNetworkError(err) },
			OnRetry: func(attempt uint, err error) {
				w.logger.Warn("upstream attempt failed",
					zap.String("path", path),
					zap.Uint("attempt", attempt),
					zap.Error(err),
				)
			},
		}

		err := policy.Do(ctx, func(ctx context.Context) error {
			tCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
			defer cancel()

			r, callErr := w.next.Post(tCtx, path, token, body)
			if callErr != nil {
				if isTimeout(callErr) && ctx.Err() == nil {
					return fmt.Errorf("%w: %s: %v", ErrUpstreamTimeout, path, callErr)
				}
				return callErr
			}
			out = r
			return nil
		})
		return out, err
	})

	if err != nil {
		switch {
		case errors.Is(err, ErrUpstreamTimeout):
			return nil, err
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			return nil, fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, path, err)
		}
	}
	return res.(*Response), nil
}

// isNetworkError: обрыв соединения, DNS, отказ в подключении, недочитанный ответ.
func isNetworkError(err error) bool {
	if errors.Is(err, ErrBadRequest) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var errno syscall.Errno
	return errors.As(err, &errno)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
