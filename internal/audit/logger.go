package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xela07ax/rvs-verify/internal/domain"
	"github.com/xela07ax/rvs-verify/internal/retry"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryBase   = 100 * time.Millisecond
)

// ActionStore выдает короткоживущий дескриптор на одну попытку записи.
type ActionStore interface {
	Open(ctx context.Context) (ActionWriter, error)
}

type ActionWriter interface {
	Insert(ctx context.Context, actor, action string, details []byte) error
	Close(ctx context.Context) error
}

// Recorder — то, что нужно потребителям журнала аудита.
type Recorder interface {
	LogAction(ctx context.Context, actor, action string, details any) error
}

type identityChecker interface {
	Validate(ctx context.Context, actor string) bool
}

// Logger — синхронный журнал аудита с проверкой личности до записи.
// Либо запись сохранена и вернулся nil, либо вернулась ошибка.
type Logger struct {
	identity  identityChecker
	store     ActionStore
	logger    *zap.Logger
	attempts  uint
	backoff   func(uint) time.Duration
	transient func(error) bool
	observe   func(outcome string)
}

type Option func(*Logger)

func WithRetry(attempts uint, base time.Duration) Option {
	return func(l *Logger) {
		l.attempts = attempts
		l.backoff = retry.Linear(base)
	}
}

// WithBackoff подменяет расчет паузы (в тестах, для записи задержек).
func WithBackoff(fn func(uint) time.Duration) Option {
	return func(l *Logger) { l.backoff = fn }
}

// WithTransient задает классификатор повторяемых ошибок хранилища.
func WithTransient(fn func(error) bool) Option {
	return func(l *Logger) { l.transient = fn }
}

// WithObserver получает исход каждой записи: ok, rejected, failed.
func WithObserver(fn func(outcome string)) Option {
	return func(l *Logger) { l.observe = fn }
}

func NewLogger(identity identityChecker, store ActionStore, logger *zap.Logger, opts ...Option) *Logger {
	l := &Logger{
		identity:  identity,
		store:     store,
		logger:    logger.With(zap.String("mod", "audit")),
		attempts:  DefaultMaxAttempts,
		backoff:   retry.Linear(DefaultRetryBase),
		transient: func(error) bool { return true },
		observe:   func(string) {},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LogAction записывает одно действие. Пустой актор пишется как SYSTEM.
func (l *Logger) LogAction(ctx context.Context, actor, action string, details any) error {
	if actor == "" {
		actor = domain.SystemActor
	}

	// 1. Проверка личности. Отказ не повторяем и ничего не пишем.
	if !l.identity.Validate(ctx, actor) {
		l.logger.Warn("audit rejected: unknown actor", zap.String("actor", actor), zap.String("action", action))
		l.observe("rejected")
		return &IdentityError{Actor: actor}
	}

	payload, err := encodeDetails(details)
	if err != nil {
		return fmt.Errorf("audit: encode details for %s: %w", action, err)
	}

	// 2. Запись. Каждая попытка со своим соединением.
	var made uint
	policy := retry.Policy{
		Attempts:  l.attempts,
		Backoff:   l.backoff,
		Retryable: l.transient,
		OnRetry: func(attempt uint, err error) {
			l.logger.Warn("audit write attempt failed",
				zap.Uint("attempt", attempt),
				zap.String("actor", actor),
				zap.String("action", action),
				zap.Error(err),
			)
		},
	}

	err = policy.Do(ctx, func(ctx context.Context) error {
		made++
		return l.insertOnce(ctx, actor, action, payload)
	})
	if err != nil {
		// 3. Исчерпание: только в диагностический лог, не в аудит
		l.logger.Error("audit write failed",
			zap.Uint("attempts", made),
			zap.String("actor", actor),
			zap.String("action", action),
			zap.Error(err),
		)
		l.observe("failed")
		return &StorageError{Attempts: made, Err: err}
	}
	l.observe("ok")
	return nil
}

func (l *Logger) insertOnce(ctx context.Context, actor, action string, payload []byte) (err error) {
	w, err := l.store.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(ctx); cerr != nil {
			l.logger.Debug("audit connection close failed", zap.Error(cerr))
		}
	}()
	return w.Insert(ctx, actor, action, payload)
}

func encodeDetails(details any) ([]byte, error) {
	switch d := details.(type) {
	case nil:
		return []byte("{}"), nil
	case json.RawMessage:
		return d, nil
	default:
		return json.Marshal(d)
	}
}
