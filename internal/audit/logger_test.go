package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var errConnReset = errors.New("connection reset by peer")

type staticIdentity map[string]bool

func (s staticIdentity) Validate(_ context.Context, actor string) bool {
	return actor == "SYSTEM" || s[actor]
}

type insertedRow struct {
	actor   string
	action  string
	details []byte
}

// fakeStore отдает ошибки из очереди failures по одной на попытку.
type fakeStore struct {
	mu       sync.Mutex
	failures []error
	openErr  error
	opened   int
	closed   int
	rows     []insertedRow
}

func (s *fakeStore) Open(context.Context) (ActionWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.opened++
	return &fakeWriter{store: s}, nil
}

func (s *fakeStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type fakeWriter struct {
	store *fakeStore
}

func (w *fakeWriter) Insert(_ context.Context, actor, action string, details []byte) error {
	s := w.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		if err != nil {
			return err
		}
	}
	s.rows = append(s.rows, insertedRow{actor: actor, action: action, details: details})
	return nil
}

func (w *fakeWriter) Close(context.Context) error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.closed++
	return nil
}

func newTestLogger(store ActionStore, delays *[]time.Duration, opts ...Option) *Logger {
	base := []Option{
		WithBackoff(func(attempt uint) time.Duration {
			d := time.Duration(attempt) * time.Millisecond
			if delays != nil {
				*delays = append(*delays, d)
			}
			return d
		}),
		WithTransient(func(err error) bool { return errors.Is(err, errConnReset) }),
	}
	return NewLogger(staticIdentity{"jdoe": true}, store, zap.NewNop(), append(base, opts...)...)
}

func TestLogAction_IdentityRejectedBeforeAnyWrite(t *testing.T) {
	store := &fakeStore{}
	l := newTestLogger(store, nil)

	err := l.LogAction(context.Background(), "ghost", "LOGIN", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIdentityRejected)
	var idErr *IdentityError
	require.ErrorAs(t, err, &idErr)
	assert.Equal(t, "ghost", idErr.Actor)
	assert.Zero(t, store.opened)
	assert.Zero(t, store.writes())
}

func TestLogAction_EmptyActorIsSystem(t *testing.T) {
	store := &fakeStore{}
	l := newTestLogger(store, nil)

	require.NoError(t, l.LogAction(context.Background(), "", "WINDOW_CLOSED", map[string]string{"window": "eVerifyForm"}))

	require.Len(t, store.rows, 1)
	assert.Equal(t, "SYSTEM", store.rows[0].actor)
	assert.JSONEq(t, `{"window":"eVerifyForm"}`, string(store.rows[0].details))
}

func TestLogAction_EventualSuccess(t *testing.T) {
	var delays []time.Duration
	store := &fakeStore{failures: []error{errConnReset, errConnReset}}
	l := newTestLogger(store, &delays)

	err := l.LogAction(context.Background(), "jdoe", "LOGIN", map[string]any{"ok": true})

	require.NoError(t, err)
	assert.Equal(t, 1, store.writes())
	assert.Equal(t, 3, store.opened)
	assert.Equal(t, store.opened, store.closed)
	require.Len(t, delays, 2)
	assert.LessOrEqual(t, delays[0], delays[1])
}

func TestLogAction_PersistentFailureExhaustsAttempts(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := &fakeStore{failures: []error{errConnReset, errConnReset, errConnReset, errConnReset}}
	l := NewLogger(staticIdentity{"jdoe": true}, store, zap.New(core),
		WithBackoff(func(uint) time.Duration { return time.Millisecond }),
		WithTransient(func(err error) bool { return errors.Is(err, errConnReset) }),
	)

	err := l.LogAction(context.Background(), "jdoe", "LOGIN", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageFailed)
	assert.ErrorIs(t, err, errConnReset)
	var stErr *StorageError
	require.ErrorAs(t, err, &stErr)
	assert.EqualValues(t, DefaultMaxAttempts, stErr.Attempts)

	assert.Equal(t, DefaultMaxAttempts, store.opened)
	assert.Equal(t, store.opened, store.closed)
	assert.Zero(t, store.writes())
	assert.Equal(t, 1, logs.FilterMessage("audit write failed").Len())
	assert.GreaterOrEqual(t, logs.FilterMessage("audit write attempt failed").Len(), 2)
}

func TestLogAction_PermanentErrorNotRetried(t *testing.T) {
	permanent := errors.New("null value in column \"action\"")
	store := &fakeStore{failures: []error{permanent}}
	l := newTestLogger(store, nil)

	err := l.LogAction(context.Background(), "jdoe", "", nil)

	assert.ErrorIs(t, err, ErrStorageFailed)
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, store.opened)
}

func TestLogAction_OpenFailureCountsAsAttempt(t *testing.T) {
	store := &fakeStore{openErr: errConnReset}
	l := newTestLogger(store, nil, WithRetry(2, time.Millisecond))

	err := l.LogAction(context.Background(), "jdoe", "LOGIN", nil)

	var stErr *StorageError
	require.ErrorAs(t, err, &stErr)
	assert.EqualValues(t, 2, stErr.Attempts)
}

func TestLogAction_DetailsSerialized(t *testing.T) {
	store := &fakeStore{}
	l := newTestLogger(store, nil)

	details := map[string]any{"first_name": "JUAN", "middle_name": nil}
	require.NoError(t, l.LogAction(context.Background(), "jdoe", ActionVerifyManualAttempt, details))

	var got map[string]any
	require.NoError(t, json.Unmarshal(store.rows[0].details, &got))
	assert.Equal(t, "JUAN", got["first_name"])
	assert.Nil(t, got["middle_name"])
	assert.Equal(t, ActionVerifyManualAttempt, store.rows[0].action)
}

func TestLogAction_ObserverSeesOutcomes(t *testing.T) {
	var outcomes []string
	store := &fakeStore{failures: []error{errConnReset, errConnReset, errConnReset}}
	l := newTestLogger(store, nil, WithObserver(func(o string) { outcomes = append(outcomes, o) }))

	_ = l.LogAction(context.Background(), "ghost", "LOGIN", nil)
	_ = l.LogAction(context.Background(), "jdoe", "LOGIN", nil)
	_ = l.LogAction(context.Background(), "jdoe", "LOGIN", nil)

	assert.Equal(t, []string{"rejected", "failed", "ok"}, outcomes)
}
