package journal

/*
Журнал ретранслятора: неблокирующая запись обращений к /query*, /liveness_result
и /store_verification в таблицу relay_journal.

- Запрос никогда не ждет БД: события уходят в буферизированный канал,
  при переполнении событие сбрасывается (load shedding) с записью в zap.
- Воркер пишет пачками: по накоплению BatchSize или по тикеру.
- Stop закрывает вход, воркер вычитывает остаток и делает финальный flush.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultBufferSize    = 10000
	DefaultBatchSize     = 100
	DefaultFlushInterval = 500 * time.Millisecond
)

// Storage определяет, куда физически сохраняется журнал.
type Storage interface {
	// WriteBatch сохраняет пачку записей за один раз
	WriteBatch(ctx context.Context, entries []Entry) error
}

// Gauge — заполненность буфера (prometheus.Gauge подходит).
type Gauge interface {
	Set(float64)
}

type Journal struct {
	ch            chan Entry
	repo          Storage
	logger        *zap.Logger
	batchSize     int
	flushInterval time.Duration
	fill          Gauge
	wg            sync.WaitGroup

	// mu: Record держит RLock на время отправки, Stop берет Lock перед close(ch)
	mu     sync.RWMutex
	closed bool
}

type Option func(*Journal)

func WithBatch(size int, interval time.Duration) Option {
	return func(j *Journal) {
		if size > 0 {
			j.batchSize = size
		}
		if interval > 0 {
			j.flushInterval = interval
		}
	}
}

func WithBufferGauge(g Gauge) Option {
	return func(j *Journal) { j.fill = g }
}

func New(repo Storage, bufferSize int, logger *zap.Logger, opts ...Option) *Journal {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	j := &Journal{
		ch:            make(chan Entry, bufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "journal")),
		batchSize:     DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop запирает вход и ждет, пока воркер всё допишет.
func (j *Journal) Stop() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	j.logger.Info("stopping journal: closing channel and flushing buffer...")
	close(j.ch)
	j.mu.Unlock()

	j.wg.Wait()
	j.logger.Info("journal stopped gracefully")
}

// Record ставит запись в очередь. Никогда не блокирует.
func (j *Journal) Record(e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.logger.Warn("journal entry dropped: journal is stopping", zap.String("id", e.ID))
		return
	}

	select {
	case j.ch <- e:
		if j.fill != nil {
			j.fill.Set(float64(len(j.ch)))
		}
	default:
		j.logger.Error("journal_buffer_overflow",
			zap.String("path", e.Path),
			zap.String("trace_id", e.TraceID),
		)
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]Entry, 0, j.batchSize)
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: контекст запроса к этому моменту уже закрыт
		if err := j.repo.WriteBatch(context.Background(), batch); err != nil {
			j.logger.Error("journal flush failed", zap.Int("size", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		if j.fill != nil {
			j.fill.Set(float64(len(j.ch)))
		}
	}

	for {
		select {
		case e, ok := <-j.ch:
			if !ok {
				// Канал закрыт в Stop: остаток уже вычитан, финальный сброс
				flush()
				j.logger.Info("journal worker finished")
				return
			}
			batch = append(batch, e)
			if len(batch) >= j.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
