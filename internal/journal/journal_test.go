package journal

import (
	"context"
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

type memStorage struct {
	mu      sync.Mutex
	batches [][]Entry
	err     error
}

func (m *memStorage) WriteBatch(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]Entry(nil), entries...)
	m.batches = append(m.batches, cp)
	return m.err
}

func (m *memStorage) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestJournal_StopFlushesBuffer(t *testing.T) {
	repo := &memStorage{}
	j := New(repo, 100, zap.NewNop(), WithBatch(1000, time.Hour))
	j.Start()

	for i := 0; i < 42; i++ {
		j.Record(Entry{Path: "/query", Status: 200})
	}
	j.Stop()

	assert.Equal(t, 42, repo.total())
	for _, b := range repo.batches {
		for _, e := range b {
			assert.NotEmpty(t, e.ID)
			assert.False(t, e.Timestamp.IsZero())
		}
	}
}

func TestJournal_BatchesBySize(t *testing.T) {
	repo := &memStorage{}
	j := New(repo, 100, zap.NewNop(), WithBatch(10, time.Hour))
	j.Start()

	for i := 0; i < 25; i++ {
		j.Record(Entry{Path: "/query/qr"})
	}
	j.Stop()

	require.Equal(t, 25, repo.total())
	assert.Len(t, repo.batches[0], 10)
	assert.Len(t, repo.batches[1], 10)
}

func TestJournal_FlushesOnTicker(t *testing.T) {
	repo := &memStorage{}
	j := New(repo, 100, zap.NewNop(), WithBatch(100, 10*time.Millisecond))
	j.Start()
	defer j.Stop()

	j.Record(Entry{Path: "/liveness_result"})

	assert.Eventually(t, func() bool { return repo.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestJournal_OverflowDropsWithoutBlocking(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	repo := &memStorage{}
	// Воркер не запущен: буфер на 2 места
	j := New(repo, 2, zap.New(core))

	for i := 0; i < 5; i++ {
		j.Record(Entry{Path: "/query"})
	}

	assert.Equal(t, 3, logs.FilterMessage("journal_buffer_overflow").Len())
}

func TestJournal_RecordAfterStopIsDropped(t *testing.T) {
	repo := &memStorage{}
	j := New(repo, 10, zap.NewNop())
	j.Start()
	j.Stop()

	j.Record(Entry{Path: "/query"})
	j.Stop()

	assert.Zero(t, repo.total())
}

func TestJournal_FlushErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	repo := &memStorage{err: errors.New("db down")}
	j := New(repo, 10, zap.New(core))
	j.Start()

	j.Record(Entry{Path: "/query"})
	j.Stop()

	assert.Equal(t, 1, logs.FilterMessage("journal flush failed").Len())
}

func TestJournal_ConcurrentRecordDuringStop(t *testing.T) {
	repo := &memStorage{}
	j := New(repo, 64, zap.NewNop(), WithBatch(8, time.Millisecond))
	j.Start()

	start := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < 500; i++ {
				// После Stop запись отбрасывается, но не паникует на закрытом канале
				assert.NotPanics(t, func() { j.Record(Entry{Path: "/liveness_result", Status: 204}) })
			}
		}()
	}

	close(start)
	j.Stop()
	wg.Wait()

	assert.LessOrEqual(t, repo.total(), 8*500)
}
