// Package liveness — одноместное хранилище ID liveness-сессии.
// Браузер кладет ID после прохождения проверки, координатор его забирает.
package liveness

import (
	"context"
	"sync"
)

// Slot: Put перезаписывает, Get читает без очистки, Clear сообщает, было ли что чистить.
type Slot interface {
	Put(ctx context.Context, sessionID string) error
	Get(ctx context.Context) (string, bool, error)
	Clear(ctx context.Context) (bool, error)
}

// MemorySlot — слот в памяти процесса ретранслятора.
type MemorySlot struct {
	mu sync.Mutex
	id string
}

func NewMemorySlot() *MemorySlot {
	return &MemorySlot{}
}

func (s *MemorySlot) Put(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = sessionID
	return nil
}

func (s *MemorySlot) Get(context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.id != "", nil
}

func (s *MemorySlot) Clear(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	had := s.id != ""
	s.id = ""
	return had, nil
}
