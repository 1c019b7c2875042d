package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"story-engine/internal/models"
)

// MemoryLocker - блокировки сессий внутри одного процесса. Истёкшая блокировка считается свободной.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]memoryLease
	now  func() time.Time
	seq  uint64
}

type memoryLease struct {
	token   uint64
	expires time.Time
}

// NewMemoryLocker создаёт локер.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryLease), now: time.Now}
}

// Lock захватывает ключ или сразу возвращает ErrLockNotAcquired.
func (l *MemoryLocker) Lock(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if lease, ok := l.held[key]; ok && (lease.expires.IsZero() || now.Before(lease.expires)) {
		return nil, fmt.Errorf("%w: %s", models.ErrLockNotAcquired, key)
	}
	l.seq++
	lease := memoryLease{token: l.seq}
	if ttl > 0 {
		lease.expires = now.Add(ttl)
	}
	l.held[key] = lease

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.held[key]; ok && cur.token == lease.token {
			delete(l.held, key)
		}
		return nil
	}, nil
}
