package workflow

import (
	"context"
	"time"

	"story-engine/internal/models"
)

// CheckpointStore - единственный источник истины о сессии между ходами.
// Save сверяет state.Version с сохранённой версией (ErrCheckpointConflict при расхождении),
// записывает состояние с версией +1 и обновляет state.Version.
type CheckpointStore interface {
	Load(ctx context.Context, sessionID string) (*models.SessionState, error)
	Save(ctx context.Context, state *models.SessionState) error
	Delete(ctx context.Context, sessionID string) error
}

// CreditStore - атомарный учёт кредитов пользователя.
// Deduct списывает всё или ничего: при нехватке возвращается ErrInsufficientCredits.
type CreditStore interface {
	Balance(ctx context.Context, userID string) (int, error)
	Deduct(ctx context.Context, userID string, amount int) (int, error)
	Refund(ctx context.Context, userID string, amount int) (int, error)
}

// Locker не даёт двум ходам одной сессии выполняться одновременно.
// Если ключ занят, Lock возвращает ErrLockNotAcquired без ожидания.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, err error)
}
