package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"story-engine/internal/models"
)

// releaseLockScript удаляет ключ, только если он всё ещё принадлежит владельцу токена.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker - распределённая блокировка сессий через SET NX PX.
type RedisLocker struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisLocker создаёт локер.
func NewRedisLocker(client *redis.Client, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{
		client: client,
		logger: logger.Named("RedisLocker"),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Lock захватывает ключ на ttl. Занятый ключ - ErrLockNotAcquired без ожидания.
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrLockNotAcquired, key)
	}
	l.logger.Debug("Lock acquired", zap.String("key", key), zap.Duration("ttl", ttl))

	return func(ctx context.Context) error {
		res, err := releaseLockScript.Run(ctx, l.client, []string{lockKey(key)}, token).Int()
		if err != nil {
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		if res == 0 {
			l.logger.Warn("Lock expired before release", zap.String("key", key))
		}
		return nil
	}, nil
}
