package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"story-engine/internal/models"
)

// RedisCheckpointStore хранит чекпоинты в Redis. Запись идёт через WATCH/MULTI,
// поэтому два одновременных сохранения одной версии не перетрут друг друга.
type RedisCheckpointStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCheckpointStore создаёт хранилище. ttl == 0 - без срока жизни.
func NewRedisCheckpointStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCheckpointStore {
	return &RedisCheckpointStore{
		client: client,
		ttl:    ttl,
		logger: logger.Named("RedisCheckpointRepo"),
	}
}

func checkpointKey(sessionID string) string {
	return fmt.Sprintf("checkpoint:%s", sessionID)
}

// Load возвращает чекпоинт сессии.
func (r *RedisCheckpointStore) Load(ctx context.Context, sessionID string) (*models.SessionState, error) {
	raw, err := r.client.Get(ctx, checkpointKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("checkpoint %s: %w", sessionID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", sessionID, err)
	}
	var state models.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", sessionID, err)
	}
	return &state, nil
}

// Save сверяет версию под WATCH и пишет новое состояние в MULTI.
func (r *RedisCheckpointStore) Save(ctx context.Context, state *models.SessionState) error {
	key := checkpointKey(state.SessionID)
	expected := state.Version

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		stored, err := storedVersion(current)
		if err != nil {
			return err
		}
		if stored != expected {
			return fmt.Errorf("%w: session %s stored version %d, have %d",
				models.ErrCheckpointConflict, state.SessionID, stored, expected)
		}

		state.Version = expected + 1
		raw, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to encode checkpoint: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, r.ttl)
			return nil
		})
		return err
	}

	err := r.client.Watch(ctx, txf, key)
	if err != nil {
		state.Version = expected
		if errors.Is(err, redis.TxFailedErr) {
			r.logger.Warn("Checkpoint changed concurrently", zap.String("session_id", state.SessionID))
			return fmt.Errorf("%w: session %s changed during save", models.ErrCheckpointConflict, state.SessionID)
		}
		return fmt.Errorf("failed to save checkpoint %s: %w", state.SessionID, err)
	}
	return nil
}

// Delete удаляет чекпоинт.
func (r *RedisCheckpointStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, checkpointKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete checkpoint %s: %w", sessionID, err)
	}
	return nil
}
