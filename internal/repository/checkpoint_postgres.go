package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"story-engine/internal/models"
)

const (
	loadCheckpointQuery   = `SELECT state FROM session_checkpoints WHERE session_id = $1`
	insertCheckpointQuery = `
        INSERT INTO session_checkpoints (session_id, user_id, world_id, state, version, updated_at)
        VALUES ($1, $2, $3, $4, $5, NOW())
        ON CONFLICT (session_id) DO NOTHING
    `
	updateCheckpointQuery = `
        UPDATE session_checkpoints
        SET state = $2, version = $3, updated_at = NOW()
        WHERE session_id = $1 AND version = $4
    `
	deleteCheckpointQuery = `DELETE FROM session_checkpoints WHERE session_id = $1`
)

// PostgresCheckpointStore хранит чекпоинты в jsonb с оптимистичной блокировкой по версии.
type PostgresCheckpointStore struct {
	db     DBTX
	logger *zap.Logger
}

// NewPostgresCheckpointStore создаёт хранилище чекпоинтов.
func NewPostgresCheckpointStore(db DBTX, logger *zap.Logger) *PostgresCheckpointStore {
	return &PostgresCheckpointStore{
		db:     db,
		logger: logger.Named("CheckpointRepo"),
	}
}

// Load возвращает последний чекпоинт сессии.
func (r *PostgresCheckpointStore) Load(ctx context.Context, sessionID string) (*models.SessionState, error) {
	var raw []byte
	err := r.db.QueryRow(ctx, loadCheckpointQuery, sessionID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("checkpoint %s: %w", sessionID, models.ErrNotFound)
		}
		r.logger.Error("Error loading checkpoint", zap.String("session_id", sessionID), zap.Error(err))
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", sessionID, err)
	}
	var state models.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", sessionID, err)
	}
	return &state, nil
}

// Save вставляет первый чекпоинт или обновляет существующий, если версия совпала.
func (r *PostgresCheckpointStore) Save(ctx context.Context, state *models.SessionState) error {
	log := r.logger.With(zap.String("session_id", state.SessionID), zap.Int64("version", state.Version))

	expected := state.Version
	state.Version = expected + 1
	raw, err := json.Marshal(state)
	if err != nil {
		state.Version = expected
		return fmt.Errorf("failed to encode checkpoint %s: %w", state.SessionID, err)
	}

	var affected int64
	if expected == 0 {
		tag, execErr := r.db.Exec(ctx, insertCheckpointQuery, state.SessionID, state.UserID, state.WorldID, raw, state.Version)
		err, affected = execErr, tag.RowsAffected()
	} else {
		tag, execErr := r.db.Exec(ctx, updateCheckpointQuery, state.SessionID, raw, state.Version, expected)
		err, affected = execErr, tag.RowsAffected()
	}
	if err != nil {
		state.Version = expected
		log.Error("Error saving checkpoint", zap.Error(err))
		return fmt.Errorf("failed to save checkpoint %s: %w", state.SessionID, err)
	}
	if affected == 0 {
		state.Version = expected
		log.Warn("Checkpoint version conflict")
		return fmt.Errorf("%w: session %s expected version %d", models.ErrCheckpointConflict, state.SessionID, expected)
	}
	log.Debug("Checkpoint saved", zap.Int64("new_version", state.Version))
	return nil
}

// Delete удаляет чекпоинт сессии.
func (r *PostgresCheckpointStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := r.db.Exec(ctx, deleteCheckpointQuery, sessionID); err != nil {
		r.logger.Error("Error deleting checkpoint", zap.String("session_id", sessionID), zap.Error(err))
		return fmt.Errorf("failed to delete checkpoint %s: %w", sessionID, err)
	}
	return nil
}
