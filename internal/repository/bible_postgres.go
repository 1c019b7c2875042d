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
	createBibleQuery = `
        INSERT INTO story_bibles (id, user_id, data, version, updated_at)
        VALUES ($1, $2, $3, 1, NOW())
    `
	getBibleQuery       = `SELECT data, version, updated_at FROM story_bibles WHERE id = $1`
	getBibleForUpdQuery = `SELECT data, version, updated_at FROM story_bibles WHERE id = $1 FOR UPDATE`
	updateBibleQuery    = `
        UPDATE story_bibles SET data = $2, version = version + 1, updated_at = NOW()
        WHERE id = $1
        RETURNING version, updated_at
    `
)

// PostgresBibleStore хранит библии в jsonb. Update блокирует строку на время транзакции.
type PostgresBibleStore struct {
	db     DBTX
	tx     *TransactionHelper
	logger *zap.Logger
}

// NewPostgresBibleStore создаёт хранилище библий.
func NewPostgresBibleStore(db DBTX, tx *TransactionHelper, logger *zap.Logger) *PostgresBibleStore {
	return &PostgresBibleStore{
		db:     db,
		tx:     tx,
		logger: logger.Named("BibleRepo"),
	}
}

// Create сохраняет новую библию с версией 1.
func (r *PostgresBibleStore) Create(ctx context.Context, bible *models.StoryBible) error {
	bible.Version = 1
	data, err := json.Marshal(bible)
	if err != nil {
		return fmt.Errorf("failed to encode bible %s: %w", bible.ID, err)
	}
	if _, err := r.db.Exec(ctx, createBibleQuery, bible.ID, bible.UserID, data); err != nil {
		r.logger.Error("Error creating bible", zap.String("bible_id", bible.ID), zap.Error(err))
		return fmt.Errorf("failed to create bible %s: %w", bible.ID, err)
	}
	return nil
}

// Get возвращает библию по id.
func (r *PostgresBibleStore) Get(ctx context.Context, id string) (*models.StoryBible, error) {
	return scanBible(r.db.QueryRow(ctx, getBibleQuery, id), id)
}

// Update читает библию под FOR UPDATE, применяет fn и записывает результат в той же транзакции.
func (r *PostgresBibleStore) Update(ctx context.Context, id string, fn func(*models.StoryBible) error) (*models.StoryBible, error) {
	var updated *models.StoryBible
	err := r.tx.WithTransaction(ctx, func(ctx context.Context, tx DBTX) error {
		bible, err := scanBible(tx.QueryRow(ctx, getBibleForUpdQuery, id), id)
		if err != nil {
			return err
		}
		if err := fn(bible); err != nil {
			return err
		}
		bible.ID = id
		data, err := json.Marshal(bible)
		if err != nil {
			return fmt.Errorf("failed to encode bible %s: %w", id, err)
		}
		if err := tx.QueryRow(ctx, updateBibleQuery, id, data).Scan(&bible.Version, &bible.UpdatedAt); err != nil {
			return fmt.Errorf("failed to update bible %s: %w", id, err)
		}
		updated = bible
		return nil
	})
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			r.logger.Error("Error updating bible", zap.String("bible_id", id), zap.Error(err))
		}
		return nil, err
	}
	return updated, nil
}

func scanBible(row pgx.Row, id string) (*models.StoryBible, error) {
	var bible models.StoryBible
	var data []byte
	if err := row.Scan(&data, &bible.Version, &bible.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("bible %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load bible %s: %w", id, err)
	}
	version, updatedAt := bible.Version, bible.UpdatedAt
	if err := json.Unmarshal(data, &bible); err != nil {
		return nil, fmt.Errorf("failed to decode bible %s: %w", id, err)
	}
	bible.ID = id
	bible.Version, bible.UpdatedAt = version, updatedAt
	return &bible, nil
}
