package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"story-engine/internal/models"
)

const (
	ensureUserCreditsQuery = `
        INSERT INTO user_credits (user_id, credits, created_at, updated_at)
        VALUES ($1, $2, NOW(), NOW())
        ON CONFLICT (user_id) DO NOTHING
    `
	getUserCreditsQuery = `SELECT user_id, credits, created_at, updated_at FROM user_credits WHERE user_id = $1`
	// Условие credits >= $2 делает списание атомарным: баланс никогда не уходит в минус.
	deductUserCreditsQuery = `
        UPDATE user_credits
        SET credits = credits - $2, updated_at = NOW()
        WHERE user_id = $1 AND credits >= $2
        RETURNING credits
    `
	refundUserCreditsQuery = `
        UPDATE user_credits
        SET credits = credits + $2, updated_at = NOW()
        WHERE user_id = $1
        RETURNING credits
    `
)

// UserCredits - строка таблицы user_credits.
type UserCredits struct {
	UserID    string    `db:"user_id"`
	Credits   int       `db:"credits"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// PostgresCreditStore ведёт баланс кредитов пользователей.
type PostgresCreditStore struct {
	db      DBTX
	initial int
	logger  *zap.Logger
}

// NewPostgresCreditStore создаёт хранилище. initial - баланс, который получает новый пользователь.
func NewPostgresCreditStore(db DBTX, initial int, logger *zap.Logger) *PostgresCreditStore {
	return &PostgresCreditStore{
		db:      db,
		initial: initial,
		logger:  logger.Named("CreditRepo"),
	}
}

// EnsureUser заводит пользователю счёт с начальным балансом, если его ещё нет.
func (r *PostgresCreditStore) EnsureUser(ctx context.Context, userID string) error {
	if _, err := r.db.Exec(ctx, ensureUserCreditsQuery, userID, r.initial); err != nil {
		r.logger.Error("Error creating user credits", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("failed to create credits for user %s: %w", userID, err)
	}
	return nil
}

// Get возвращает строку счёта пользователя.
func (r *PostgresCreditStore) Get(ctx context.Context, userID string) (*UserCredits, error) {
	var row UserCredits
	if err := pgxscan.Get(ctx, r.db, &row, getUserCreditsQuery, userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("credits for user %s: %w", userID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get credits for user %s: %w", userID, err)
	}
	return &row, nil
}

// Balance возвращает баланс, при необходимости заводя счёт.
func (r *PostgresCreditStore) Balance(ctx context.Context, userID string) (int, error) {
	if err := r.EnsureUser(ctx, userID); err != nil {
		return 0, err
	}
	row, err := r.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return row.Credits, nil
}

// Deduct атомарно списывает amount. При нехватке возвращает ErrInsufficientCredits и текущий баланс.
func (r *PostgresCreditStore) Deduct(ctx context.Context, userID string, amount int) (int, error) {
	if err := r.EnsureUser(ctx, userID); err != nil {
		return 0, err
	}
	var remaining int
	err := r.db.QueryRow(ctx, deductUserCreditsQuery, userID, amount).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.Error("Error deducting credits", zap.String("user_id", userID), zap.Int("amount", amount), zap.Error(err))
		return 0, fmt.Errorf("failed to deduct credits for user %s: %w", userID, err)
	}
	balance, balErr := r.Balance(ctx, userID)
	if balErr != nil {
		return 0, balErr
	}
	return balance, fmt.Errorf("%w: user %s has %d, needs %d", models.ErrInsufficientCredits, userID, balance, amount)
}

// Refund возвращает кредиты пользователю.
func (r *PostgresCreditStore) Refund(ctx context.Context, userID string, amount int) (int, error) {
	var credits int
	if err := r.db.QueryRow(ctx, refundUserCreditsQuery, userID, amount).Scan(&credits); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("credits for user %s: %w", userID, models.ErrNotFound)
		}
		r.logger.Error("Error refunding credits", zap.String("user_id", userID), zap.Int("amount", amount), zap.Error(err))
		return 0, fmt.Errorf("failed to refund credits for user %s: %w", userID, err)
	}
	return credits, nil
}
