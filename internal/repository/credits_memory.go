package repository

import (
	"context"
	"fmt"
	"sync"

	"story-engine/internal/models"
)

// MemoryCreditStore - счётчик кредитов в памяти. Новые пользователи получают initial кредитов.
type MemoryCreditStore struct {
	mu       sync.Mutex
	balances map[string]int
	initial  int
}

// NewMemoryCreditStore создаёт хранилище с начальным балансом для неизвестных пользователей.
func NewMemoryCreditStore(initial int) *MemoryCreditStore {
	return &MemoryCreditStore{balances: make(map[string]int), initial: initial}
}

// Set задаёт баланс пользователя.
func (s *MemoryCreditStore) Set(userID string, credits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = credits
}

func (s *MemoryCreditStore) balanceLocked(userID string) int {
	b, ok := s.balances[userID]
	if !ok {
		b = s.initial
		s.balances[userID] = b
	}
	return b
}

// Balance возвращает текущий баланс.
func (s *MemoryCreditStore) Balance(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(userID), nil
}

// Deduct списывает amount целиком или не списывает ничего.
func (s *MemoryCreditStore) Deduct(_ context.Context, userID string, amount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.balanceLocked(userID)
	if b < amount {
		return b, fmt.Errorf("%w: user %s has %d, needs %d", models.ErrInsufficientCredits, userID, b, amount)
	}
	s.balances[userID] = b - amount
	return b - amount, nil
}

// Refund возвращает кредиты.
func (s *MemoryCreditStore) Refund(_ context.Context, userID string, amount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.balanceLocked(userID) + amount
	s.balances[userID] = b
	return b, nil
}
