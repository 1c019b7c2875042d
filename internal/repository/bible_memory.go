package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"story-engine/internal/models"
)

// MemoryBibleStore хранит библии в памяти. Update выполняется под мьютексом хранилища.
type MemoryBibleStore struct {
	mu     sync.Mutex
	bibles map[string]models.StoryBible
	now    func() time.Time
}

// NewMemoryBibleStore создаёт пустое хранилище.
func NewMemoryBibleStore() *MemoryBibleStore {
	return &MemoryBibleStore{bibles: make(map[string]models.StoryBible), now: time.Now}
}

// Create сохраняет новую библию. Повторный id - ошибка.
func (s *MemoryBibleStore) Create(_ context.Context, bible *models.StoryBible) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bibles[bible.ID]; exists {
		return fmt.Errorf("bible %s already exists", bible.ID)
	}
	bible.Version = 1
	bible.UpdatedAt = s.now()
	s.bibles[bible.ID] = bible.Clone()
	return nil
}

// Get возвращает копию библии.
func (s *MemoryBibleStore) Get(_ context.Context, id string) (*models.StoryBible, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bibles[id]
	if !ok {
		return nil, fmt.Errorf("bible %s: %w", id, models.ErrNotFound)
	}
	out := b.Clone()
	return &out, nil
}

// Update применяет fn к копии библии и сохраняет результат, если fn не вернула ошибку.
func (s *MemoryBibleStore) Update(_ context.Context, id string, fn func(*models.StoryBible) error) (*models.StoryBible, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bibles[id]
	if !ok {
		return nil, fmt.Errorf("bible %s: %w", id, models.ErrNotFound)
	}
	work := b.Clone()
	if err := fn(&work); err != nil {
		return nil, err
	}
	work.ID = id
	work.Version = b.Version + 1
	work.UpdatedAt = s.now()
	s.bibles[id] = work.Clone()
	return &work, nil
}
