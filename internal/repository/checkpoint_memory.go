package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"story-engine/internal/models"
)

// MemoryCheckpointStore хранит чекпоинты в памяти процесса в сериализованном виде.
type MemoryCheckpointStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryCheckpointStore создаёт пустое хранилище.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{data: make(map[string][]byte)}
}

// Load возвращает копию сохранённого состояния.
func (s *MemoryCheckpointStore) Load(_ context.Context, sessionID string) (*models.SessionState, error) {
	s.mu.Lock()
	raw, ok := s.data[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("checkpoint %s: %w", sessionID, models.ErrNotFound)
	}
	var state models.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", sessionID, err)
	}
	return &state, nil
}

// Save записывает состояние с проверкой версии.
func (s *MemoryCheckpointStore) Save(_ context.Context, state *models.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := storedVersion(s.data[state.SessionID])
	if err != nil {
		return err
	}
	if stored != state.Version {
		return fmt.Errorf("%w: session %s stored version %d, have %d",
			models.ErrCheckpointConflict, state.SessionID, stored, state.Version)
	}

	state.Version++
	raw, err := json.Marshal(state)
	if err != nil {
		state.Version--
		return fmt.Errorf("encode checkpoint %s: %w", state.SessionID, err)
	}
	s.data[state.SessionID] = raw
	return nil
}

// Delete удаляет чекпоинт. Отсутствие чекпоинта не ошибка.
func (s *MemoryCheckpointStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

// Snapshot возвращает сохранённые байты чекпоинта как есть.
func (s *MemoryCheckpointStore) Snapshot(sessionID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[sessionID]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), raw...), true
}

// storedVersion читает версию из сериализованного состояния. Пустой чекпоинт - версия 0.
func storedVersion(raw []byte) (int64, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	var probe struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return 0, fmt.Errorf("decode stored checkpoint version: %w", err)
	}
	return probe.Version, nil
}
