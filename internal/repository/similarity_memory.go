package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"story-engine/internal/consistency"
)

// MemorySimilarityIndex - индекс в памяти. Расстояние - 1 минус коэффициент Жаккара по словам.
type MemorySimilarityIndex struct {
	mu          sync.RWMutex
	collections map[string][]consistency.Passage
}

var _ consistency.SimilarityIndex = (*MemorySimilarityIndex)(nil)

// NewMemorySimilarityIndex создаёт пустой индекс.
func NewMemorySimilarityIndex() *MemorySimilarityIndex {
	return &MemorySimilarityIndex{collections: make(map[string][]consistency.Passage)}
}

// Upsert добавляет фрагменты или заменяет фрагменты с тем же ID.
func (m *MemorySimilarityIndex) Upsert(_ context.Context, collectionID string, passages []consistency.Passage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.collections[collectionID]
	for _, p := range passages {
		replaced := false
		for i := range existing {
			if existing[i].ID == p.ID {
				existing[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, p)
		}
	}
	m.collections[collectionID] = existing
	return nil
}

// Query возвращает до k ближайших фрагментов, у которых есть хоть одно общее слово с запросом.
func (m *MemorySimilarityIndex) Query(_ context.Context, collectionID, text string, k int, filter map[string]any) ([]consistency.Match, error) {
	if k <= 0 {
		k = consistency.DefaultResultsPerQuery
	}
	query := wordSet(text)

	m.mu.RLock()
	defer m.mu.RUnlock()
	matches := make([]consistency.Match, 0)
	for _, p := range m.collections[collectionID] {
		if !metadataContains(p.Metadata, filter) {
			continue
		}
		d := jaccardDistance(query, wordSet(p.Text))
		if d >= 1 {
			continue
		}
		matches = append(matches, consistency.Match{Document: p.Text, Metadata: p.Metadata, Distance: d})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// DeleteCollection удаляет коллекцию.
func (m *MemorySimilarityIndex) DeleteCollection(_ context.Context, collectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collectionID)
	return nil
}

// Len возвращает число фрагментов в коллекции.
func (m *MemorySimilarityIndex) Len(collectionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collectionID])
}

func wordSet(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func jaccardDistance(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 1
	}
	common := 0
	for w := range a {
		if _, ok := b[w]; ok {
			common++
		}
	}
	union := len(a) + len(b) - common
	return 1 - float64(common)/float64(union)
}

func metadataContains(meta, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
