// Package namereg ведёт реестр использованных имён персонажей и мест,
// чтобы новые истории не повторяли недавние имена.
package namereg

import (
	"strings"
	"time"

	"story-engine/internal/models"
)

const (
	DefaultExpiryDays        = 60
	DefaultExpiryGenerations = 30

	maxNamesInPrompt = 20
)

// Excluded - имена, которые ещё нельзя использовать повторно.
type Excluded struct {
	Characters []string `json:"characters"`
	Places     []string `json:"places"`
}

// IsEmpty сообщает, пусты ли оба списка.
func (e Excluded) IsEmpty() bool {
	return len(e.Characters) == 0 && len(e.Places) == 0
}

// Registry применяет политику устаревания к UsedNames библии.
// Имя устаревает, если прошло не меньше ExpiryDays дней ИЛИ не меньше ExpiryGenerations генераций.
type Registry struct {
	ExpiryDays        int
	ExpiryGenerations int

	now func() time.Time
}

// New создаёт реестр. Непозитивные пороги заменяются значениями по умолчанию.
func New(expiryDays, expiryGenerations int) *Registry {
	if expiryDays <= 0 {
		expiryDays = DefaultExpiryDays
	}
	if expiryGenerations <= 0 {
		expiryGenerations = DefaultExpiryGenerations
	}
	return &Registry{
		ExpiryDays:        expiryDays,
		ExpiryGenerations: expiryGenerations,
		now:               time.Now,
	}
}

// WithClock подменяет источник времени (для тестов и пакетных пересчётов).
func (r *Registry) WithClock(now func() time.Time) *Registry {
	cp := *r
	cp.now = now
	return &cp
}

// AddUsedNames добавляет или обновляет имена в реестре библии.
// Сравнение регистронезависимое: повторное имя получает новые время и номер генерации.
func (r *Registry) AddUsedNames(bible *models.StoryBible, characters, places []string, generation int) {
	now := r.now().UTC()
	bible.UsedNames.Characters = upsert(bible.UsedNames.Characters, characters, now, generation)
	bible.UsedNames.Places = upsert(bible.UsedNames.Places, places, now, generation)
}

func upsert(entries []models.UsedName, names []string, now time.Time, generation int) []models.UsedName {
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		found := false
		for i := range entries {
			if strings.EqualFold(entries[i].Name, name) {
				entries[i].UsedAt = now
				entries[i].GenerationNumber = generation
				found = true
				break
			}
		}
		if !found {
			entries = append(entries, models.UsedName{Name: name, UsedAt: now, GenerationNumber: generation})
		}
	}
	return entries
}

// IsExpired проверяет запись по обоим порогам.
func (r *Registry) IsExpired(entry models.UsedName, currentGeneration int) bool {
	if !entry.UsedAt.IsZero() {
		days := int(r.now().Sub(entry.UsedAt).Hours() / 24)
		if days >= r.ExpiryDays {
			return true
		}
	}
	return currentGeneration-entry.GenerationNumber >= r.ExpiryGenerations
}

// ExcludedNames возвращает все неустаревшие имена по категориям в порядке реестра.
func (r *Registry) ExcludedNames(bible *models.StoryBible, currentGeneration int) Excluded {
	out := Excluded{Characters: []string{}, Places: []string{}}
	for _, e := range bible.UsedNames.Characters {
		if e.Name != "" && !r.IsExpired(e, currentGeneration) {
			out.Characters = append(out.Characters, e.Name)
		}
	}
	for _, e := range bible.UsedNames.Places {
		if e.Name != "" && !r.IsExpired(e, currentGeneration) {
			out.Places = append(out.Places, e.Name)
		}
	}
	return out
}

// CleanupExpired удаляет устаревшие записи и возвращает число удалённых.
func (r *Registry) CleanupExpired(bible *models.StoryBible, currentGeneration int) int {
	removed := 0
	keep := func(entries []models.UsedName) []models.UsedName {
		kept := entries[:0]
		for _, e := range entries {
			if r.IsExpired(e, currentGeneration) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		return kept
	}
	bible.UsedNames.Characters = keep(bible.UsedNames.Characters)
	bible.UsedNames.Places = keep(bible.UsedNames.Places)
	return removed
}

// FormatExclusionPrompt формирует инструкцию для генератора.
// Не более 20 имён на категорию. Пустая строка, если исключать нечего.
func FormatExclusionPrompt(excluded Excluded) string {
	parts := make([]string, 0, 3)
	if len(excluded.Characters) > 0 {
		parts = append(parts, "Do NOT use these character names (recently used): "+
			strings.Join(firstN(excluded.Characters, maxNamesInPrompt), ", "))
	}
	if len(excluded.Places) > 0 {
		parts = append(parts, "Do NOT use these place names (recently used): "+
			strings.Join(firstN(excluded.Places, maxNamesInPrompt), ", "))
	}
	if len(parts) == 0 {
		return ""
	}
	parts = append(parts, "Create fresh, unique names that feel different from these.")
	return strings.Join(parts, "\n")
}

func firstN(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
