package beats

import (
	"sort"
	"strings"

	"story-engine/internal/models"
)

var genreAliases = map[string]string{
	"scifi":          "scifi",
	"sciencefiction": "scifi",
	"mystery":        "mystery",
	"detective":      "mystery",
	"noir":           "mystery",
	"romance":        "romance",
	"love":           "romance",
	"sitcom":         "sitcom",
	"comedy":         "sitcom",
}

// NormalizeGenre приводит жанр к ключу каталога. Неизвестный жанр считается scifi.
func NormalizeGenre(genre string) string {
	g := strings.ToLower(genre)
	g = strings.NewReplacer("-", "", "_", "", " ", "").Replace(g)
	if normalized, ok := genreAliases[g]; ok {
		return normalized
	}
	return "scifi"
}

// TemplateID строит ключ шаблона по жанру и тарифу.
func TemplateID(genre string, tier models.Tier) string {
	prefix := "free_"
	if tier == models.TierPremium {
		prefix = "premium_"
	}
	return prefix + NormalizeGenre(genre)
}

// Get возвращает копию шаблона по ключу.
func Get(id string) (models.BeatTemplate, bool) {
	t, ok := catalog[id]
	if !ok {
		return models.BeatTemplate{}, false
	}
	return cloneTemplate(t), true
}

// IDs возвращает отсортированные ключи каталога.
func IDs() []string {
	ids := make([]string, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AvailableGenres - жанры, доступные тарифу.
func AvailableGenres(tier models.Tier) []string {
	if tier == models.TierPremium {
		return []string{"scifi", "mystery", "romance", "sitcom"}
	}
	return []string{"scifi", "mystery", "romance"}
}

// Select выбирает шаблон для истории.
// Явный structureID из каталога имеет приоритет над жанром и тарифом.
// Неизвестная комбинация даёт free_scifi.
// targetWords > 0 пропорционально масштабирует цели битов.
func Select(genre string, tier models.Tier, structureID string, targetWords int) (models.BeatTemplate, string) {
	id := structureID
	if _, ok := catalog[id]; !ok {
		id = TemplateID(genre, tier)
	}
	if _, ok := catalog[id]; !ok {
		id = DefaultTemplateID
	}
	t, _ := Get(id)
	if targetWords > 0 && targetWords != t.TotalWords {
		t = Rescale(t, targetWords)
	}
	return t, id
}

// Rescale пересчитывает цели битов под новый общий объём.
// Округляются накопленные суммы, поэтому цели не отрицательны, а их сумма равна targetWords.
func Rescale(t models.BeatTemplate, targetWords int) models.BeatTemplate {
	out := cloneTemplate(t)
	base := t.SumWordTargets()
	if base == 0 || len(out.Beats) == 0 || targetWords <= 0 {
		return out
	}
	cumulative, assigned := 0, 0
	for i := range out.Beats {
		cumulative += t.Beats[i].WordTarget
		boundary := int(float64(cumulative)*float64(targetWords)/float64(base) + 0.5)
		if i == len(out.Beats)-1 {
			boundary = targetWords
		}
		out.Beats[i].WordTarget = boundary - assigned
		assigned = boundary
	}
	out.TotalWords = targetWords
	return out
}

func cloneTemplate(t models.BeatTemplate) models.BeatTemplate {
	out := t
	out.Beats = append([]models.BeatSpec(nil), t.Beats...)
	return out
}
