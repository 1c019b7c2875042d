package namereg_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"story-engine/internal/models"
	"story-engine/internal/namereg"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAddUsedNames_CaseInsensitiveUpsert(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	reg := namereg.New(60, 30).WithClock(fixedClock(start))
	bible := &models.StoryBible{}

	reg.AddUsedNames(bible, []string{"Mara", " ", "Orin"}, []string{"Port Vell"}, 1)
	later := reg.WithClock(fixedClock(start.Add(48 * time.Hour)))
	later.AddUsedNames(bible, []string{"MARA"}, []string{"port vell"}, 3)

	require.Len(t, bible.UsedNames.Characters, 2)
	require.Len(t, bible.UsedNames.Places, 1)
	// Исходное написание сохраняется, время и поколение обновляются
	assert.Equal(t, "Mara", bible.UsedNames.Characters[0].Name)
	assert.Equal(t, 3, bible.UsedNames.Characters[0].GenerationNumber)
	assert.Equal(t, start.Add(48*time.Hour), bible.UsedNames.Characters[0].UsedAt)
	assert.Equal(t, 3, bible.UsedNames.Places[0].GenerationNumber)
}

func TestExcludedNames_RoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	reg := namereg.New(60, 30).WithClock(fixedClock(now))
	bible := &models.StoryBible{}

	reg.AddUsedNames(bible, []string{"Kestrel"}, []string{"Lowmarsh"}, 5)

	excluded := reg.ExcludedNames(bible, 5)
	assert.Equal(t, []string{"Kestrel"}, excluded.Characters)
	assert.Equal(t, []string{"Lowmarsh"}, excluded.Places)

	// 34 - 5 = 29 < 30: ещё исключено
	assert.Contains(t, reg.ExcludedNames(bible, 34).Characters, "Kestrel")
	// 35 - 5 = 30: устарело по поколениям
	excluded = reg.ExcludedNames(bible, 35)
	assert.Empty(t, excluded.Characters)
	assert.Empty(t, excluded.Places)
}

func TestIsExpired_EitherThreshold(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	reg := namereg.New(60, 30).WithClock(fixedClock(now))

	tests := []struct {
		name    string
		entry   models.UsedName
		gen     int
		expired bool
	}{
		{"fresh", models.UsedName{Name: "A", UsedAt: now.AddDate(0, 0, -1), GenerationNumber: 10}, 11, false},
		{"old by days only", models.UsedName{Name: "B", UsedAt: now.AddDate(0, 0, -60), GenerationNumber: 10}, 11, true},
		{"old by generations only", models.UsedName{Name: "C", UsedAt: now, GenerationNumber: 1}, 31, true},
		{"old by both", models.UsedName{Name: "D", UsedAt: now.AddDate(-1, 0, 0), GenerationNumber: 0}, 100, true},
		{"59 days", models.UsedName{Name: "E", UsedAt: now.AddDate(0, 0, -59), GenerationNumber: 10}, 10, false},
		{"zero timestamp uses generations", models.UsedName{Name: "F", GenerationNumber: 10}, 12, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expired, reg.IsExpired(tt.entry, tt.gen))
		})
	}
}

func TestCleanupExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	reg := namereg.New(60, 30).WithClock(fixedClock(now))
	bible := &models.StoryBible{UsedNames: models.UsedNames{
		Characters: []models.UsedName{
			{Name: "Old", UsedAt: now.AddDate(0, 0, -90), GenerationNumber: 40},
			{Name: "New", UsedAt: now, GenerationNumber: 40},
		},
		Places: []models.UsedName{
			{Name: "Ancient", UsedAt: now, GenerationNumber: 1},
		},
	}}

	removed := reg.CleanupExpired(bible, 41)
	assert.Equal(t, 2, removed)
	require.Len(t, bible.UsedNames.Characters, 1)
	assert.Equal(t, "New", bible.UsedNames.Characters[0].Name)
	assert.Empty(t, bible.UsedNames.Places)
}

func TestFormatExclusionPrompt(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, "", namereg.FormatExclusionPrompt(namereg.Excluded{}))
	})

	t.Run("both categories", func(t *testing.T) {
		got := namereg.FormatExclusionPrompt(namereg.Excluded{
			Characters: []string{"Mara", "Orin"},
			Places:     []string{"Lowmarsh"},
		})
		want := "Do NOT use these character names (recently used): Mara, Orin\n" +
			"Do NOT use these place names (recently used): Lowmarsh\n" +
			"Create fresh, unique names that feel different from these."
		assert.Equal(t, want, got)
	})

	t.Run("only places", func(t *testing.T) {
		got := namereg.FormatExclusionPrompt(namereg.Excluded{Places: []string{"Lowmarsh"}})
		assert.Equal(t, "Do NOT use these place names (recently used): Lowmarsh\n"+
			"Create fresh, unique names that feel different from these.", got)
	})

	t.Run("capped at 20", func(t *testing.T) {
		names := make([]string, 25)
		for i := range names {
			names[i] = string(rune('A'+i)) + "name"
		}
		got := namereg.FormatExclusionPrompt(namereg.Excluded{Characters: names})
		assert.Contains(t, got, "Tname")
		assert.NotContains(t, got, "Uname")
	})
}
