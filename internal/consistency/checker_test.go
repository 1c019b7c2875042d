package consistency_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"story-engine/internal/consistency"
	"story-engine/internal/models"
)

// fakeIndex отвечает заранее заданными совпадениями по тексту запроса.
type fakeIndex struct {
	matches  map[string][]consistency.Match
	failing  map[string]bool
	queries  []string
	k        []int
	upserted map[string][]consistency.Passage
	dropped  []string
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		matches:  map[string][]consistency.Match{},
		failing:  map[string]bool{},
		upserted: map[string][]consistency.Passage{},
	}
}

func (f *fakeIndex) Upsert(_ context.Context, collectionID string, passages []consistency.Passage) error {
	f.upserted[collectionID] = append(f.upserted[collectionID], passages...)
	return nil
}

func (f *fakeIndex) Query(_ context.Context, _ string, text string, k int, _ map[string]any) ([]consistency.Match, error) {
	f.queries = append(f.queries, text)
	f.k = append(f.k, k)
	if f.failing[text] {
		return nil, errors.New("index down")
	}
	return f.matches[text], nil
}

func (f *fakeIndex) DeleteCollection(_ context.Context, collectionID string) error {
	f.dropped = append(f.dropped, collectionID)
	return nil
}

func match(text string, chapter int) consistency.Match {
	return consistency.Match{Document: text, Metadata: map[string]any{"chapter_number": chapter}, Distance: 0.2}
}

func TestCheckQueries(t *testing.T) {
	idx := newFakeIndex()
	c := consistency.NewChecker(idx, 0, zap.NewNop())
	ctx := context.Background()

	res, err := c.CheckCharacter(ctx, "s1", "Mara", "opens the vault")
	require.NoError(t, err)
	assert.Equal(t, "Mara opens the vault", res.Query)
	assert.Equal(t, models.RiskNone, res.RiskLevel)

	res, _ = c.CheckLocation(ctx, "s1", "the docks", "Mara")
	assert.Equal(t, "Mara at the docks", res.Query)
	res, _ = c.CheckLocation(ctx, "s1", "the docks", "")
	assert.Equal(t, "location the docks", res.Query)

	idx.matches["the key"] = []consistency.Match{match("She hid the key.", 2)}
	res, _ = c.CheckPlotElement(ctx, "s1", "the key")
	assert.Equal(t, models.RiskLow, res.RiskLevel)
	require.Len(t, res.RelevantHistory, 1)
	assert.Equal(t, 2, res.RelevantHistory[0].Chapter)
	assert.Equal(t, 0.2, res.RelevantHistory[0].Distance)

	for _, k := range idx.k {
		assert.Equal(t, 5, k)
	}
}

func TestExtractQueries(t *testing.T) {
	plan := &models.BeatPlan{
		ChapterBeats: []models.PlannedBeat{
			{Description: "d1", KeyElements: []string{"k1", "k2"}},
			{Description: "d2", KeyElements: []string{"k3"}},
		},
		ChapterGoal:    "goal",
		ChapterTension: "tension",
	}
	assert.Equal(t, []string{"d1", "k1", "k2", "d2", "k3", "goal", "tension"}, consistency.ExtractQueries(plan))

	long := &models.BeatPlan{}
	for i := 0; i < 8; i++ {
		long.Beats = append(long.Beats, models.PlannedBeat{Description: fmt.Sprintf("b%d", i), KeyElements: []string{fmt.Sprintf("e%d", i)}})
	}
	got := consistency.ExtractQueries(long)
	assert.Len(t, got, 10)
	assert.Equal(t, "b0", got[0])
	assert.Equal(t, "e4", got[9])
}

func TestReport_DedupSortAndRisk(t *testing.T) {
	idx := newFakeIndex()
	idx.matches["d1"] = []consistency.Match{match("The vault was sealed.", 1), match("Mara lost her map.", 3)}
	idx.matches["k1"] = []consistency.Match{match("The vault was sealed.", 1), match("Orin left town.", 5)}
	c := consistency.NewChecker(idx, 5, zap.NewNop())

	plan := &models.BeatPlan{ChapterBeats: []models.PlannedBeat{{Description: "d1", KeyElements: []string{"k1", "k2"}}}}
	report := c.Report(context.Background(), "s1", plan, &models.StoryBible{}, 5)

	assert.Equal(t, []string{"d1", "k1", "k2"}, report.ChecksPerformed)
	assert.Equal(t, 3, report.TotalChecks)
	assert.Equal(t, models.RiskLow, report.OverallRisk)
	require.Len(t, report.RelevantHistory, 3)
	assert.Equal(t, "Orin left town.", report.RelevantHistory[0].Text)
	assert.Equal(t, "Mara lost her map.", report.RelevantHistory[1].Text)
	assert.Equal(t, "The vault was sealed.", report.RelevantHistory[2].Text)
	assert.Empty(t, report.RiskFlags)
}

func TestReport_MaxQueriesTruncates(t *testing.T) {
	idx := newFakeIndex()
	c := consistency.NewChecker(idx, 5, zap.NewNop())
	plan := &models.BeatPlan{ChapterBeats: []models.PlannedBeat{{Description: "a", KeyElements: []string{"b", "c", "d"}}}}

	report := c.Report(context.Background(), "s1", plan, nil, 2)
	assert.Equal(t, []string{"a", "b"}, idx.queries)
	assert.Equal(t, models.RiskNone, report.OverallRisk)
}

func TestReport_IndexFailureIsFlagged(t *testing.T) {
	idx := newFakeIndex()
	idx.failing["a"] = true
	idx.matches["b"] = []consistency.Match{match("x", 1)}
	c := consistency.NewChecker(idx, 5, zap.NewNop())
	plan := &models.BeatPlan{ChapterBeats: []models.PlannedBeat{{Description: "a", KeyElements: []string{"b"}}}}

	report := c.Report(context.Background(), "s1", plan, nil, 5)
	assert.Equal(t, 2, report.TotalChecks)
	assert.Len(t, report.RiskFlags, 1)
	assert.Equal(t, models.RiskLow, report.OverallRisk)
}

func TestAggregate_CapsAt15(t *testing.T) {
	var results []models.CheckResult
	for i := 0; i < 4; i++ {
		r := models.CheckResult{Query: fmt.Sprintf("q%d", i), RiskLevel: models.RiskLow}
		for j := 0; j < 5; j++ {
			r.RelevantHistory = append(r.RelevantHistory, models.HistoryItem{Text: fmt.Sprintf("t%d-%d", i, j), Chapter: i*5 + j})
		}
		results = append(results, r)
	}
	report := consistency.Aggregate(results)
	require.Len(t, report.RelevantHistory, 15)
	assert.Equal(t, 19, report.RelevantHistory[0].Chapter)
	assert.Equal(t, 5, report.RelevantHistory[14].Chapter)
}

func TestAggregate_IdenticalTextDeduplicated(t *testing.T) {
	results := []models.CheckResult{
		{Query: "a", RiskLevel: models.RiskLow, RelevantHistory: []models.HistoryItem{{Text: "same", Chapter: 1, Distance: 0.1}}},
		{Query: "b", RiskLevel: models.RiskMedium, RelevantHistory: []models.HistoryItem{{Text: "same", Chapter: 9, Distance: 0.5}}},
	}
	report := consistency.Aggregate(results)
	require.Len(t, report.RelevantHistory, 1)
	assert.Equal(t, 1, report.RelevantHistory[0].Chapter)
	assert.Equal(t, models.RiskMedium, report.OverallRisk)
}

func TestIndexChapter(t *testing.T) {
	idx := newFakeIndex()
	c := consistency.NewChecker(idx, 5, zap.NewNop())

	n, err := c.IndexChapter(context.Background(), "s1", 3, "First paragraph.\n\n\n  \n\nSecond paragraph.\r\n\r\nThird.")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	passages := idx.upserted["s1"]
	require.Len(t, passages, 3)
	assert.Equal(t, "Second paragraph.", passages[1].Text)
	assert.Equal(t, 3, passages[1].Metadata["chapter_number"])
	assert.Equal(t, 1, passages[1].Metadata["paragraph"])
	assert.NotEqual(t, passages[0].ID, passages[1].ID)

	n, err = c.IndexChapter(context.Background(), "s1", 4, "   ")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, c.DropCollection(context.Background(), "s1"))
	assert.Equal(t, []string{"s1"}, idx.dropped)
}

func TestSimplifiedReport(t *testing.T) {
	bible := &models.StoryBible{Protagonist: models.Protagonist{Name: "Mara", DefiningCharacteristic: "cannot lie"}}
	report := consistency.SimplifiedReport(bible)
	assert.Equal(t, "clear", report.Status)
	assert.Equal(t, "Ensure Mara is portrayed consistently. CRITICAL: cannot lie", report.Guidance.GeneralGuidance)
	assert.Equal(t, []string{"cannot lie", "Character voice and personality", "Setting consistency"}, report.Guidance.EmphasisPoints)

	rendered := consistency.RenderGuidance(report.Guidance)
	assert.Contains(t, rendered, "## CONSISTENCY GUIDANCE")
	assert.Contains(t, rendered, "**Avoid**: Contradicting established character traits, Breaking world rules")
}
