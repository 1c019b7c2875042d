// Package consistency ищет в индексе прошлого повествования фрагменты,
// с которыми может спорить новый текст, и собирает из них отчёт о риске.
package consistency

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"story-engine/internal/models"
)

const (
	DefaultResultsPerQuery = 5
	DefaultMaxQueries      = 5

	maxExtractedQueries = 10
	maxReportHistory    = 15
)

// Check - один запрос пакетной проверки.
type Check struct {
	Kind      models.CheckKind
	Character string
	Action    string
	Location  string
	Query     string
}

// Checker выполняет проверки согласованности против SimilarityIndex.
type Checker struct {
	index           SimilarityIndex
	resultsPerQuery int
	logger          *zap.Logger
}

// NewChecker создаёт Checker. resultsPerQuery <= 0 заменяется на 5.
func NewChecker(index SimilarityIndex, resultsPerQuery int, logger *zap.Logger) *Checker {
	if resultsPerQuery <= 0 {
		resultsPerQuery = DefaultResultsPerQuery
	}
	return &Checker{
		index:           index,
		resultsPerQuery: resultsPerQuery,
		logger:          logger.Named("ConsistencyChecker"),
	}
}

// CheckCharacter ищет прошлые упоминания персонажа в связке с предполагаемым действием.
func (c *Checker) CheckCharacter(ctx context.Context, collectionID, name, action string) (models.CheckResult, error) {
	return c.run(ctx, collectionID, models.CheckCharacter, strings.TrimSpace(name+" "+action))
}

// CheckLocation ищет прошлые упоминания места, при наличии персонажа - его пребывания там.
func (c *Checker) CheckLocation(ctx context.Context, collectionID, location, character string) (models.CheckResult, error) {
	query := "location " + location
	if character != "" {
		query = character + " at " + location
	}
	return c.run(ctx, collectionID, models.CheckLocation, query)
}

// CheckPlotElement ищет прошлые упоминания предмета, события или факта.
func (c *Checker) CheckPlotElement(ctx context.Context, collectionID, element string) (models.CheckResult, error) {
	return c.run(ctx, collectionID, models.CheckPlot, element)
}

func (c *Checker) run(ctx context.Context, collectionID string, kind models.CheckKind, query string) (models.CheckResult, error) {
	result := models.CheckResult{
		Kind:            kind,
		Query:           query,
		RelevantHistory: []models.HistoryItem{},
		RiskLevel:       models.RiskNone,
	}
	matches, err := c.index.Query(ctx, collectionID, query, c.resultsPerQuery, nil)
	if err != nil {
		return result, fmt.Errorf("similarity query %q: %w", query, err)
	}
	for _, m := range matches {
		result.RelevantHistory = append(result.RelevantHistory, models.HistoryItem{
			Text:     m.Document,
			Chapter:  chapterFromMetadata(m.Metadata),
			Distance: m.Distance,
		})
	}
	// Автоматически риск не поднимается выше low.
	if len(result.RelevantHistory) > 0 {
		result.RiskLevel = models.RiskLow
	}
	return result, nil
}

// BatchCheck выполняет проверки по очереди. Ошибка запроса не прерывает пакет:
// такой результат возвращается пустым, а ошибка - в списке failed.
func (c *Checker) BatchCheck(ctx context.Context, collectionID string, checks []Check) (results []models.CheckResult, failed []error) {
	results = make([]models.CheckResult, 0, len(checks))
	for _, ch := range checks {
		var (
			res models.CheckResult
			err error
		)
		switch ch.Kind {
		case models.CheckCharacter:
			res, err = c.CheckCharacter(ctx, collectionID, ch.Character, ch.Action)
		case models.CheckLocation:
			res, err = c.CheckLocation(ctx, collectionID, ch.Location, ch.Character)
		default:
			res, err = c.CheckPlotElement(ctx, collectionID, ch.Query)
		}
		if err != nil {
			c.logger.Warn("Consistency query failed",
				zap.String("collection_id", collectionID),
				zap.String("query", res.Query),
				zap.Error(err))
			failed = append(failed, err)
		}
		results = append(results, res)
	}
	return results, failed
}

// ExtractQueries собирает кандидатов для проверки из плана в порядке плана:
// описание и ключевые элементы каждого бита, затем цель и напряжение главы. Не более 10.
func ExtractQueries(plan *models.BeatPlan) []string {
	if plan == nil {
		return nil
	}
	beatList := plan.ChapterBeats
	if len(beatList) == 0 {
		beatList = plan.Beats
	}
	queries := make([]string, 0, maxExtractedQueries)
	for _, b := range beatList {
		if b.Description != "" {
			queries = append(queries, b.Description)
		}
		for _, el := range b.KeyElements {
			if el != "" {
				queries = append(queries, el)
			}
		}
	}
	if plan.ChapterGoal != "" {
		queries = append(queries, plan.ChapterGoal)
	}
	if plan.ChapterTension != "" {
		queries = append(queries, plan.ChapterTension)
	}
	if len(queries) > maxExtractedQueries {
		queries = queries[:maxExtractedQueries]
	}
	return queries
}

// Report выполняет до maxQueries проверок сюжета по плану и агрегирует их.
func (c *Checker) Report(ctx context.Context, collectionID string, plan *models.BeatPlan, bible *models.StoryBible, maxQueries int) models.ConsistencyReport {
	if maxQueries <= 0 {
		maxQueries = DefaultMaxQueries
	}
	queries := ExtractQueries(plan)
	if len(queries) > maxQueries {
		queries = queries[:maxQueries]
	}
	checks := make([]Check, 0, len(queries))
	for _, q := range queries {
		checks = append(checks, Check{Kind: models.CheckPlot, Query: q})
	}

	results, failed := c.BatchCheck(ctx, collectionID, checks)
	report := Aggregate(results)
	for _, err := range failed {
		report.RiskFlags = append(report.RiskFlags, "index unavailable: "+err.Error())
	}
	report.Guidance = guidanceFromReport(report, bible)

	c.logger.Debug("Consistency report built",
		zap.String("collection_id", collectionID),
		zap.Int("total_checks", report.TotalChecks),
		zap.Int("relevant_history", len(report.RelevantHistory)),
		zap.String("overall_risk", string(report.OverallRisk)))
	return report
}

// Aggregate объединяет результаты: дедупликация по точному тексту (первый выигрывает),
// сортировка по главе от новых к старым, не более 15 фрагментов.
func Aggregate(results []models.CheckResult) models.ConsistencyReport {
	report := models.ConsistencyReport{
		Status:          "checked",
		ChecksPerformed: make([]string, 0, len(results)),
		RelevantHistory: []models.HistoryItem{},
		RiskFlags:       []string{},
		OverallRisk:     models.RiskNone,
		TotalChecks:     len(results),
	}
	seen := make(map[string]struct{})
	for _, r := range results {
		report.ChecksPerformed = append(report.ChecksPerformed, r.Query)
		report.OverallRisk = models.MaxRisk(report.OverallRisk, r.RiskLevel)
		for _, item := range r.RelevantHistory {
			if _, dup := seen[item.Text]; dup {
				continue
			}
			seen[item.Text] = struct{}{}
			report.RelevantHistory = append(report.RelevantHistory, item)
		}
	}
	sort.SliceStable(report.RelevantHistory, func(i, j int) bool {
		return report.RelevantHistory[i].Chapter > report.RelevantHistory[j].Chapter
	})
	if len(report.RelevantHistory) > maxReportHistory {
		report.RelevantHistory = report.RelevantHistory[:maxReportHistory]
	}
	return report
}

// IndexChapter разбивает текст на абзацы и добавляет их в коллекцию
// с метаданными {chapter_number, paragraph}. Возвращает число абзацев.
func (c *Checker) IndexChapter(ctx context.Context, collectionID string, chapter int, text string) (int, error) {
	paragraphs := SplitParagraphs(text)
	if len(paragraphs) == 0 {
		return 0, nil
	}
	passages := make([]Passage, 0, len(paragraphs))
	for i, p := range paragraphs {
		passages = append(passages, Passage{
			ID:   uuid.NewString(),
			Text: p,
			Metadata: map[string]any{
				MetaChapterNumber: chapter,
				MetaParagraph:     i,
			},
		})
	}
	if err := c.index.Upsert(ctx, collectionID, passages); err != nil {
		return 0, fmt.Errorf("index chapter %d: %w", chapter, err)
	}
	c.logger.Debug("Chapter indexed",
		zap.String("collection_id", collectionID),
		zap.Int("chapter", chapter),
		zap.Int("paragraphs", len(passages)))
	return len(passages), nil
}

// DropCollection удаляет все фрагменты коллекции.
func (c *Checker) DropCollection(ctx context.Context, collectionID string) error {
	return c.index.DeleteCollection(ctx, collectionID)
}

// SplitParagraphs делит текст по пустым строкам, пустые абзацы выбрасываются.
func SplitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(text, "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
