// Package pipeline собирает законченную одиночную историю за один вызов:
// шаблон битов, решение о клиффхэнгере и камео, план, проверка согласованности,
// проза и необязательные медиа.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"story-engine/internal/ai"
	"story-engine/internal/beats"
	"story-engine/internal/config"
	"story-engine/internal/consistency"
	"story-engine/internal/media"
	"story-engine/internal/models"
	"story-engine/internal/namereg"
	"story-engine/internal/utils"
)

// BibleStore - хранилище библий. Update сериализует писателей одной библии.
type BibleStore interface {
	Create(ctx context.Context, bible *models.StoryBible) error
	Get(ctx context.Context, id string) (*models.StoryBible, error)
	Update(ctx context.Context, id string, fn func(*models.StoryBible) error) (*models.StoryBible, error)
}

// Request - параметры одной истории.
type Request struct {
	BibleID string
	UserID  string
	Tier    models.Tier
	// Genre переопределяет жанр библии, если задан.
	Genre       string
	StructureID string
	// TargetWords 0 - длина из настроек библии.
	TargetWords int
	// ForceCliffhanger переопределяет расписание клиффхэнгеров.
	ForceCliffhanger *bool
	GenerateMedia    bool
}

// Story - готовая история.
type Story struct {
	Title         string      `json:"title"`
	Narrative     string      `json:"narrative"`
	WordCount     int         `json:"word_count"`
	Genre         string      `json:"genre"`
	Tier          models.Tier `json:"tier"`
	IsCliffhanger bool        `json:"is_cliffhanger"`
	CoverImageURL *string     `json:"cover_image_url"`
	AudioURL      *string     `json:"audio_url"`
	VideoURL      *string     `json:"video_url"`
}

// Metadata - сведения о том, как история была получена.
type Metadata struct {
	BeatPlan              *models.BeatPlan         `json:"beat_plan,omitempty"`
	PlotType              string                   `json:"plot_type,omitempty"`
	Summary               string                   `json:"summary,omitempty"`
	ConsistencyReport     models.ConsistencyReport `json:"consistency_report"`
	GenerationTimeSeconds float64                  `json:"generation_time_seconds"`
	TemplateUsed          string                   `json:"template_used,omitempty"`
	PlanFallback          bool                     `json:"plan_fallback"`
	Cameo                 string                   `json:"cameo,omitempty"`
	MediaErrors           []string                 `json:"media_errors,omitempty"`
}

// Result - конверт результата. При неудаче Story == nil, а Error содержит причину.
type Result struct {
	Success  bool     `json:"success"`
	Error    string   `json:"error,omitempty"`
	Story    *Story   `json:"story"`
	Metadata Metadata `json:"metadata"`
}

// Deps - коллабораторы конвейера. Всё, кроме Generator, необязательно.
type Deps struct {
	Generator ai.TextGenerator
	Images    media.ImageGenerator
	Audio     media.AudioGenerator
	Video     media.VideoGenerator
	Bibles    BibleStore
	// Checker включает полную проверку согласованности по прошлым историям библии.
	// Без него используется облегчённая проверка по протагонисту.
	Checker   *consistency.Checker
	Extractor namereg.Extractor
}

// Pipeline - конвейер одиночных историй.
type Pipeline struct {
	generator ai.TextGenerator
	images    media.ImageGenerator
	audio     media.AudioGenerator
	video     media.VideoGenerator
	bibles    BibleStore
	checker   *consistency.Checker
	extractor namereg.Extractor
	registry  *namereg.Registry

	gen        config.GenerationConfig
	maxQueries int

	rngMu sync.Mutex
	rng   *rand.Rand

	now    func() time.Time
	logger *zap.Logger
}

// New создаёт конвейер. CAMEO_SEED == 0 - генератор случайных чисел от текущего времени.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) (*Pipeline, error) {
	if deps.Generator == nil {
		return nil, fmt.Errorf("%w: text generator is required", models.ErrConfiguration)
	}
	if deps.Images == nil {
		deps.Images = media.Disabled{}
	}
	if deps.Audio == nil {
		deps.Audio = media.Disabled{}
	}
	if deps.Video == nil {
		deps.Video = media.Disabled{}
	}
	if deps.Extractor == nil {
		deps.Extractor = namereg.HeuristicExtractor{}
	}
	seed := cfg.CameoSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Pipeline{
		generator:  deps.Generator,
		images:     deps.Images,
		audio:      deps.Audio,
		video:      deps.Video,
		bibles:     deps.Bibles,
		checker:    deps.Checker,
		extractor:  deps.Extractor,
		registry:   namereg.New(cfg.Names.ExpiryDays, cfg.Names.ExpiryGenerations),
		gen:        cfg.Generation,
		maxQueries: cfg.ConsistencyMaxQueries,
		rng:        rand.New(rand.NewSource(seed)),
		now:        time.Now,
		logger:     logger.Named("StoryPipeline"),
	}, nil
}

// WithClock подменяет часы реестра имён и замер времени, для тестов.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	p.registry = p.registry.WithClock(now)
	return p
}

// BibleCollectionID - коллекция индекса с текстами историй библии.
func BibleCollectionID(bibleID string) string {
	return "bible_" + bibleID
}

// Run загружает библию, генерирует историю и при успехе записывает её в историю библии.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	if p.bibles == nil {
		return Result{}, fmt.Errorf("%w: bible store is required", models.ErrConfiguration)
	}
	bible, err := p.bibles.Get(ctx, req.BibleID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: bible %s not found", models.ErrConfiguration, req.BibleID)
		}
		return Result{}, fmt.Errorf("load bible %s: %w", req.BibleID, err)
	}

	result := p.Generate(ctx, bible, req)
	if !result.Success {
		return result, nil
	}
	if err := p.RecordStory(ctx, req.BibleID, result); err != nil {
		p.logger.Error("Failed to record story in bible history",
			zap.String("bible_id", req.BibleID), zap.Error(err))
		return result, err
	}
	return result, nil
}

// Generate выполняет конвейер над копией библии. Библия вызывающего не меняется.
// Неудача до завершения прозы даёт Result{Success: false}, медиа на успех не влияют.
func (p *Pipeline) Generate(ctx context.Context, source *models.StoryBible, req Request) Result {
	start := p.now()
	bible := source.Clone()
	log := p.logger.With(zap.String("bible_id", bible.ID), zap.String("user_id", req.UserID))

	fail := func(stage string, err error) Result {
		storiesTotal.WithLabelValues("error").Inc()
		log.Error("Story generation failed", zap.String("stage", stage), zap.Error(err))
		return Result{
			Success:  false,
			Error:    err.Error(),
			Metadata: Metadata{GenerationTimeSeconds: p.now().Sub(start).Seconds()},
		}
	}

	genre := req.Genre
	if genre == "" {
		genre = bible.Genre
	}
	bible.Genre = beats.NormalizeGenre(genre)
	targetWords := req.TargetWords
	if targetWords == 0 {
		targetWords = bible.StorySettings.WordTarget
	}
	tpl, templateID := beats.Select(bible.Genre, req.Tier, req.StructureID, targetWords)

	cliffhanger := beats.ShouldUseCliffhanger(bible.StoryHistory.TotalStories, req.Tier)
	if req.ForceCliffhanger != nil {
		cliffhanger = *req.ForceCliffhanger
	}
	cameo := p.pickCameo(&bible)

	log.Info("Generating standalone story",
		zap.String("template", templateID),
		zap.Int("total_words", tpl.TotalWords),
		zap.Bool("cliffhanger", cliffhanger),
		zap.Bool("cameo", cameo != nil))

	plan, fallback, err := p.planBeats(ctx, &bible, tpl, cliffhanger, cameo, req.UserID)
	if err != nil {
		return fail("planner", err)
	}

	report := p.checkConsistency(ctx, &bible, plan)

	stageStart := time.Now()
	narrative, err := p.writeProse(ctx, plan, &bible, tpl, report.Guidance, req.UserID)
	stageDuration.WithLabelValues("prose").Observe(time.Since(stageStart).Seconds())
	if err != nil {
		return fail("prose", err)
	}

	story := &Story{
		Title:         orDefault(plan.StoryTitle, "Untitled"),
		Narrative:     narrative,
		WordCount:     len(strings.Fields(narrative)),
		Genre:         bible.Genre,
		Tier:          req.Tier,
		IsCliffhanger: cliffhanger,
	}
	meta := Metadata{
		BeatPlan:          plan,
		PlotType:          orDefault(plan.PlotType, "unknown"),
		Summary:           fmt.Sprintf("%s: %s", story.Title, orDefault(plan.StoryPremise, "A story in this world")),
		ConsistencyReport: report,
		TemplateUsed:      tpl.Name,
		PlanFallback:      fallback,
	}
	if cameo != nil {
		meta.Cameo = cameo.Name
	}
	if req.GenerateMedia {
		meta.MediaErrors = p.generateMedia(ctx, story, plan, &bible, log)
	}
	meta.GenerationTimeSeconds = p.now().Sub(start).Seconds()

	storiesTotal.WithLabelValues("success").Inc()
	log.Info("Story generated",
		zap.String("title", story.Title),
		zap.Int("word_count", story.WordCount),
		zap.Int("target_words", tpl.TotalWords),
		zap.Int("media_errors", len(meta.MediaErrors)),
		zap.Float64("seconds", meta.GenerationTimeSeconds))
	return Result{Success: true, Story: story, Metadata: meta}
}

func (p *Pipeline) pickCameo(bible *models.StoryBible) *models.Cameo {
	if len(bible.CameoCharacters) == 0 {
		return nil
	}
	p.rngMu.Lock()
	idx := beats.PickCameo(bible.CameoCharacters, p.rng)
	p.rngMu.Unlock()
	if idx < 0 {
		return nil
	}
	c := bible.CameoCharacters[idx]
	return &c
}

// planBeats вызывает планировщик. Битый ответ заменяется планом из шаблона,
// сбой самого генератора прерывает конвейер.
func (p *Pipeline) planBeats(ctx context.Context, bible *models.StoryBible, tpl models.BeatTemplate, cliffhanger bool, cameo *models.Cameo, userID string) (*models.BeatPlan, bool, error) {
	generation := bible.StoryHistory.TotalStories + 1
	exclusion := namereg.FormatExclusionPrompt(p.registry.ExcludedNames(bible, generation))
	prompt := PlannerPrompt(bible, tpl, cliffhanger, cameo, exclusion)

	stageStart := time.Now()
	raw, _, err := p.generator.GenerateText(ctx, userID, prompt, "Plan the story now.",
		ai.Params(p.gen.PlannerTemperature, p.gen.PlannerMaxTokens, p.gen.PlannerTimeout))
	stageDuration.WithLabelValues("planner").Observe(time.Since(stageStart).Seconds())
	if err != nil {
		return nil, false, fmt.Errorf("beat planner: %w", err)
	}

	plan, err := ParsePlan(raw)
	if err != nil {
		plannerFallbacks.Inc()
		p.logger.Warn("Beat plan unparseable, using template skeleton",
			zap.String("raw_preview", utils.StringShort(raw, 300)), zap.Error(err))
		return FallbackPlan(tpl, bible), true, nil
	}
	if len(plan.Beats) == 0 {
		plan.Beats = skeletonBeats(tpl)
	}
	return plan, false, nil
}

// ParsePlan разбирает ответ планировщика.
func ParsePlan(raw string) (*models.BeatPlan, error) {
	candidate := utils.ExtractJSONObject(raw)
	if candidate == "" {
		return nil, fmt.Errorf("%w: no JSON object in plan", models.ErrParseFailure)
	}
	var plan models.BeatPlan
	if err := json.Unmarshal([]byte(candidate), &plan); err != nil {
		if err2 := json.Unmarshal([]byte(utils.EscapeControlChars(candidate)), &plan); err2 != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrParseFailure, err)
		}
	}
	return &plan, nil
}

// FallbackPlan - минимальный план из скелета шаблона.
func FallbackPlan(tpl models.BeatTemplate, bible *models.StoryBible) *models.BeatPlan {
	focus := "adventure"
	if len(bible.Themes) > 0 {
		focus = bible.Themes[0]
	}
	return &models.BeatPlan{
		StoryTitle:      "A Story",
		StoryPremise:    "A story in this world",
		PlotType:        "adventure",
		Protagonist:     bible.Protagonist.Name,
		Beats:           skeletonBeats(tpl),
		StoryQuestion:   "What happens?",
		EmotionalArc:    "Discovery and resolution",
		ThematicFocus:   focus,
		CharacterGrowth: "Protagonist learns something new",
		UniqueElement:   "To be discovered in the telling",
	}
}

func skeletonBeats(tpl models.BeatTemplate) []models.PlannedBeat {
	out := make([]models.PlannedBeat, 0, len(tpl.Beats))
	for _, b := range tpl.Beats {
		out = append(out, models.PlannedBeat{
			BeatNumber:  b.BeatNumber,
			BeatName:    b.BeatName,
			WordTarget:  b.WordTarget,
			Description: b.Description,
		})
	}
	return out
}

func (p *Pipeline) checkConsistency(ctx context.Context, bible *models.StoryBible, plan *models.BeatPlan) models.ConsistencyReport {
	stageStart := time.Now()
	defer func() {
		stageDuration.WithLabelValues("consistency").Observe(time.Since(stageStart).Seconds())
	}()
	if p.checker == nil || bible.StoryHistory.TotalStories == 0 {
		return consistency.SimplifiedReport(bible)
	}
	return p.checker.Report(ctx, BibleCollectionID(bible.ID), plan, bible, p.maxQueries)
}

func (p *Pipeline) writeProse(ctx context.Context, plan *models.BeatPlan, bible *models.StoryBible, tpl models.BeatTemplate, guidance models.ConsistencyGuidance, userID string) (string, error) {
	prompt := ProsePrompt(plan, bible, tpl, consistency.RenderGuidance(guidance))
	raw, _, err := p.generator.GenerateText(ctx, userID, prompt, "Write the story now.",
		ai.Params(p.gen.ProseTemperature, p.gen.ProseMaxTokens, p.gen.ProseTimeout))
	if err != nil {
		return "", fmt.Errorf("prose generator: %w", err)
	}
	narrative := CleanProse(raw)
	if narrative == "" {
		return "", fmt.Errorf("%w: prose generator returned no text", models.ErrGeneratorFailure)
	}
	return narrative, nil
}

// CleanProse снимает остатки разметки. Если в ответе несколько блоков ```,
// берётся самый длинный блок, который не является JSON, а без таких блоков - текст вне ограждений.
func CleanProse(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "```") {
		return raw
	}
	best := ""
	for _, block := range utils.FencedBlocks(raw) {
		body := strings.TrimSpace(block.Body)
		if block.Lang == "json" || strings.HasPrefix(body, "{") {
			continue
		}
		if len(body) > len(best) {
			best = body
		}
	}
	if best == "" {
		best = utils.OutsideFences(raw)
	}
	return best
}

// generateMedia - обложка, озвучка и, если оба удались, видео. Ошибки только записываются.
func (p *Pipeline) generateMedia(ctx context.Context, story *Story, plan *models.BeatPlan, bible *models.StoryBible, log *zap.Logger) []string {
	var failures []string
	reference := fmt.Sprintf("%s_story%d", bible.ID, bible.StoryHistory.TotalStories+1)

	if url, err := p.images.GenerateImage(ctx, media.ImageRequest{Prompt: ImagePrompt(plan, bible), Reference: reference}); err != nil {
		mediaFailures.WithLabelValues("image").Inc()
		log.Warn("Cover image failed", zap.Error(err))
		failures = append(failures, "image: "+err.Error())
	} else {
		story.CoverImageURL = &url
	}

	if url, err := p.audio.GenerateAudio(ctx, media.AudioRequest{Text: story.Narrative, Reference: reference}); err != nil {
		mediaFailures.WithLabelValues("audio").Inc()
		log.Warn("Narration failed", zap.Error(err))
		failures = append(failures, "audio: "+err.Error())
	} else {
		story.AudioURL = &url
	}

	if story.CoverImageURL == nil || story.AudioURL == nil {
		return failures
	}
	url, err := p.video.ComposeVideo(ctx, media.VideoRequest{
		ImageURL:  *story.CoverImageURL,
		AudioURL:  *story.AudioURL,
		Reference: reference,
	})
	if err != nil {
		mediaFailures.WithLabelValues("video").Inc()
		log.Warn("Video composition failed", zap.Error(err))
		return append(failures, "video: "+err.Error())
	}
	story.VideoURL = &url
	return failures
}
