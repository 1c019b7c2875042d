package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"story-engine/internal/ai"
	"story-engine/internal/beats"
	"story-engine/internal/config"
	"story-engine/internal/media"
	"story-engine/internal/models"
	"story-engine/internal/utils"
)

const (
	generatorFailureNarrative = "Something went wrong in the weaving of this tale. The world around her flickers for a moment, as if the story itself is catching its breath..."
)

func generatorFailureChoices() []models.Choice {
	return []models.Choice{
		{ID: 1, Text: "She took a deep breath and tried again, steadying herself as...", Tone: "cautious"},
		{ID: 2, Text: "She pushed forward anyway, determined not to let this stop her from...", Tone: "bold"},
		{ID: 3, Text: "She paused, taking a moment to gather her thoughts before...", Tone: "thoughtful"},
	}
}

// Turn - рабочий контекст одного хода. Шаги меняют State на месте.
type Turn struct {
	State     *models.SessionState
	World     *WorldTemplate
	Structure beats.Structure
	// Chapter - глава, в которой начался ход. Под этим номером индексируется текст.
	Chapter int
	// Failure - сбой генератора, уведший ход в handle_error.
	Failure error
	// Charged - сколько кредитов списано в хранилище за этот ход.
	Charged int
	Log     *zap.Logger
}

// Steps - шаги хода. Каждый шаг можно вызвать отдельно от движка.
type Steps struct {
	generator ai.TextGenerator
	images    media.ImageGenerator
	audio     media.AudioGenerator
	credits   CreditStore
	gen       config.GenerationConfig
	story     config.StoryConfig
	logger    *zap.Logger
}

// NewSteps собирает шаги. images, audio и credits могут быть nil.
func NewSteps(cfg *config.Config, generator ai.TextGenerator, images media.ImageGenerator, audio media.AudioGenerator, credits CreditStore, logger *zap.Logger) *Steps {
	if images == nil {
		images = media.Disabled{}
	}
	if audio == nil {
		audio = media.Disabled{}
	}
	return &Steps{
		generator: generator,
		images:    images,
		audio:     audio,
		credits:   credits,
		gen:       cfg.Generation,
		story:     cfg.Story,
		logger:    logger.Named("Steps"),
	}
}

// GenerateNarrative строит промпт и сохраняет сырой ответ генератора.
// Ошибка генератора записывается в State.Error и возвращается движку.
func (s *Steps) GenerateNarrative(ctx context.Context, t *Turn) error {
	st := t.State
	var systemPrompt, userInput string
	if isOpening(st) {
		systemPrompt, userInput = OpeningPrompt(t.World, st.TotalChapters)
		t.Log.Info("Generating opening narrative", zap.Int("beat", st.CurrentBeat))
	} else {
		systemPrompt, userInput = ContinuationPrompt(t.World, st, t.Structure.BeatInChapter(st.CurrentBeat))
		t.Log.Info("Generating continuation",
			zap.Int("beat", st.CurrentBeat),
			zap.Int("turn_in_beat", st.TurnsInBeat+1),
			zap.Int("summaries", len(st.StorySummary)))
	}

	raw, usage, err := s.generator.GenerateText(ctx, st.UserID, systemPrompt, userInput,
		ai.Params(s.gen.NarrativeTemperature, s.gen.NarrativeMaxTokens, s.gen.NarrativeTimeout))
	if err != nil {
		if !errors.Is(err, models.ErrGeneratorFailure) {
			err = fmt.Errorf("%w: %v", models.ErrGeneratorFailure, err)
		}
		st.SetError(err.Error())
		t.Failure = err
		return err
	}
	st.RawOutput = raw
	t.Log.Debug("Narrative generated",
		zap.Int("raw_length", len(raw)),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens))
	return nil
}

// ParseOutput разбирает сырой ответ. Ошибка разбора не прерывает ход.
func (s *Steps) ParseOutput(_ context.Context, t *Turn) error {
	st := t.State
	parsed := ParseGeneratorOutput(st.RawOutput)
	parseOutcomes.WithLabelValues(string(parsed.Outcome)).Inc()
	if parsed.Err != nil {
		t.Log.Warn("Generator output needed recovery",
			zap.String("outcome", string(parsed.Outcome)),
			zap.String("raw_preview", utils.StringShort(st.RawOutput, 300)),
			zap.Error(parsed.Err))
	}

	st.Narrative = parsed.Narrative
	st.Choices = parsed.Choices
	st.ImagePrompt = parsed.ImagePrompt
	st.BeatComplete = parsed.BeatComplete
	if len(parsed.BibleUpdate) > 0 {
		st.GeneratedBible = PruneBible(MergeBible(st.GeneratedBible, parsed.BibleUpdate))
	}
	st.Messages = append(st.Messages, models.Message{Role: models.RoleAssistant, Content: st.Narrative})
	st.ClearError()
	return nil
}

// GenerateSummary дописывает однострочное резюме хода в окно резюме.
// При сбое генератора берётся первое предложение текста.
func (s *Steps) GenerateSummary(ctx context.Context, t *Turn) error {
	st := t.State
	systemPrompt, userInput := SummaryPrompt(st.Narrative, st.LastChoiceContinuation)
	summary, _, err := s.generator.GenerateText(ctx, st.UserID, systemPrompt, userInput,
		ai.Params(s.gen.SummaryTemperature, s.gen.SummaryMaxTokens, s.gen.SummaryTimeout))
	summary = strings.TrimSpace(summary)
	if err != nil || summary == "" {
		t.Log.Warn("Summary generation failed, using first sentence", zap.Error(err))
		summary = FirstSentence(st.Narrative)
	}

	window := s.story.SummaryWindow
	if window <= 0 {
		window = 7
	}
	st.StorySummary = utils.LastN(append(st.StorySummary, summary), window)
	return nil
}

// GenerateImage - необязательный шаг. Сбой оставляет ImageURL пустым.
func (s *Steps) GenerateImage(ctx context.Context, t *Turn) error {
	st := t.State
	st.ImageURL = nil
	if st.ImagePrompt == "" {
		return nil
	}
	url, err := s.images.GenerateImage(ctx, media.ImageRequest{
		Prompt:    st.ImagePrompt,
		Reference: fmt.Sprintf("%s_beat%d", st.SessionID, st.CurrentBeat),
	})
	if err != nil {
		mediaFailures.WithLabelValues("image").Inc()
		t.Log.Warn("Image generation failed, continuing without image", zap.Error(err))
		return nil
	}
	st.ImageURL = &url
	return nil
}

// GenerateAudio - необязательный шаг. Сбой оставляет AudioURL пустым.
func (s *Steps) GenerateAudio(ctx context.Context, t *Turn) error {
	st := t.State
	st.AudioURL = nil
	if st.Narrative == "" {
		return nil
	}
	url, err := s.audio.GenerateAudio(ctx, media.AudioRequest{
		Text:      st.Narrative,
		Reference: fmt.Sprintf("%s_beat%d", st.SessionID, st.CurrentBeat),
	})
	if err != nil {
		mediaFailures.WithLabelValues("audio").Inc()
		t.Log.Warn("Audio generation failed, continuing without audio", zap.Error(err))
		return nil
	}
	st.AudioURL = &url
	return nil
}

// CheckBeatComplete продвигает бит по флагу генератора или по лимиту ходов.
func (s *Steps) CheckBeatComplete(_ context.Context, t *Turn) error {
	st := t.State
	info := t.World.BeatInfo(t.Structure.BeatInChapter(st.CurrentBeat))
	maxTurns := info.Turns
	if maxTurns <= 0 {
		maxTurns = s.story.DefaultMaxTurnsPerBeat
	}

	next, advanced := beats.Advance(beats.Progress{
		Beat:        st.CurrentBeat,
		TurnsInBeat: st.TurnsInBeat,
		Chapter:     st.ChapterNumber,
		Finished:    st.Finished,
	}, st.BeatComplete, maxTurns, t.Structure)

	st.CurrentBeat = next.Beat
	st.TurnsInBeat = next.TurnsInBeat
	st.ChapterNumber = next.Chapter
	st.Finished = next.Finished
	if advanced {
		t.Log.Info("Beat advanced",
			zap.Int("beat", st.CurrentBeat),
			zap.Int("chapter", st.ChapterNumber),
			zap.Bool("by_generator", st.BeatComplete),
			zap.Bool("finished", st.Finished))
	}
	return nil
}

// DeductCredits списывает стоимость хода целиком или не списывает ничего.
func (s *Steps) DeductCredits(ctx context.Context, t *Turn) error {
	st := t.State
	cost := s.story.CreditsPerTurn
	if s.credits != nil {
		remaining, err := s.credits.Deduct(ctx, st.UserID, cost)
		if err != nil {
			return err
		}
		t.Charged = cost
		st.CreditsRemaining = remaining
		return nil
	}
	if st.CreditsRemaining < cost {
		return fmt.Errorf("%w: balance %d, cost %d", models.ErrInsufficientCredits, st.CreditsRemaining, cost)
	}
	st.CreditsRemaining -= cost
	return nil
}

// HandleError подставляет внутриигровой текст сбоя и очищает ошибку.
func (s *Steps) HandleError(_ context.Context, t *Turn) error {
	st := t.State
	t.Log.Warn("Substituting fallback narrative after generator failure", zap.Error(t.Failure))
	st.RawOutput = ""
	st.Narrative = generatorFailureNarrative
	st.Choices = generatorFailureChoices()
	st.ImagePrompt = ""
	st.ImageURL = nil
	st.AudioURL = nil
	st.BeatComplete = false
	st.ClearError()
	return nil
}

// FirstSentence - первое предложение текста, запасное резюме хода.
func FirstSentence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if i := strings.IndexAny(text, ".!?"); i >= 0 {
		return strings.TrimSpace(text[:i+1])
	}
	if line, _, ok := strings.Cut(text, "\n"); ok {
		return strings.TrimSpace(line)
	}
	return text
}

func isOpening(st *models.SessionState) bool {
	for _, m := range st.Messages {
		if m.Role == models.RoleAssistant {
			return false
		}
	}
	return true
}
