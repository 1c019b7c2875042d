// Package workflow - пошаговый движок интерактивной истории.
// Один вызов RunTurn выполняет один ход по явной таблице переходов и сохраняет чекпоинт.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"story-engine/internal/beats"
	"story-engine/internal/config"
	"story-engine/internal/consistency"
	"story-engine/internal/models"
)

// StateName - имя состояния автомата хода.
type StateName string

const (
	StateGenerateNarrative StateName = "generate_narrative"
	StateParseOutput       StateName = "parse_output"
	StateGenerateSummary   StateName = "generate_summary"
	StateGenerateImage     StateName = "generate_image"
	StateGenerateAudio     StateName = "generate_audio"
	StateCheckBeatComplete StateName = "check_beat_complete"
	StateDeductCredits     StateName = "deduct_credits"
	StateHandleError       StateName = "handle_error"
	StateEnd               StateName = "end"

	// EntryState - вход автомата.
	EntryState = StateGenerateNarrative
)

// Handler - шаг хода.
type Handler func(ctx context.Context, t *Turn) error

// Transition - строка таблицы: состояние, его шаг и выбор следующего состояния.
// Next - чистая функция от состояния сессии после шага.
// OnError - куда идти при ошибке шага; пусто означает, что ошибка завершает ход.
type Transition struct {
	State   StateName
	Handler Handler
	Next    func(*models.SessionState) StateName
	OnError StateName
}

func always(next StateName) func(*models.SessionState) StateName {
	return func(*models.SessionState) StateName { return next }
}

// TransitionTable строит таблицу переходов. mediaEnabled - настройка процесса;
// ветка медиа выбирается, только если она включена и для самой сессии.
func TransitionTable(s *Steps, mediaEnabled bool) []Transition {
	return []Transition{
		{State: StateGenerateNarrative, Handler: s.GenerateNarrative, Next: always(StateParseOutput), OnError: StateHandleError},
		{State: StateParseOutput, Handler: s.ParseOutput, Next: always(StateGenerateSummary)},
		{State: StateGenerateSummary, Handler: s.GenerateSummary, Next: func(st *models.SessionState) StateName {
			if mediaEnabled && st.MediaEnabled {
				return StateGenerateImage
			}
			return StateCheckBeatComplete
		}},
		{State: StateGenerateImage, Handler: s.GenerateImage, Next: always(StateGenerateAudio)},
		{State: StateGenerateAudio, Handler: s.GenerateAudio, Next: always(StateCheckBeatComplete)},
		{State: StateCheckBeatComplete, Handler: s.CheckBeatComplete, Next: always(StateDeductCredits)},
		{State: StateDeductCredits, Handler: s.DeductCredits, Next: always(StateEnd)},
		{State: StateHandleError, Handler: s.HandleError, Next: always(StateEnd)},
	}
}

// Path возвращает последовательность состояний без вызова шагов.
func Path(table []Transition, st *models.SessionState) []StateName {
	index := indexTable(table)
	var path []StateName
	for current := EntryState; current != StateEnd; {
		tr, ok := index[current]
		if !ok {
			break
		}
		path = append(path, current)
		current = tr.Next(st)
	}
	return path
}

func indexTable(table []Transition) map[StateName]Transition {
	index := make(map[StateName]Transition, len(table))
	for _, tr := range table {
		index[tr.State] = tr
	}
	return index
}

// TurnError - ход прерван в состоянии State.
type TurnError struct {
	State StateName
	Err   error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed at %s: %v", e.State, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// Deps - коллабораторы движка. Credits, Checker, Images и Audio необязательны.
type Deps struct {
	Steps       *Steps
	Worlds      WorldLoader
	Checkpoints CheckpointStore
	Credits     CreditStore
	Locker      Locker
	Checker     *consistency.Checker
}

// Engine выполняет ходы сессий.
type Engine struct {
	steps       *Steps
	worlds      WorldLoader
	checkpoints CheckpointStore
	credits     CreditStore
	locker      Locker
	checker     *consistency.Checker
	table       map[StateName]Transition
	cfg         *config.Config
	now         func() time.Time
	logger      *zap.Logger
}

// NewEngine проверяет обязательные зависимости и строит таблицу переходов.
func NewEngine(cfg *config.Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	switch {
	case deps.Steps == nil:
		return nil, fmt.Errorf("%w: steps are required", models.ErrConfiguration)
	case deps.Worlds == nil:
		return nil, fmt.Errorf("%w: world loader is required", models.ErrConfiguration)
	case deps.Checkpoints == nil:
		return nil, fmt.Errorf("%w: checkpoint store is required", models.ErrConfiguration)
	case deps.Locker == nil:
		return nil, fmt.Errorf("%w: session locker is required", models.ErrConfiguration)
	}
	return &Engine{
		steps:       deps.Steps,
		worlds:      deps.Worlds,
		checkpoints: deps.Checkpoints,
		credits:     deps.Credits,
		locker:      deps.Locker,
		checker:     deps.Checker,
		table:       indexTable(TransitionTable(deps.Steps, cfg.Story.EnableMediaGeneration)),
		cfg:         cfg,
		now:         time.Now,
		logger:      logger.Named("WorkflowEngine"),
	}, nil
}

// WithClock подменяет часы, для тестов.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// StartSession создаёт начальное состояние и первый чекпоинт.
func (e *Engine) StartSession(ctx context.Context, userID, worldID string, tier models.Tier, credits int, mediaEnabled bool) (*models.SessionState, error) {
	if _, err := e.worlds.Load(worldID); err != nil {
		return nil, err
	}
	if e.credits != nil {
		balance, err := e.credits.Balance(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("read credit balance: %w", err)
		}
		credits = balance
	}

	now := e.now().UTC()
	state := &models.SessionState{
		SessionID:      uuid.NewString(),
		UserID:         userID,
		WorldID:        worldID,
		Tier:           tier,
		CurrentBeat:    1,
		ChapterNumber:  1,
		TotalChapters:  e.cfg.Story.TotalChapters,
		StorySummary:   []string{},
		Messages:       []models.Message{},
		GeneratedBible: map[string]any{},
		Choices:        []models.Choice{},

		CreditsRemaining: credits,
		MediaEnabled:     mediaEnabled,
		SessionStart:     now,
		UpdatedAt:        now,
	}
	if err := e.checkpoints.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("%w: save initial checkpoint: %w", models.ErrCheckpointFailure, err)
	}
	e.logger.Info("Session started",
		zap.String("session_id", state.SessionID),
		zap.String("user_id", userID),
		zap.String("world_id", worldID),
		zap.Int("credits", credits))
	return state, nil
}

// LoadSession возвращает последний чекпоинт.
func (e *Engine) LoadSession(ctx context.Context, sessionID string) (*models.SessionState, error) {
	state, err := e.checkpoints.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", models.ErrCheckpointFailure, err)
	}
	return state, nil
}

// DeleteSession удаляет чекпоинт и проиндексированный текст сессии.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	unlock, err := e.locker.Lock(ctx, lockKey(sessionID), e.cfg.TurnLockTTL())
	if err != nil {
		return err
	}
	defer e.release(unlock, sessionID)

	if err := e.checkpoints.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %w", models.ErrCheckpointFailure, err)
	}
	if e.checker != nil {
		if err := e.checker.DropCollection(ctx, CollectionID(sessionID)); err != nil {
			e.logger.Warn("Failed to drop session passages", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	e.logger.Info("Session deleted", zap.String("session_id", sessionID))
	return nil
}

// RunTurn выполняет один ход. Если state == nil, состояние берётся из чекпоинта.
//
// Сбой генератора уводит ход в handle_error: вызывающий получает запасной текст
// и ошибку ErrGeneratorFailure, чекпоинт и кредиты не меняются.
// Любая другая ошибка возвращает исходное состояние без изменений.
func (e *Engine) RunTurn(ctx context.Context, userInput, sessionID string, state *models.SessionState) (*models.SessionState, models.TurnOutput, error) {
	start := e.now()
	outcome := "success"
	defer func() {
		turnsTotal.WithLabelValues(outcome).Inc()
		turnDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()
	log := e.logger.With(zap.String("session_id", sessionID))

	unlock, err := e.locker.Lock(ctx, lockKey(sessionID), e.cfg.TurnLockTTL())
	if err != nil {
		outcome = "locked"
		return state, models.TurnOutput{}, err
	}
	defer e.release(unlock, sessionID)

	original := state
	if state == nil {
		loaded, err := e.checkpoints.Load(ctx, sessionID)
		if err != nil {
			outcome = "error"
			if errors.Is(err, models.ErrNotFound) {
				return nil, models.TurnOutput{}, fmt.Errorf("%w: no checkpoint for session %s", models.ErrConfiguration, sessionID)
			}
			return nil, models.TurnOutput{}, fmt.Errorf("%w: load checkpoint: %w", models.ErrCheckpointFailure, err)
		}
		original = loaded
	} else if state.SessionID != sessionID {
		outcome = "error"
		return state, models.TurnOutput{}, fmt.Errorf("%w: state belongs to session %s", models.ErrConfiguration, state.SessionID)
	}
	if original.Finished {
		outcome = "finished"
		return original, models.TurnOutput{}, fmt.Errorf("%w: %s", models.ErrSessionFinished, sessionID)
	}

	world, err := e.worlds.Load(original.WorldID)
	if err != nil {
		outcome = "error"
		return original, models.TurnOutput{}, err
	}

	work, err := original.Clone()
	if err != nil {
		outcome = "error"
		return original, models.TurnOutput{}, err
	}
	if err := e.preflightCredits(ctx, work); err != nil {
		outcome = "insufficient_credits"
		log.Info("Turn rejected before start", zap.Error(err))
		return original, models.TurnOutput{}, err
	}

	previousChoices := work.Choices
	work.ResetTurnFields()
	applyUserInput(work, userInput, previousChoices)

	turn := &Turn{
		State: work,
		World: world,
		Structure: beats.Structure{
			BeatsPerChapter: world.BeatsPerChapter(),
			TotalChapters:   work.TotalChapters,
		},
		Chapter: work.ChapterNumber,
		Log:     log,
	}

	if failedAt, err := e.execute(ctx, turn); err != nil {
		outcome = "error"
		e.refund(turn)
		log.Error("Turn aborted", zap.String("state", string(failedAt)), zap.Error(err))
		return original, models.TurnOutput{}, &TurnError{State: failedAt, Err: err}
	}

	if turn.Failure != nil {
		outcome = "generator_failure"
		return work, work.Output(), &TurnError{State: StateGenerateNarrative, Err: turn.Failure}
	}

	work.UpdatedAt = e.now().UTC()
	if err := e.checkpoints.Save(ctx, work); err != nil {
		outcome = "error"
		e.refund(turn)
		log.Error("Failed to save checkpoint", zap.Error(err))
		return original, models.TurnOutput{}, fmt.Errorf("%w: save checkpoint: %w", models.ErrCheckpointFailure, err)
	}

	e.indexNarrative(ctx, turn)
	log.Info("Turn completed",
		zap.Int("beat", work.CurrentBeat),
		zap.Int("turns_in_beat", work.TurnsInBeat),
		zap.Int("chapter", work.ChapterNumber),
		zap.Bool("finished", work.Finished),
		zap.Int("credits_remaining", work.CreditsRemaining),
		zap.Duration("duration", time.Since(start)))
	return work, work.Output(), nil
}

// execute прогоняет автомат от входа до конца.
func (e *Engine) execute(ctx context.Context, t *Turn) (StateName, error) {
	current := EntryState
	for current != StateEnd {
		tr, ok := e.table[current]
		if !ok {
			return current, fmt.Errorf("%w: unknown state %q", models.ErrConfiguration, current)
		}
		stepStart := time.Now()
		err := tr.Handler(ctx, t)
		stepDuration.WithLabelValues(string(current)).Observe(time.Since(stepStart).Seconds())
		if err != nil {
			if tr.OnError == "" {
				return current, err
			}
			t.Log.Warn("Step failed, switching to recovery",
				zap.String("state", string(current)),
				zap.String("next", string(tr.OnError)),
				zap.Error(err))
			current = tr.OnError
			continue
		}
		current = tr.Next(t.State)
	}
	return StateEnd, nil
}

func (e *Engine) preflightCredits(ctx context.Context, st *models.SessionState) error {
	cost := e.cfg.Story.CreditsPerTurn
	balance := st.CreditsRemaining
	if e.credits != nil {
		b, err := e.credits.Balance(ctx, st.UserID)
		if err != nil {
			return fmt.Errorf("read credit balance: %w", err)
		}
		balance = b
		st.CreditsRemaining = b
	}
	if balance < cost {
		return fmt.Errorf("%w: balance %d, cost %d", models.ErrInsufficientCredits, balance, cost)
	}
	return nil
}

// refund возвращает списанное, если ход не удалось зафиксировать.
func (e *Engine) refund(t *Turn) {
	if e.credits == nil || t.Charged == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := e.credits.Refund(ctx, t.State.UserID, t.Charged); err != nil {
		t.Log.Error("Failed to refund credits", zap.Int("amount", t.Charged), zap.Error(err))
		return
	}
	t.Log.Info("Credits refunded", zap.Int("amount", t.Charged))
	t.Charged = 0
}

func (e *Engine) indexNarrative(ctx context.Context, t *Turn) {
	if e.checker == nil || t.State.Narrative == "" {
		return
	}
	n, err := e.checker.IndexChapter(ctx, CollectionID(t.State.SessionID), t.Chapter, t.State.Narrative)
	if err != nil {
		t.Log.Warn("Failed to index narrative", zap.Error(err))
		return
	}
	t.Log.Debug("Narrative indexed", zap.Int("passages", n))
}

func (e *Engine) release(unlock func(context.Context) error, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := unlock(ctx); err != nil {
		e.logger.Warn("Failed to release session lock", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// applyUserInput записывает выбор игрока как продолжение и добавляет его в историю.
func applyUserInput(st *models.SessionState, input string, previous []models.Choice) {
	input = strings.TrimSpace(input)
	if input == "" {
		return
	}
	st.LastChoiceContinuation = SelectContinuation(input, previous)
	st.Messages = append(st.Messages, models.Message{Role: models.RoleUser, Content: st.LastChoiceContinuation})
}

// CollectionID - коллекция индекса для текста сессии.
func CollectionID(sessionID string) string {
	return "session_" + sessionID
}

func lockKey(sessionID string) string {
	return "session:" + sessionID
}
