// Package worker связывает задачи из очередей с движком сессий и конвейером историй.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"story-engine/internal/messaging"
	"story-engine/internal/models"
	"story-engine/internal/pipeline"
)

// TurnRunner - часть движка сессий, нужная воркеру.
type TurnRunner interface {
	StartSession(ctx context.Context, userID, worldID string, tier models.Tier, credits int, mediaEnabled bool) (*models.SessionState, error)
	RunTurn(ctx context.Context, userInput, sessionID string, state *models.SessionState) (*models.SessionState, models.TurnOutput, error)
}

// StoryRunner - часть конвейера одиночных историй, нужная воркеру.
type StoryRunner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
	Rate(ctx context.Context, bibleID string, rating int, feedback []string) (*models.StoryBible, error)
	CreateBible(ctx context.Context, req pipeline.BibleRequest) (pipeline.BibleResult, error)
}

// TurnResultPayload - полезная нагрузка результата хода.
type TurnResultPayload struct {
	SessionID string            `json:"session_id"`
	Output    models.TurnOutput `json:"output"`
}

// RateResultPayload - полезная нагрузка результата оценки.
type RateResultPayload struct {
	BibleID     string             `json:"bible_id"`
	Preferences models.Preferences `json:"preferences"`
}

// TaskHandler обрабатывает задачи ходов и историй и публикует результаты.
type TaskHandler struct {
	engine    TurnRunner
	stories   StoryRunner
	publisher messaging.ResultPublisher
	timeout   time.Duration
	logger    *zap.Logger
}

// NewTaskHandler создаёт обработчик. timeout ограничивает одну задачу, 0 - без ограничения.
func NewTaskHandler(engine TurnRunner, stories StoryRunner, publisher messaging.ResultPublisher, timeout time.Duration, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		engine:    engine,
		stories:   stories,
		publisher: publisher,
		timeout:   timeout,
		logger:    logger.Named("TaskHandler"),
	}
}

// HandleTurnTask - обработчик очереди ходов.
//
// Временные ошибки при первой доставке возвращаются без публикации, чтобы задачу повторили.
// Прочие ошибки публикуются как результат со статусом error.
func (h *TaskHandler) HandleTurnTask(ctx context.Context, body []byte, redelivered bool) error {
	start := time.Now()
	tasksReceived.WithLabelValues(string(messaging.KindTurn)).Inc()
	defer func() {
		taskDuration.WithLabelValues(string(messaging.KindTurn)).Observe(time.Since(start).Seconds())
	}()

	var task messaging.TurnTaskPayload
	if err := json.Unmarshal(body, &task); err != nil {
		tasksFailed.WithLabelValues(string(messaging.KindTurn), "malformed").Inc()
		return fmt.Errorf("%w: %v", messaging.ErrMalformedTask, err)
	}
	if task.TaskID == "" || task.UserID == "" || (task.SessionID == "" && task.WorldID == "") {
		tasksFailed.WithLabelValues(string(messaging.KindTurn), "malformed").Inc()
		return fmt.Errorf("%w: task_id, user_id and session_id or world_id are required", messaging.ErrMalformedTask)
	}
	log := h.logger.With(zap.String("task_id", task.TaskID), zap.String("session_id", task.SessionID))

	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	sessionID := task.SessionID
	newSession := sessionID == ""
	if newSession {
		state, err := h.engine.StartSession(ctx, task.UserID, task.WorldID, models.ParseTier(task.Tier), task.Credits, task.MediaEnabled)
		if err != nil {
			return h.fail(ctx, log, messaging.KindTurn, task.TaskID, task.UserID, nil, err, redelivered)
		}
		sessionID = state.SessionID
		log = log.With(zap.String("session_id", sessionID))
	}

	_, output, err := h.engine.RunTurn(ctx, task.UserInput, sessionID, nil)
	payload := TurnResultPayload{SessionID: sessionID, Output: output}
	if err != nil {
		// Новая сессия уже сохранена: повтор создал бы вторую, поэтому результат публикуется сразу.
		return h.fail(ctx, log, messaging.KindTurn, task.TaskID, task.UserID, payload, err, redelivered || newSession)
	}
	return h.succeed(ctx, log, messaging.KindTurn, task.TaskID, task.UserID, payload)
}

// HandleStoryTask - обработчик очереди одиночных историй и оценок.
func (h *TaskHandler) HandleStoryTask(ctx context.Context, body []byte, redelivered bool) error {
	start := time.Now()
	var task messaging.StoryTaskPayload
	if err := json.Unmarshal(body, &task); err != nil {
		tasksReceived.WithLabelValues(string(messaging.KindStory)).Inc()
		tasksFailed.WithLabelValues(string(messaging.KindStory), "malformed").Inc()
		return fmt.Errorf("%w: %v", messaging.ErrMalformedTask, err)
	}
	kind := task.Action
	if kind == "" {
		kind = messaging.KindStory
	}
	tasksReceived.WithLabelValues(string(kind)).Inc()
	defer func() {
		taskDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	}()

	if err := validateStoryTask(kind, task); err != nil {
		tasksFailed.WithLabelValues(string(kind), "malformed").Inc()
		return err
	}
	log := h.logger.With(zap.String("task_id", task.TaskID), zap.String("bible_id", task.BibleID))

	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	switch kind {
	case messaging.KindCreate:
		result, err := h.stories.CreateBible(ctx, pipeline.BibleRequest{
			BibleID:     task.BibleID,
			UserID:      task.UserID,
			Genre:       task.Genre,
			Setting:     task.Setting,
			Premise:     task.Premise,
			Characters:  task.Characters,
			Cameos:      task.Cameos,
			Intensity:   task.Intensity,
			StoryLength: task.StoryLength,
		})
		if err != nil {
			return h.fail(ctx, log, kind, task.TaskID, task.UserID, nil, err, redelivered)
		}
		if result.Fallback {
			log.Warn("Bible created from fallback", zap.String("reason", result.FallbackReason))
		}
		return h.succeed(ctx, log, kind, task.TaskID, task.UserID, result)
	case messaging.KindRate:
		bible, err := h.stories.Rate(ctx, task.BibleID, task.Rating, task.Feedback)
		if err != nil {
			return h.fail(ctx, log, kind, task.TaskID, task.UserID, nil, err, redelivered)
		}
		return h.succeed(ctx, log, kind, task.TaskID, task.UserID, RateResultPayload{
			BibleID:     task.BibleID,
			Preferences: bible.UserPreferences,
		})
	case messaging.KindStory:
		result, err := h.stories.Run(ctx, pipeline.Request{
			BibleID:          task.BibleID,
			UserID:           task.UserID,
			Tier:             models.ParseTier(task.Tier),
			Genre:            task.Genre,
			StructureID:      task.StructureID,
			TargetWords:      task.TargetWords,
			ForceCliffhanger: task.ForceCliffhanger,
			GenerateMedia:    task.GenerateMedia,
		})
		if err != nil {
			if result.Success {
				// История готова, но не записана в библию. Повтор сгенерировал бы новую.
				log.Error("Story generated but bible update failed", zap.Error(err))
				return h.fail(ctx, log, kind, task.TaskID, task.UserID, result, err, true)
			}
			return h.fail(ctx, log, kind, task.TaskID, task.UserID, nil, err, redelivered)
		}
		if !result.Success {
			return h.fail(ctx, log, kind, task.TaskID, task.UserID, result,
				fmt.Errorf("%w: %s", models.ErrGeneratorFailure, result.Error), true)
		}
		return h.succeed(ctx, log, kind, task.TaskID, task.UserID, result)
	default:
		tasksFailed.WithLabelValues(string(kind), "malformed").Inc()
		return fmt.Errorf("%w: unknown action %q", messaging.ErrMalformedTask, task.Action)
	}
}

func validateStoryTask(kind messaging.TaskKind, task messaging.StoryTaskPayload) error {
	if kind == messaging.KindCreate {
		if task.TaskID == "" || task.UserID == "" || task.Genre == "" || task.Setting == "" {
			return fmt.Errorf("%w: task_id, user_id, genre and setting are required", messaging.ErrMalformedTask)
		}
		return nil
	}
	if task.TaskID == "" || task.BibleID == "" || task.UserID == "" {
		return fmt.Errorf("%w: task_id, bible_id and user_id are required", messaging.ErrMalformedTask)
	}
	return nil
}

func (h *TaskHandler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.timeout)
}

func (h *TaskHandler) succeed(ctx context.Context, log *zap.Logger, kind messaging.TaskKind, taskID, userID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s result: %w", kind, err)
	}
	if err := h.publisher.PublishResult(ctx, messaging.TaskResult{
		TaskID:  taskID,
		UserID:  userID,
		Kind:    kind,
		Status:  messaging.StatusSuccess,
		Payload: raw,
	}); err != nil {
		return err
	}
	tasksCompleted.WithLabelValues(string(kind), string(messaging.StatusSuccess)).Inc()
	log.Info("Task completed", zap.String("kind", string(kind)))
	return nil
}

// fail решает судьбу упавшей задачи. Временная ошибка без final возвращается как есть
// для повторной доставки. Иначе публикуется результат с кодом ошибки, а задача
// считается обработанной.
func (h *TaskHandler) fail(ctx context.Context, log *zap.Logger, kind messaging.TaskKind, taskID, userID string, payload any, cause error, final bool) error {
	code := models.ErrorCode(cause)
	tasksFailed.WithLabelValues(string(kind), code).Inc()

	if models.IsRetriable(cause) && !final {
		log.Warn("Task failed with retriable error, requesting redelivery", zap.String("code", code), zap.Error(cause))
		return cause
	}

	result := messaging.TaskResult{
		TaskID:    taskID,
		UserID:    userID,
		Kind:      kind,
		Status:    messaging.StatusError,
		ErrorCode: code,
		Error:     cause.Error(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			result.Payload = raw
		}
	}
	if err := h.publisher.PublishResult(ctx, result); err != nil {
		return errors.Join(cause, err)
	}
	tasksCompleted.WithLabelValues(string(kind), string(messaging.StatusError)).Inc()
	log.Warn("Task finished with error", zap.String("kind", string(kind)), zap.String("code", code), zap.Error(cause))
	return nil
}
