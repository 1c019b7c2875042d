// Package messaging - транспорт задач движка поверх RabbitMQ: объявление очередей,
// потребитель задач и публикация результатов.
package messaging

import (
	"encoding/json"
	"errors"

	"story-engine/internal/models"
)

// TaskKind - тип задачи и результата.
type TaskKind string

const (
	KindTurn   TaskKind = "turn"
	KindStory  TaskKind = "story"
	KindRate   TaskKind = "rate"
	KindCreate TaskKind = "create"
)

// ResultStatus - итог обработки задачи.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusError   ResultStatus = "error"
)

// ErrMalformedTask - тело задачи не разбирается или в нём нет обязательных полей.
// Такие сообщения сразу уходят в dead letter очередь.
var ErrMalformedTask = errors.New("malformed task")

// ErrPublishFailed - результат не удалось опубликовать.
var ErrPublishFailed = errors.New("result publish failed")

// TurnTaskPayload - задача хода интерактивной сессии.
// Если SessionID пуст, а WorldID задан, сессия сначала создаётся.
type TurnTaskPayload struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id"`
	UserInput string `json:"user_input"`

	WorldID      string `json:"world_id,omitempty"`
	Tier         string `json:"tier,omitempty"`
	Credits      int    `json:"credits,omitempty"`
	MediaEnabled bool   `json:"media_enabled,omitempty"`
}

// StoryTaskPayload - задача одиночной истории, оценки уже выданной истории
// или создания новой библии.
type StoryTaskPayload struct {
	TaskID           string   `json:"task_id"`
	Action           TaskKind `json:"action,omitempty"` // story (по умолчанию), rate или create
	BibleID          string   `json:"bible_id"`         // для create необязателен
	UserID           string   `json:"user_id"`
	Tier             string   `json:"tier,omitempty"`
	Genre            string   `json:"genre,omitempty"`
	StructureID      string   `json:"structure_id,omitempty"`
	TargetWords      int      `json:"target_words,omitempty"`
	ForceCliffhanger *bool    `json:"force_cliffhanger,omitempty"`
	GenerateMedia    bool     `json:"generate_media,omitempty"`

	Rating   int      `json:"rating,omitempty"`
	Feedback []string `json:"feedback,omitempty"`

	Setting     string                 `json:"setting,omitempty"`
	Premise     string                 `json:"premise,omitempty"`
	Intensity   int                    `json:"intensity,omitempty"`
	StoryLength string                 `json:"story_length,omitempty"`
	Characters  []models.CharacterSeed `json:"characters,omitempty"`
	Cameos      []models.CameoSeed     `json:"cameos,omitempty"`
}

// TaskResult публикуется в очередь результатов после каждой обработанной задачи.
type TaskResult struct {
	TaskID    string          `json:"task_id"`
	UserID    string          `json:"user_id"`
	Kind      TaskKind        `json:"kind"`
	Status    ResultStatus    `json:"status"`
	ErrorCode string          `json:"error_code,omitempty"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}
