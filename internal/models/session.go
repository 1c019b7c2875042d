package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Tier - тариф пользователя.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// ParseTier приводит строку к Tier. Всё неизвестное считается бесплатным тарифом.
func ParseTier(s string) Tier {
	if Tier(s) == TierPremium {
		return TierPremium
	}
	return TierFree
}

// MessageRole - автор реплики в истории диалога.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message - одна реплика полной истории диалога.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// Choice - вариант продолжения, предлагаемый игроку.
type Choice struct {
	ID              int    `json:"id"`
	Text            string `json:"text"`
	Tone            string `json:"tone"`
	ConsequenceHint string `json:"consequence_hint,omitempty"`
}

// SessionState - состояние интерактивной сессии.
// Меняется шагами воркфлоу на месте и сохраняется в чекпоинт после хода.
type SessionState struct {
	// Идентификаторы
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	WorldID   string `json:"world_id"`
	Tier      Tier   `json:"tier"`

	// Прогресс
	CurrentBeat   int  `json:"current_beat"`
	TurnsInBeat   int  `json:"turns_in_beat"`
	ChapterNumber int  `json:"chapter_number"`
	TotalChapters int  `json:"total_chapters"`
	Finished      bool `json:"finished"`

	// Накопители повествования
	StorySummary           []string       `json:"story_summary"`
	Messages               []Message      `json:"messages"`
	LastChoiceContinuation string         `json:"last_choice_continuation,omitempty"`
	GeneratedBible         map[string]any `json:"generated_bible,omitempty"`

	// Рабочие поля текущего хода
	RawOutput    string   `json:"raw_output,omitempty"`
	Narrative    string   `json:"narrative"`
	Choices      []Choice `json:"choices"`
	ImagePrompt  string   `json:"image_prompt,omitempty"`
	ImageURL     *string  `json:"image_url"`
	AudioURL     *string  `json:"audio_url"`
	BeatComplete bool     `json:"beat_complete"`
	Error        *string  `json:"error"`

	// Учёт ресурсов
	CreditsRemaining int  `json:"credits_remaining"`
	MediaEnabled     bool `json:"media_enabled"`

	SessionStart time.Time `json:"session_start"`
	UpdatedAt    time.Time `json:"updated_at"`
	// Version увеличивается при каждом сохранении чекпоинта.
	Version int64 `json:"version"`
}

// Clone возвращает глубокую копию состояния через JSON.
// Ход работает с копией, чтобы неудачный ход не испортил загруженный чекпоинт.
func (s *SessionState) Clone() (*SessionState, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("clone session state: %w", err)
	}
	var out SessionState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("clone session state: %w", err)
	}
	return &out, nil
}

// SetError записывает сообщение об ошибке хода.
func (s *SessionState) SetError(msg string) {
	s.Error = &msg
}

// ClearError очищает поле ошибки.
func (s *SessionState) ClearError() {
	s.Error = nil
}

// HasError сообщает, записана ли ошибка.
func (s *SessionState) HasError() bool {
	return s.Error != nil && *s.Error != ""
}

// ResetTurnFields очищает рабочие поля перед новым ходом.
func (s *SessionState) ResetTurnFields() {
	s.RawOutput = ""
	s.Narrative = ""
	s.Choices = nil
	s.ImagePrompt = ""
	s.ImageURL = nil
	s.AudioURL = nil
	s.BeatComplete = false
	s.Error = nil
}

// TurnOutput - то, что ход возвращает вызывающему.
type TurnOutput struct {
	SessionID        string   `json:"session_id"`
	Narrative        string   `json:"narrative"`
	Choices          []Choice `json:"choices"`
	ImageURL         *string  `json:"image_url"`
	AudioURL         *string  `json:"audio_url"`
	CurrentBeat      int      `json:"current_beat"`
	ChapterNumber    int      `json:"chapter_number"`
	BeatComplete     bool     `json:"beat_complete"`
	Finished         bool     `json:"finished"`
	CreditsRemaining int      `json:"credits_remaining"`
}

// Output собирает TurnOutput из текущего состояния.
func (s *SessionState) Output() TurnOutput {
	return TurnOutput{
		SessionID:        s.SessionID,
		Narrative:        s.Narrative,
		Choices:          s.Choices,
		ImageURL:         s.ImageURL,
		AudioURL:         s.AudioURL,
		CurrentBeat:      s.CurrentBeat,
		ChapterNumber:    s.ChapterNumber,
		BeatComplete:     s.BeatComplete,
		Finished:         s.Finished,
		CreditsRemaining: s.CreditsRemaining,
	}
}
