// Package ai - клиенты текстового генератора (OpenAI-совместимый API и Ollama).
package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"story-engine/internal/config"
	"story-engine/internal/models"
)

// Подвиды ошибки генератора. Все оборачивают models.ErrGeneratorFailure.
var (
	ErrTimeout     = fmt.Errorf("%w: timeout", models.ErrGeneratorFailure)
	ErrAuth        = fmt.Errorf("%w: authentication error", models.ErrGeneratorFailure)
	ErrRateLimited = fmt.Errorf("%w: rate limited", models.ErrGeneratorFailure)
	ErrEmpty       = fmt.Errorf("%w: empty response", models.ErrGeneratorFailure)
)

// GenerationParams - параметры одного вызова.
// Указатели отличают 0/0.0 от отсутствия значения.
type GenerationParams struct {
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
	// Timeout ограничивает одну попытку. 0 - без дополнительного ограничения.
	Timeout time.Duration
}

// Params - удобный конструктор для типичного набора.
func Params(temperature float64, maxTokens int, timeout time.Duration) GenerationParams {
	return GenerationParams{Temperature: &temperature, MaxTokens: &maxTokens, Timeout: timeout}
}

// UsageInfo содержит информацию об использовании токенов и стоимости.
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCostUSD float64
}

// TextGenerator - текстовый генератор, которым пользуются шаги воркфлоу и конвейер.
type TextGenerator interface {
	// GenerateText генерирует текст на основе системного промта, ввода пользователя и параметров.
	GenerateText(ctx context.Context, userID string, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error)
}

// NewTextGenerator создаёт клиента по AI_CLIENT_TYPE и оборачивает его повторами.
func NewTextGenerator(cfg *config.Config, logger *zap.Logger) (TextGenerator, error) {
	var (
		base TextGenerator
		err  error
	)
	switch strings.ToLower(cfg.AIClientType) {
	case "openai":
		base = newOpenAIClient(cfg, logger)
	case "ollama":
		base, err = newOllamaClient(cfg, logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: неизвестный тип AI клиента: '%s'", models.ErrConfiguration, cfg.AIClientType)
	}
	logger.Info("AI client created",
		zap.String("type", cfg.AIClientType),
		zap.String("base_url", cfg.AIBaseURL),
		zap.String("model", cfg.AIModel),
		zap.Duration("timeout", cfg.AITimeout))
	return NewRetrying(base, cfg.AIMaxAttempts, cfg.AIBaseRetryDelay, logger), nil
}

// withAttemptTimeout накладывает таймаут попытки, если он задан.
func withAttemptTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// classifyStatus переводит HTTP-статус провайдера в подвид ошибки.
func classifyStatus(status int, cause error) error {
	switch {
	case status == 401 || status == 403:
		return fmt.Errorf("%w: %v", ErrAuth, cause)
	case status == 429:
		return fmt.Errorf("%w: %v", ErrRateLimited, cause)
	case status == 408 || status == 504:
		return fmt.Errorf("%w: %v", ErrTimeout, cause)
	default:
		return fmt.Errorf("%w: %v", models.ErrGeneratorFailure, cause)
	}
}

// classifyTransport распознаёт таймауты контекста и сети.
func classifyTransport(err error) (error, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err), true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err), true
	}
	return nil, false
}

func float32Val(f64 *float64) float32 {
	if f64 == nil {
		return 1.0
	}
	return float32(*f64)
}

func intVal(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
