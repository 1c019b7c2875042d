package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"story-engine/internal/config"
)

// ollamaClient реализует TextGenerator через нативный API Ollama.
type ollamaClient struct {
	client  *api.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

var _ TextGenerator = (*ollamaClient)(nil)

func newOllamaClient(cfg *config.Config, logger *zap.Logger) (*ollamaClient, error) {
	// api.NewClient требует URL без суффикса /v1
	ollamaBaseURL := strings.TrimSuffix(cfg.AIBaseURL, "/v1")
	ollamaBaseURL = strings.TrimSuffix(ollamaBaseURL, "/")

	parsedURL, err := url.Parse(ollamaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга Ollama Base URL '%s': %w", ollamaBaseURL, err)
	}
	return &ollamaClient{
		client:  api.NewClient(parsedURL, &http.Client{Timeout: cfg.AITimeout}),
		model:   cfg.AIModel,
		timeout: cfg.AITimeout,
		logger:  logger.Named("OllamaClient"),
	}, nil
}

// GenerateText генерирует текст с использованием Ollama без стриминга.
func (c *ollamaClient) GenerateText(ctx context.Context, userID string, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error) {
	usageInfo := UsageInfo{}
	log := c.logger.With(zap.String("user_id", userID), zap.String("model", c.model))

	if strings.TrimSpace(systemPrompt) == "" {
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "error", "user_id": userID}).Inc()
		return "", usageInfo, fmt.Errorf("%w: системный промт пуст", ErrEmpty)
	}

	messages := []api.Message{{Role: "system", Content: systemPrompt}}
	if userInput != "" {
		messages = append(messages, api.Message{Role: "user", Content: userInput})
	}

	stream := false
	options := map[string]interface{}{"num_predict": intVal(params.MaxTokens)}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}

	timeout := params.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	requestCtx, cancel := withAttemptTimeout(ctx, timeout)
	defer cancel()

	startTime := time.Now()
	var resp api.ChatResponse
	err := c.client.Chat(requestCtx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	duration := time.Since(startTime)

	if err != nil {
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "error", "user_id": userID}).Inc()
		classified := classifyOllamaError(err)
		log.Warn("Ollama API error", zap.Duration("duration", duration), zap.Error(classified))
		return "", usageInfo, classified
	}

	if resp.Message.Content == "" {
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "error_empty_response", "user_id": userID}).Inc()
		log.Warn("Ollama API returned empty response", zap.Duration("duration", duration))
		return "", usageInfo, ErrEmpty
	}

	aiRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "success", "user_id": userID}).Inc()
	aiRequestDuration.With(prometheus.Labels{"model": c.model, "user_id": userID}).Observe(duration.Seconds())

	usageInfo.PromptTokens = resp.PromptEvalCount
	usageInfo.CompletionTokens = resp.EvalCount
	if usageInfo.PromptTokens == 0 {
		// старые версии Ollama не возвращают счётчики
		usageInfo.PromptTokens = EstimateTokens(c.model, systemPrompt+userInput)
	}
	usageInfo.TotalTokens = usageInfo.PromptTokens + usageInfo.CompletionTokens
	observeUsage(c.model, userID, usageInfo)

	log.Info("Ollama response received",
		zap.Duration("duration", duration),
		zap.Int("response_len", len(resp.Message.Content)),
		zap.Int("total_tokens", usageInfo.TotalTokens))
	return resp.Message.Content, usageInfo, nil
}

func classifyOllamaError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.StatusCode, err)
	}
	if classified, ok := classifyTransport(err); ok {
		return classified
	}
	return classifyStatus(0, err)
}
