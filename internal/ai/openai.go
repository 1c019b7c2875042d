package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"story-engine/internal/config"
)

// openAIClient реализует TextGenerator с использованием go-openai.
type openAIClient struct {
	client *openaigo.Client
	model  string
	logger *zap.Logger
}

var _ TextGenerator = (*openAIClient)(nil)

func newOpenAIClient(cfg *config.Config, logger *zap.Logger) *openAIClient {
	openaiConfig := openaigo.DefaultConfig(cfg.AIAPIKey)
	openaiConfig.BaseURL = cfg.AIBaseURL
	openaiConfig.HTTPClient = &http.Client{Timeout: cfg.AITimeout}
	return &openAIClient{
		client: openaigo.NewClientWithConfig(openaiConfig),
		model:  cfg.AIModel,
		logger: logger.Named("OpenAIClient"),
	}
}

// GenerateText отправляет chat completion и классифицирует ошибки провайдера.
func (c *openAIClient) GenerateText(ctx context.Context, userID string, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error) {
	usageInfo := UsageInfo{}
	log := c.logger.With(zap.String("user_id", userID), zap.String("model", c.model))

	if strings.TrimSpace(systemPrompt) == "" {
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "error", "user_id": userID}).Inc()
		return "", usageInfo, fmt.Errorf("%w: системный промт пуст", ErrEmpty)
	}

	messages := []openaigo.ChatCompletionMessage{
		{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt},
	}
	if userInput != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{Role: openaigo.ChatMessageRoleUser, Content: userInput})
	}

	callCtx, cancel := withAttemptTimeout(ctx, params.Timeout)
	defer cancel()

	startTime := time.Now()
	if ce := log.Check(zap.DebugLevel, "Sending request to AI"); ce != nil {
		ce.Write(
			zap.Int("system_prompt_bytes", len(systemPrompt)),
			zap.Int("user_input_bytes", len(userInput)),
			zap.Int("estimated_prompt_tokens", EstimateTokens(c.model, systemPrompt+userInput)))
	}

	resp, err := c.client.CreateChatCompletion(callCtx, openaigo.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: float32Val(params.Temperature),
		MaxTokens:   intVal(params.MaxTokens),
		TopP:        float32Val(params.TopP),
	})
	duration := time.Since(startTime)

	if err != nil {
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "error", "user_id": userID}).Inc()
		classified := classifyOpenAIError(err)
		log.Warn("AI API error", zap.Duration("duration", duration), zap.Error(classified))
		return "", usageInfo, classified
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "error_empty_response", "user_id": userID}).Inc()
		log.Warn("AI API returned empty response", zap.Duration("duration", duration))
		return "", usageInfo, ErrEmpty
	}

	aiRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "success", "user_id": userID}).Inc()
	aiRequestDuration.With(prometheus.Labels{"model": c.model, "user_id": userID}).Observe(duration.Seconds())

	if resp.Usage.TotalTokens > 0 {
		usageInfo.PromptTokens = resp.Usage.PromptTokens
		usageInfo.CompletionTokens = resp.Usage.CompletionTokens
		usageInfo.TotalTokens = resp.Usage.TotalTokens
		usageInfo.EstimatedCostUSD = calculateCost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		observeUsage(c.model, userID, usageInfo)
	}

	generatedText := resp.Choices[0].Message.Content
	log.Info("AI response received",
		zap.Duration("duration", duration),
		zap.Int("response_len", len(generatedText)),
		zap.Int("total_tokens", usageInfo.TotalTokens))
	return generatedText, usageInfo, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openaigo.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openaigo.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, err)
	}
	if classified, ok := classifyTransport(err); ok {
		return classified
	}
	return classifyStatus(0, err)
}
