package ai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"story-engine/internal/ai"
	"story-engine/internal/config"
)

func testConfig(clientType, baseURL string) *config.Config {
	return &config.Config{
		AIClientType:     clientType,
		AIBaseURL:        baseURL,
		AIModel:          "test-model",
		AIAPIKey:         "test-key",
		AITimeout:        5 * time.Second,
		AIMaxAttempts:    1,
		AIBaseRetryDelay: time.Millisecond,
	}
}

func TestOpenAIClient(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var got map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"test-model",
				"choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],
				"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`))
		}))
		defer srv.Close()

		gen, err := ai.NewTextGenerator(testConfig("openai", srv.URL), zap.NewNop())
		require.NoError(t, err)

		text, usage, err := gen.GenerateText(context.Background(), "u1", "system prompt", "user input", ai.Params(0.3, 150, time.Second))
		require.NoError(t, err)
		assert.Equal(t, "hello", text)
		assert.Equal(t, 5, usage.TotalTokens)
		assert.Equal(t, "test-model", got["model"])
		assert.EqualValues(t, 150, got["max_tokens"])
		assert.Len(t, got["messages"], 2)
	})

	statusCases := []struct {
		name   string
		status int
		want   error
	}{
		{"auth", http.StatusUnauthorized, ai.ErrAuth},
		{"rate limit", http.StatusTooManyRequests, ai.ErrRateLimited},
	}
	for _, tc := range statusCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
			}))
			defer srv.Close()

			gen, err := ai.NewTextGenerator(testConfig("openai", srv.URL), zap.NewNop())
			require.NoError(t, err)
			_, _, err = gen.GenerateText(context.Background(), "u1", "system", "", ai.GenerationParams{})
			assert.ErrorIs(t, err, tc.want)
		})
	}

	t.Run("empty system prompt", func(t *testing.T) {
		gen, err := ai.NewTextGenerator(testConfig("openai", "http://127.0.0.1:1"), zap.NewNop())
		require.NoError(t, err)
		_, _, err = gen.GenerateText(context.Background(), "u1", "  ", "", ai.GenerationParams{})
		assert.ErrorIs(t, err, ai.ErrEmpty)
	})
}

func TestOllamaClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		// клиент Ollama читает ответ построчно, поэтому JSON в одну строку
		_, _ = w.Write([]byte(`{"model":"test-model","created_at":"2025-01-01T00:00:00Z","message":{"role":"assistant","content":"from ollama"},"done":true,"done_reason":"stop","prompt_eval_count":7,"eval_count":4}` + "\n"))
	}))
	defer srv.Close()

	gen, err := ai.NewTextGenerator(testConfig("ollama", srv.URL+"/v1"), zap.NewNop())
	require.NoError(t, err)

	text, usage, err := gen.GenerateText(context.Background(), "u1", "system", "input", ai.Params(0.7, 100, time.Second))
	require.NoError(t, err)
	assert.Equal(t, "from ollama", text)
	assert.Equal(t, 11, usage.TotalTokens)
}

func TestNewTextGenerator_UnknownType(t *testing.T) {
	_, err := ai.NewTextGenerator(testConfig("claude", ""), zap.NewNop())
	assert.Error(t, err)
}
