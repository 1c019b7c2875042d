package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// backendResponse - ответ медиа-бэкенда.
type backendResponse struct {
	URL   string `json:"url"`
	Error string `json:"error,omitempty"`
}

// httpBackend вызывает JSON API медиа-сервиса: POST {baseURL}{endpoint} -> {"url": "..."}.
type httpBackend struct {
	kind        string
	baseURL     string
	apiKey      string
	client      *http.Client
	maxAttempts int
	retryDelay  time.Duration
	logger      *zap.Logger
}

func newHTTPBackend(kind, baseURL, apiKey string, timeout time.Duration, maxAttempts int, retryDelay time.Duration, logger *zap.Logger) *httpBackend {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &httpBackend{
		kind:        kind,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiKey:      apiKey,
		client:      &http.Client{Timeout: timeout},
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		logger:      logger,
	}
}

// post повторяет запрос только при ErrUnavailable. Квота и авторизация возвращаются сразу.
func (b *httpBackend) post(ctx context.Context, endpoint string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s request: %w", b.kind, err)
	}

	var lastErr error
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		url, err := b.once(ctx, endpoint, body)
		if err == nil {
			mediaRequestsTotal.WithLabelValues(b.kind, "success").Inc()
			return url, nil
		}
		lastErr = err
		if !errors.Is(err, ErrUnavailable) || attempt == b.maxAttempts || ctx.Err() != nil {
			break
		}
		b.logger.Warn("Media backend call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", b.retryDelay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			mediaRequestsTotal.WithLabelValues(b.kind, "error").Inc()
			return "", fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case <-time.After(b.retryDelay):
		}
	}
	mediaRequestsTotal.WithLabelValues(b.kind, "error").Inc()
	return "", lastErr
}

func (b *httpBackend) once(ctx context.Context, endpoint string, body []byte) (string, error) {
	endpointURL := b.baseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: http request failed: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		b.logger.Error("Media backend returned non-OK status",
			zap.String("url", endpointURL),
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("response_body", bodyBytes))
		return "", statusError(resp.StatusCode, bodyBytes)
	}
	if readErr != nil {
		return "", fmt.Errorf("%w: failed to read response body: %v", ErrUnavailable, readErr)
	}

	var out backendResponse
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return "", fmt.Errorf("%w: invalid response: %v", ErrUnavailable, err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("%w: empty url in response: %s", ErrUnavailable, out.Error)
	}
	return out.URL, nil
}

func statusError(status int, body []byte) error {
	msg := fmt.Sprintf("API returned status %d: %s", status, string(body))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuth, msg)
	case status == http.StatusPaymentRequired || status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, msg)
	default:
		return fmt.Errorf("%w: %s", ErrUnavailable, msg)
	}
}
