package ai

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Retrying повторяет вызовы генератора с экспоненциальной задержкой и джиттером ±10%.
// Повторяются только таймауты, ограничение частоты и пустые ответы.
type Retrying struct {
	next        TextGenerator
	maxAttempts int
	baseDelay   time.Duration
	logger      *zap.Logger

	mu    sync.Mutex
	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

var _ TextGenerator = (*Retrying)(nil)

// NewRetrying оборачивает генератор. maxAttempts < 1 означает одну попытку.
func NewRetrying(next TextGenerator, maxAttempts int, baseDelay time.Duration, logger *zap.Logger) *Retrying {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Retrying{
		next:        next,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		logger:      logger.Named("AIRetry"),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:       sleepCtx,
	}
}

// WithSleep подменяет ожидание между попытками.
func (r *Retrying) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Retrying {
	r.sleep = sleep
	return r
}

// GenerateText вызывает обёрнутый генератор до maxAttempts раз.
func (r *Retrying) GenerateText(ctx context.Context, userID string, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		text, usage, err := r.next.GenerateText(ctx, userID, systemPrompt, userInput, params)
		if err == nil {
			return text, usage, nil
		}
		lastErr = err
		if !retriable(err) || ctx.Err() != nil || attempt == r.maxAttempts {
			break
		}
		delay := r.backoff(attempt)
		aiRetriesTotal.WithLabelValues(errorKind(err)).Inc()
		r.logger.Warn("AI call failed, retrying",
			zap.String("user_id", userID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := r.sleep(ctx, delay); err != nil {
			return "", UsageInfo{}, lastErr
		}
	}
	return "", UsageInfo{}, lastErr
}

func (r *Retrying) backoff(attempt int) time.Duration {
	base := float64(r.baseDelay) * math.Pow(2, float64(attempt-1))
	r.mu.Lock()
	jitter := (r.rng.Float64()*2 - 1) * 0.1 * base
	r.mu.Unlock()
	return time.Duration(base + jitter)
}

func retriable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrEmpty)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrEmpty):
		return "empty"
	default:
		return "other"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
