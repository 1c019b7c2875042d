package ai_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"story-engine/internal/ai"
	"story-engine/internal/models"
)

type scriptedGenerator struct {
	errs  []error
	calls int
}

func (g *scriptedGenerator) GenerateText(_ context.Context, _ string, _ string, _ string, _ ai.GenerationParams) (string, ai.UsageInfo, error) {
	i := g.calls
	g.calls++
	if i < len(g.errs) && g.errs[i] != nil {
		return "", ai.UsageInfo{}, g.errs[i]
	}
	return "ok", ai.UsageInfo{TotalTokens: 10}, nil
}

func recordSleeps(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestRetrying_SucceedsAfterTransientErrors(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{ai.ErrRateLimited, fmt.Errorf("%w: boom", ai.ErrTimeout)}}
	var delays []time.Duration
	r := ai.NewRetrying(gen, 3, time.Second, zap.NewNop()).WithSleep(recordSleeps(&delays))

	text, usage, err := r.GenerateText(context.Background(), "u1", "system", "", ai.GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 10, usage.TotalTokens)
	assert.Equal(t, 3, gen.calls)

	require.Len(t, delays, 2)
	assert.InDelta(t, float64(time.Second), float64(delays[0]), float64(100*time.Millisecond))
	assert.InDelta(t, float64(2*time.Second), float64(delays[1]), float64(200*time.Millisecond))
}

func TestRetrying_AuthIsNotRetried(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{ai.ErrAuth, nil}}
	var delays []time.Duration
	r := ai.NewRetrying(gen, 3, time.Second, zap.NewNop()).WithSleep(recordSleeps(&delays))

	_, _, err := r.GenerateText(context.Background(), "u1", "system", "", ai.GenerationParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrAuth)
	assert.ErrorIs(t, err, models.ErrGeneratorFailure)
	assert.Equal(t, 1, gen.calls)
	assert.Empty(t, delays)
}

func TestRetrying_ExhaustsAttempts(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{ai.ErrTimeout, ai.ErrTimeout, ai.ErrTimeout, nil}}
	var delays []time.Duration
	r := ai.NewRetrying(gen, 3, 10*time.Millisecond, zap.NewNop()).WithSleep(recordSleeps(&delays))

	_, _, err := r.GenerateText(context.Background(), "u1", "system", "", ai.GenerationParams{})
	assert.ErrorIs(t, err, ai.ErrTimeout)
	assert.Equal(t, 3, gen.calls)
	assert.Len(t, delays, 2)
}

func TestRetrying_StopsOnCancelledSleep(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{ai.ErrRateLimited, nil}}
	r := ai.NewRetrying(gen, 3, time.Second, zap.NewNop()).WithSleep(func(context.Context, time.Duration) error {
		return context.Canceled
	})

	_, _, err := r.GenerateText(context.Background(), "u1", "system", "", ai.GenerationParams{})
	assert.True(t, errors.Is(err, ai.ErrRateLimited))
	assert.Equal(t, 1, gen.calls)
}

func TestErrorTaxonomy(t *testing.T) {
	for _, err := range []error{ai.ErrTimeout, ai.ErrAuth, ai.ErrRateLimited, ai.ErrEmpty} {
		assert.ErrorIs(t, err, models.ErrGeneratorFailure)
		assert.Equal(t, "generator_failure", models.ErrorCode(err))
	}
}

func TestRetrying_EmptyResponseIsRetried(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{ai.ErrEmpty, nil}}
	var delays []time.Duration
	r := ai.NewRetrying(gen, 3, time.Second, zap.NewNop()).WithSleep(recordSleeps(&delays))

	text, _, err := r.GenerateText(context.Background(), "u1", "system", "", ai.GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 2, gen.calls)
	assert.Len(t, delays, 1)
}

func TestRetrying_UnclassifiedFailureIsNotRetried(t *testing.T) {
	for name, cause := range map[string]error{
		"provider error": fmt.Errorf("%w: status 400: bad request", models.ErrGeneratorFailure),
		"plain error":    errors.New("connection reset by peer"),
	} {
		t.Run(name, func(t *testing.T) {
			gen := &scriptedGenerator{errs: []error{cause, nil}}
			var delays []time.Duration
			r := ai.NewRetrying(gen, 3, time.Second, zap.NewNop()).WithSleep(recordSleeps(&delays))

			_, _, err := r.GenerateText(context.Background(), "u1", "system", "", ai.GenerationParams{})
			assert.ErrorIs(t, err, cause)
			assert.Equal(t, 1, gen.calls)
			assert.Empty(t, delays)
		})
	}
}
