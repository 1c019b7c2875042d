package media_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"story-engine/internal/config"
	"story-engine/internal/media"
	"story-engine/internal/models"
)

func mediaConfig(url string) config.MediaConfig {
	return config.MediaConfig{
		ImageURL:    url,
		AudioURL:    url,
		VideoURL:    url,
		Timeout:     2 * time.Second,
		MaxAttempts: 2,
		RetryDelay:  time.Millisecond,
		StyleSuffix: ", watercolor",
		ImageRatio:  "16:9",
		APIKey:      "media-key",
	}
}

func TestImageClient_Success(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate", r.URL.Path)
		assert.Equal(t, "Bearer media-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"url":"https://cdn.example/img.jpg"}`))
	}))
	defer srv.Close()

	gen := media.NewImageGenerator(mediaConfig(srv.URL), zap.NewNop())
	url, err := gen.GenerateImage(context.Background(), media.ImageRequest{Prompt: "a lighthouse", Reference: "s1-3"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/img.jpg", url)
	assert.Equal(t, "a lighthouse, watercolor", got["prompt"])
	assert.Equal(t, "16:9", got["ratio"])
	assert.Equal(t, "s1-3", got["reference"])
}

func TestImageClient_QuotaExceededIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"quota"}`))
	}))
	defer srv.Close()

	gen := media.NewImageGenerator(mediaConfig(srv.URL), zap.NewNop())
	url, err := gen.GenerateImage(context.Background(), media.ImageRequest{Prompt: "x"})
	assert.Empty(t, url)
	assert.ErrorIs(t, err, media.ErrQuotaExceeded)
	assert.ErrorIs(t, err, models.ErrMediaFailure)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestAudioClient_UnavailableIsRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "/synthesize", r.URL.Path)
		_, _ = w.Write([]byte(`{"url":"https://cdn.example/a.mp3"}`))
	}))
	defer srv.Close()

	gen := media.NewAudioGenerator(mediaConfig(srv.URL), zap.NewNop())
	url, err := gen.GenerateAudio(context.Background(), media.AudioRequest{Text: "Once upon a time"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/a.mp3", url)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	gen := media.NewVideoGenerator(mediaConfig(srv.URL), zap.NewNop())
	_, err := gen.ComposeVideo(context.Background(), media.VideoRequest{ImageURL: "i", AudioURL: "a"})
	assert.ErrorIs(t, err, media.ErrAuth)
}

func TestVideoClient_NeedsBothInputs(t *testing.T) {
	gen := media.NewVideoGenerator(mediaConfig("http://127.0.0.1:1"), zap.NewNop())
	_, err := gen.ComposeVideo(context.Background(), media.VideoRequest{ImageURL: "i"})
	assert.ErrorIs(t, err, media.ErrUnavailable)
}

func TestDisabledWhenNotConfigured(t *testing.T) {
	cfg := config.MediaConfig{}
	_, err := media.NewImageGenerator(cfg, zap.NewNop()).GenerateImage(context.Background(), media.ImageRequest{Prompt: "x"})
	assert.ErrorIs(t, err, media.ErrUnavailable)
	_, err = media.NewAudioGenerator(cfg, zap.NewNop()).GenerateAudio(context.Background(), media.AudioRequest{Text: "x"})
	assert.ErrorIs(t, err, media.ErrUnavailable)
	_, err = media.NewVideoGenerator(cfg, zap.NewNop()).ComposeVideo(context.Background(), media.VideoRequest{})
	assert.ErrorIs(t, err, media.ErrUnavailable)
}
