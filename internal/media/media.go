// Package media - клиенты генерации изображений, озвучки и видео.
// Все сбои здесь не фатальны для хода: вызывающий получает ошибку и пустой URL.
package media

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"story-engine/internal/models"
)

// Подвиды ошибки медиа. Все оборачивают models.ErrMediaFailure.
var (
	ErrQuotaExceeded = fmt.Errorf("%w: quota exceeded", models.ErrMediaFailure)
	ErrAuth          = fmt.Errorf("%w: authentication error", models.ErrMediaFailure)
	ErrUnavailable   = fmt.Errorf("%w: backend unavailable", models.ErrMediaFailure)
)

// ImageRequest - запрос иллюстрации.
type ImageRequest struct {
	Prompt    string
	Ratio     string
	Reference string
}

// AudioRequest - запрос озвучки текста.
type AudioRequest struct {
	Text      string
	VoiceID   string
	Reference string
}

// VideoRequest - склейка изображения и звука в видео.
type VideoRequest struct {
	ImageURL  string
	AudioURL  string
	Reference string
}

// ImageGenerator возвращает URL изображения.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (string, error)
}

// AudioGenerator возвращает URL аудио.
type AudioGenerator interface {
	GenerateAudio(ctx context.Context, req AudioRequest) (string, error)
}

// VideoGenerator возвращает URL видео.
type VideoGenerator interface {
	ComposeVideo(ctx context.Context, req VideoRequest) (string, error)
}

var mediaRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "story_engine_media_requests_total",
		Help: "Total number of media generation requests by kind and status.",
	},
	[]string{"kind", "status"},
)

// Disabled - заглушка для не настроенного бэкенда: всегда ErrUnavailable.
type Disabled struct{}

var (
	_ ImageGenerator = Disabled{}
	_ AudioGenerator = Disabled{}
	_ VideoGenerator = Disabled{}
)

func (Disabled) GenerateImage(context.Context, ImageRequest) (string, error) {
	return "", fmt.Errorf("%w: image backend not configured", ErrUnavailable)
}

func (Disabled) GenerateAudio(context.Context, AudioRequest) (string, error) {
	return "", fmt.Errorf("%w: audio backend not configured", ErrUnavailable)
}

func (Disabled) ComposeVideo(context.Context, VideoRequest) (string, error) {
	return "", fmt.Errorf("%w: video backend not configured", ErrUnavailable)
}
