package media

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"story-engine/internal/config"
)

const maxAudioChars = 5000

// ImageClient генерирует иллюстрации через HTTP-бэкенд.
type ImageClient struct {
	backend     *httpBackend
	styleSuffix string
	ratio       string
	logger      *zap.Logger
}

var _ ImageGenerator = (*ImageClient)(nil)

// NewImageGenerator возвращает Disabled, если адрес бэкенда не задан.
func NewImageGenerator(cfg config.MediaConfig, logger *zap.Logger) ImageGenerator {
	if cfg.ImageURL == "" {
		return Disabled{}
	}
	log := logger.Named("ImageClient")
	return &ImageClient{
		backend:     newHTTPBackend("image", cfg.ImageURL, cfg.APIKey, cfg.Timeout, cfg.MaxAttempts, cfg.RetryDelay, log),
		styleSuffix: cfg.StyleSuffix,
		ratio:       cfg.ImageRatio,
		logger:      log,
	}
}

type imageAPIRequest struct {
	Prompt    string `json:"prompt"`
	Ratio     string `json:"ratio"`
	Reference string `json:"reference"`
}

// GenerateImage добавляет суффикс стиля к промпту и возвращает URL картинки.
func (c *ImageClient) GenerateImage(ctx context.Context, req ImageRequest) (string, error) {
	if req.Prompt == "" {
		return "", fmt.Errorf("%w: empty image prompt", ErrUnavailable)
	}
	ratio := req.Ratio
	if ratio == "" {
		ratio = c.ratio
	}
	reference := req.Reference
	if reference == "" {
		reference = uuid.NewString()
	}
	fullPrompt := req.Prompt + c.styleSuffix
	log := c.logger.With(
		zap.String("reference", reference),
		zap.String("prompt_hash", uuid.NewSHA1(uuid.NameSpaceOID, []byte(fullPrompt)).String()))
	log.Info("Generating image...")

	url, err := c.backend.post(ctx, "/generate", imageAPIRequest{Prompt: fullPrompt, Ratio: ratio, Reference: reference})
	if err != nil {
		log.Warn("Image generation failed", zap.Error(err))
		return "", err
	}
	log.Info("Image generated", zap.String("url", url))
	return url, nil
}

// AudioClient озвучивает текст через HTTP-бэкенд.
type AudioClient struct {
	backend *httpBackend
	voiceID string
	logger  *zap.Logger
}

var _ AudioGenerator = (*AudioClient)(nil)

// NewAudioGenerator возвращает Disabled, если адрес бэкенда не задан.
func NewAudioGenerator(cfg config.MediaConfig, logger *zap.Logger) AudioGenerator {
	if cfg.AudioURL == "" {
		return Disabled{}
	}
	log := logger.Named("AudioClient")
	return &AudioClient{
		backend: newHTTPBackend("audio", cfg.AudioURL, cfg.APIKey, cfg.Timeout, cfg.MaxAttempts, cfg.RetryDelay, log),
		voiceID: cfg.AudioVoiceID,
		logger:  log,
	}
}

type audioAPIRequest struct {
	Text      string `json:"text"`
	VoiceID   string `json:"voice_id,omitempty"`
	Reference string `json:"reference"`
}

// GenerateAudio озвучивает не более 5000 символов текста.
func (c *AudioClient) GenerateAudio(ctx context.Context, req AudioRequest) (string, error) {
	text := []rune(req.Text)
	if len(text) == 0 {
		return "", fmt.Errorf("%w: empty audio text", ErrUnavailable)
	}
	if len(text) > maxAudioChars {
		text = text[:maxAudioChars]
	}
	voice := req.VoiceID
	if voice == "" {
		voice = c.voiceID
	}
	reference := req.Reference
	if reference == "" {
		reference = uuid.NewString()
	}
	url, err := c.backend.post(ctx, "/synthesize", audioAPIRequest{Text: string(text), VoiceID: voice, Reference: reference})
	if err != nil {
		c.logger.Warn("Audio generation failed", zap.String("reference", reference), zap.Error(err))
		return "", err
	}
	return url, nil
}

// VideoClient склеивает иллюстрацию и озвучку.
type VideoClient struct {
	backend *httpBackend
	logger  *zap.Logger
}

var _ VideoGenerator = (*VideoClient)(nil)

// NewVideoGenerator возвращает Disabled, если адрес бэкенда не задан.
func NewVideoGenerator(cfg config.MediaConfig, logger *zap.Logger) VideoGenerator {
	if cfg.VideoURL == "" {
		return Disabled{}
	}
	log := logger.Named("VideoClient")
	return &VideoClient{
		backend: newHTTPBackend("video", cfg.VideoURL, cfg.APIKey, cfg.Timeout, cfg.MaxAttempts, cfg.RetryDelay, log),
		logger:  log,
	}
}

type videoAPIRequest struct {
	ImageURL  string `json:"image_url"`
	AudioURL  string `json:"audio_url"`
	Reference string `json:"reference"`
}

// ComposeVideo требует оба URL.
func (c *VideoClient) ComposeVideo(ctx context.Context, req VideoRequest) (string, error) {
	if req.ImageURL == "" || req.AudioURL == "" {
		return "", fmt.Errorf("%w: video needs both image and audio", ErrUnavailable)
	}
	reference := req.Reference
	if reference == "" {
		reference = uuid.NewString()
	}
	url, err := c.backend.post(ctx, "/compose", videoAPIRequest{ImageURL: req.ImageURL, AudioURL: req.AudioURL, Reference: reference})
	if err != nil {
		c.logger.Warn("Video composition failed", zap.String("reference", reference), zap.Error(err))
		return "", err
	}
	return url, nil
}
