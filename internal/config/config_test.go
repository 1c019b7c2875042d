package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"story-engine/internal/config"
	"story-engine/internal/utils"
)

func useSecretsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old := utils.SecretsDir
	utils.SecretsDir = dir
	t.Cleanup(func() { utils.SecretsDir = old })
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	useSecretsDir(t)
	t.Chdir(t.TempDir())
	t.Setenv("AI_API_KEY", "env-key")
	t.Setenv("DB_PASSWORD", "pw")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.AIClientType)
	assert.Equal(t, "env-key", cfg.AIAPIKey)
	assert.Equal(t, 120*time.Second, cfg.AITimeout)
	assert.Equal(t, 30, cfg.Story.TotalChapters)
	assert.Equal(t, 4, cfg.Story.DefaultMaxTurnsPerBeat)
	assert.Equal(t, 7, cfg.Story.SummaryWindow)
	assert.Equal(t, 1, cfg.Story.CreditsPerTurn)
	assert.Equal(t, 60, cfg.Names.ExpiryDays)
	assert.Equal(t, 30, cfg.Names.ExpiryGenerations)
	assert.Equal(t, 5, cfg.ConsistencyMaxQueries)
	assert.Equal(t, "postgres", cfg.CheckpointBackend)
	assert.Equal(t, "postgres://postgres:pw@localhost:5432/story_engine?sslmode=disable", cfg.GetDSN())
}

func TestLoadConfig_SecretFileWins(t *testing.T) {
	dir := useSecretsDir(t)
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ai_api_key"), []byte("file-key\n"), 0o600))
	t.Setenv("AI_API_KEY", "env-key")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "file-key", cfg.AIAPIKey)
}

func TestLoadConfig_Validation(t *testing.T) {
	useSecretsDir(t)
	t.Chdir(t.TempDir())

	t.Run("openai without key", func(t *testing.T) {
		t.Setenv("AI_API_KEY", "")
		_, err := config.LoadConfig()
		assert.Error(t, err)
	})

	t.Run("ollama without key is fine", func(t *testing.T) {
		t.Setenv("AI_CLIENT_TYPE", "ollama")
		t.Setenv("CHECKPOINT_BACKEND", "memory")
		cfg, err := config.LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, "memory", cfg.CheckpointBackend)
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("AI_API_KEY", "k")
		t.Setenv("CHECKPOINT_BACKEND", "sqlite")
		_, err := config.LoadConfig()
		assert.Error(t, err)
	})
}

func TestTurnLockTTL_CoversWorstCaseTurn(t *testing.T) {
	useSecretsDir(t)
	t.Chdir(t.TempDir())
	t.Setenv("AI_API_KEY", "k")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	// narrative: 3 x 120s + 1.1s + 2.2s, summary: 3 x 30s + 1.1s + 2.2s, запас 30s
	assert.Equal(t, 486600*time.Millisecond, cfg.TurnLockTTL())
	assert.Greater(t, cfg.TurnLockTTL(), time.Duration(cfg.AIMaxAttempts)*cfg.AITimeout)
	assert.Greater(t, cfg.TurnLockTTL(), cfg.SessionLockTTL)
}

func TestTurnLockTTL(t *testing.T) {
	base := func() *config.Config {
		return &config.Config{
			AITimeout:        60 * time.Second,
			AIMaxAttempts:    2,
			AIBaseRetryDelay: time.Second,
			Generation: config.GenerationConfig{
				NarrativeTimeout: 90 * time.Second,
				SummaryTimeout:   10 * time.Second,
			},
		}
	}

	t.Run("stage timeout above AI timeout is capped", func(t *testing.T) {
		// 2 x 60s + 1.1s, 2 x 10s + 1.1s, запас 30s
		assert.Equal(t, 172200*time.Millisecond, base().TurnLockTTL())
	})

	t.Run("configured lease wins when longer", func(t *testing.T) {
		cfg := base()
		cfg.SessionLockTTL = time.Hour
		assert.Equal(t, time.Hour, cfg.TurnLockTTL())
	})

	t.Run("task timeout bounds the turn", func(t *testing.T) {
		cfg := base()
		cfg.TaskTimeout = time.Minute
		assert.Equal(t, 90*time.Second, cfg.TurnLockTTL())
	})

	t.Run("media retries extend the lease", func(t *testing.T) {
		cfg := base()
		cfg.Story.EnableMediaGeneration = true
		cfg.Media = config.MediaConfig{Timeout: 10 * time.Second, MaxAttempts: 2, RetryDelay: time.Second}
		// сверх базового хода: 3 x (2 x 10s + 1s)
		assert.Equal(t, 172200*time.Millisecond+63*time.Second, cfg.TurnLockTTL())
	})
}
