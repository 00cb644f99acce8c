package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"GEMINI_API_KEY", "DATABASE_URL", "PORT", "LOG_LEVEL", "BATCH_DELAY", "GENERATION_TIMEOUT", "SESSION_TTL"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_ValidJSON(t *testing.T) {
	content := `{
		"database_url": "postgres://localhost/studio",
		"port": 9090,
		"batch_delay": "2s",
		"generation_timeout": 30,
		"image_model": "custom-image",
		"verbose": true
	}`

	tmpFile := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(tmpFile, []byte(content), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "postgres://localhost/studio", cfg.DatabaseURL)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.BatchDelay.Std())
	assert.Equal(t, 30*time.Second, cfg.GenerationTimeout.Std())
	assert.Equal(t, "custom-image", cfg.ImageModel)
	assert.True(t, cfg.Verbose)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(tmpFile, []byte(`{ invalid json }`), 0644))

	cfg, err := LoadConfig(tmpFile)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config JSON")
}

func TestLoadConfig_BadDuration(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(tmpFile, []byte(`{"batch_delay": "soon"}`), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.json")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "config path is empty")
}

func TestLoad_Precedence(t *testing.T) {
	clearEnv(t)
	tmpFile := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(tmpFile, []byte(`{"port": 9090, "batch_delay": "10s"}`), 0644))

	t.Setenv("BATCH_DELAY", "1s")
	t.Setenv("GEMINI_API_KEY", "env-key")

	cfg, err := Load(tmpFile)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port, "file beats defaults")
	assert.Equal(t, time.Second, cfg.BatchDelay.Std(), "env beats file")
	assert.Equal(t, "env-key", cfg.APIKey)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL.Std(), "defaults fill the rest")
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestApplyEnv_Invalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("SESSION_TTL", "forever")
	cfg := Default()
	err := cfg.ApplyEnv()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_TTL")

	clearEnv(t)
	t.Setenv("PORT", "http")
	assert.Error(t, cfg.ApplyEnv())
}

func TestValidate(t *testing.T) {
	valid := Default()
	assert.NoError(t, valid.Validate())

	badPort := Default()
	badPort.Port = 70000
	assert.Error(t, badPort.Validate())

	badLevel := Default()
	badLevel.LogLevel = "loud"
	assert.Error(t, badLevel.Validate())

	negative := Default()
	negative.BatchDelay = Duration(-time.Second)
	err := negative.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "batch_delay")
}

func TestMergeWithDefaults(t *testing.T) {
	partial := Config{Port: 3000, TextModel: "custom-text"}
	merged := partial.MergeWithDefaults(Default())

	assert.Equal(t, 3000, merged.Port)
	assert.Equal(t, "custom-text", merged.TextModel)
	assert.Equal(t, 4*time.Second, merged.BatchDelay.Std())
	assert.Equal(t, "info", merged.LogLevel)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
	assert.NotNil(t, NewLogger(os.Stderr, "debug"))
}
