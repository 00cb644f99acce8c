package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/post-studio/internal/config"
	"github.com/jonathan/post-studio/internal/server"
)

func clearStudioEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"GEMINI_API_KEY", "DATABASE_URL", "PORT", "LOG_LEVEL", "BATCH_DELAY", "GENERATION_TIMEOUT", "SESSION_TTL"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	clearStudioEnv(t)
	path := filepath.Join(t.TempDir(), "studio.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"api_key": "from-file", "log_level": "warn", "batch_delay": "10s"}`), 0o600))

	var flags commonFlags
	cmd := &cobra.Command{Use: "test"}
	flags.register(cmd)
	flags.configPath = path
	require.NoError(t, cmd.Flags().Set("log-level", "debug"))

	cfg, err := flags.loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.APIKey)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.BatchDelay.Std())
	assert.Equal(t, 90*time.Second, cfg.GenerationTimeout.Std(), "defaults fill unset fields")
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	clearStudioEnv(t)
	t.Setenv("GEMINI_API_KEY", "from-env")
	path := filepath.Join(t.TempDir(), "studio.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"api_key": "from-file"}`), 0o600))

	var flags commonFlags
	cmd := &cobra.Command{Use: "test"}
	flags.register(cmd)
	flags.configPath = path

	cfg, err := flags.loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.APIKey)
}

func TestLoadConfig_RejectsInvalidLevel(t *testing.T) {
	clearStudioEnv(t)
	var flags commonFlags
	cmd := &cobra.Command{Use: "test"}
	flags.register(cmd)
	require.NoError(t, cmd.Flags().Set("log-level", "chatty"))

	_, err := flags.loadConfig(cmd)
	assert.Error(t, err)
}

func TestApplyServeFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "serve"}
	cmd.Flags().IntVar(&servePort, "port", 8080, "")
	cmd.Flags().DurationVar(&serveBatchDelay, "batch-delay", 0, "")
	cmd.Flags().DurationVar(&serveSessionTTL, "session-ttl", 0, "")
	cmd.Flags().StringVar(&serveDB, "db-url", "", "")
	require.NoError(t, cmd.Flags().Set("port", "9090"))
	require.NoError(t, cmd.Flags().Set("batch-delay", "0s"))

	cfg := config.Default()
	require.NoError(t, applyServeFlags(cmd, &cfg))
	assert.Equal(t, 9090, cfg.Port)
	assert.Zero(t, cfg.BatchDelay, "an explicit zero delay is kept")
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL.Std())

	require.NoError(t, cmd.Flags().Set("port", "70000"))
	assert.Error(t, applyServeFlags(cmd, &cfg))
}

func TestRunToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "dev-secret-for-tests")
	t.Setenv("JWT_EXPIRATION_HOURS", "1")
	user := uuid.New()
	tokenUser = user.String()
	t.Cleanup(func() { tokenUser = "" })

	var out bytes.Buffer
	cmd := &cobra.Command{Use: "token"}
	cmd.SetOut(&out)
	require.NoError(t, runToken(cmd, nil))

	jwtCfg, err := config.NewJWTConfig()
	require.NoError(t, err)
	claims, err := server.NewJWTService(jwtCfg).ValidateToken(string(bytes.TrimSpace(out.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, user, claims.UserID)
}

func TestRunToken_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	cmd := &cobra.Command{Use: "token"}
	assert.Error(t, runToken(cmd, nil))
}

func TestRunToken_InvalidUser(t *testing.T) {
	t.Setenv("JWT_SECRET", "dev-secret-for-tests")
	tokenUser = "not-a-uuid"
	t.Cleanup(func() { tokenUser = "" })

	cmd := &cobra.Command{Use: "token"}
	assert.Error(t, runToken(cmd, nil))
}
