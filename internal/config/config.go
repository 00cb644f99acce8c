// Package config provides configuration loading and validation for the studio CLI and server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Duration is a time.Duration that reads from JSON strings such as "4s" or "2m".
type Duration time.Duration

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds")
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the studio configuration. Values come from, in increasing priority:
// defaults, a JSON config file, environment variables and CLI flags.
type Config struct {
	APIKey      string `json:"api_key,omitempty"`      // Gemini API key
	DatabaseURL string `json:"database_url,omitempty"` // PostgreSQL URL for the history ledger
	Port        int    `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`

	BatchDelay        Duration `json:"batch_delay,omitempty"`        // Pause between batch jobs
	GenerationTimeout Duration `json:"generation_timeout,omitempty"` // Per-call generator deadline
	SessionTTL        Duration `json:"session_ttl,omitempty"`        // Idle sessions/batches are evicted after this

	ImageModel string `json:"image_model,omitempty"`
	TextModel  string `json:"text_model,omitempty"`

	LogLevel string `json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Verbose  bool   `json:"verbose,omitempty"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Port:              8080,
		BatchDelay:        Duration(4 * time.Second),
		GenerationTimeout: Duration(90 * time.Second),
		SessionTTL:        Duration(2 * time.Hour),
		LogLevel:          "info",
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Load builds the effective configuration from defaults, the optional file at path and the
// environment. CLI flags are applied by the caller afterwards.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		fromFile, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = fromFile
	}
	merged := cfg.MergeWithDefaults(Default())
	if err := merged.ApplyEnv(); err != nil {
		return nil, err
	}
	return &merged, nil
}

// ApplyEnv overrides fields with the environment variables that are set.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT: %v", err)
		}
		c.Port = port
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}

	durations := []struct {
		env    string
		target *Duration
	}{
		{"BATCH_DELAY", &c.BatchDelay},
		{"GENERATION_TIMEOUT", &c.GenerationTimeout},
		{"SESSION_TTL", &c.SessionTTL},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %v", d.env, err)
		}
		*d.target = Duration(parsed)
	}
	return nil
}

// Validate checks that the configuration has valid values.
// The API key is not required here; commands that call the model check it themselves.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if c.BatchDelay < 0 {
		return fmt.Errorf("config error: 'batch_delay' must be non-negative")
	}
	if c.GenerationTimeout < 0 {
		return fmt.Errorf("config error: 'generation_timeout' must be non-negative")
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("config error: 'session_ttl' must be non-negative")
	}
	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.ImageModel == "" {
		result.ImageModel = defaults.ImageModel
	}
	if result.TextModel == "" {
		result.TextModel = defaults.TextModel
	}
	if result.LogLevel == "" {
		result.LogLevel = defaults.LogLevel
	}
	if result.Port == 0 {
		result.Port = defaults.Port
	}
	if result.BatchDelay == 0 {
		result.BatchDelay = defaults.BatchDelay
	}
	if result.GenerationTimeout == 0 {
		result.GenerationTimeout = defaults.GenerationTimeout
	}
	if result.SessionTTL == 0 {
		result.SessionTTL = defaults.SessionTTL
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}
