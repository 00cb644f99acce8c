package storage

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the S3-compatible object store settings.
type Config struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"-"`
	Region    string `json:"region"`
	UseSSL    bool   `json:"use_ssl"`
	Bucket    string `json:"bucket"`
}

// ConfigFromEnv reads STORAGE_* variables. ok is false when STORAGE_ENDPOINT is unset, in
// which case callers fall back to MemoryStore.
func ConfigFromEnv() (cfg Config, ok bool, err error) {
	endpoint := strings.TrimSpace(os.Getenv("STORAGE_ENDPOINT"))
	if endpoint == "" {
		return Config{}, false, nil
	}

	useSSL := false
	if v := os.Getenv("STORAGE_USE_SSL"); v != "" {
		useSSL, err = strconv.ParseBool(v)
		if err != nil {
			return Config{}, true, fmt.Errorf("invalid STORAGE_USE_SSL %q: %w", v, err)
		}
	}

	cfg = Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("STORAGE_ACCESS_KEY"),
		SecretKey: os.Getenv("STORAGE_SECRET_KEY"),
		Region:    envOr("STORAGE_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    envOr("STORAGE_BUCKET", "post-studio-artifacts"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, true, err
	}
	return cfg, true, nil
}

// Validate checks the required fields.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
