package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment read by NewJWTConfig. Bearer auth on the studio server is off while
// JWT_SECRET is unset.
const (
	EnvJWTSecret     = "JWT_SECRET"
	EnvJWTExpiration = "JWT_EXPIRATION_HOURS"
	EnvJWTIssuer     = "JWT_ISSUER"

	DefaultJWTExpirationHours = 24
	DefaultJWTIssuer          = "post-studio"
)

// JWTConfig is the signing policy for studio bearer tokens, which carry the id of the user
// owning sessions, runs and history.
type JWTConfig struct {
	Secret          string
	ExpirationHours int
	Issuer          string // DefaultJWTIssuer when empty
}

// NewJWTConfig reads the studio auth environment. The secret is required. Tokens last
// DefaultJWTExpirationHours unless JWT_EXPIRATION_HOURS says otherwise.
func NewJWTConfig() (*JWTConfig, error) {
	secret := os.Getenv(EnvJWTSecret)
	if secret == "" {
		return nil, fmt.Errorf("%s is required but not set", EnvJWTSecret)
	}

	cfg := &JWTConfig{
		Secret:          secret,
		ExpirationHours: DefaultJWTExpirationHours,
		Issuer:          DefaultJWTIssuer,
	}
	if raw := os.Getenv(EnvJWTExpiration); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvJWTExpiration, err)
		}
		cfg.ExpirationHours = hours
	}
	if issuer := strings.TrimSpace(os.Getenv(EnvJWTIssuer)); issuer != "" {
		cfg.Issuer = issuer
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OptionalJWTConfig is NewJWTConfig for `studio serve`, where auth is opt-in: it returns
// nil without error when JWT_SECRET is unset.
func OptionalJWTConfig() (*JWTConfig, error) {
	if os.Getenv(EnvJWTSecret) == "" {
		return nil, nil
	}
	return NewJWTConfig()
}

// Validate checks the secret and lifetime.
func (c *JWTConfig) Validate() error {
	if c.Secret == "" {
		return fmt.Errorf("%s cannot be empty", EnvJWTSecret)
	}
	if c.ExpirationHours < 1 {
		return fmt.Errorf("%s must be at least 1 hour, got: %d", EnvJWTExpiration, c.ExpirationHours)
	}
	return nil
}

// TokenTTL is how long a minted token stays valid.
func (c *JWTConfig) TokenTTL() time.Duration {
	return time.Duration(c.ExpirationHours) * time.Hour
}

// TokenIssuer is the iss claim tokens are minted with and checked against.
func (c *JWTConfig) TokenIssuer() string {
	if c.Issuer == "" {
		return DefaultJWTIssuer
	}
	return c.Issuer
}
