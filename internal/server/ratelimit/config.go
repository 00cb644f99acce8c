package ratelimit

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string        // path pattern; "*" matches one segment, a trailing "/" matches any suffix
	Method string        // HTTP method, or "*" for any
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// DefaultConfig is the configuration used when nothing is set in the environment.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		DefaultLimit:    1000,
		DefaultWindow:   time.Minute,
		CleanupInterval: 5 * time.Minute,
		IdleTimeout:     time.Hour,
		Whitelist:       make(map[string]bool),
		Blacklist:       make(map[string]bool),
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// LoadConfig loads rate limiting configuration from RATE_LIMIT_* environment variables.
func LoadConfig() *Config {
	cfg := DefaultConfig()
	cfg.Enabled = getEnvBool("RATE_LIMIT_ENABLED", true)
	if !cfg.Enabled {
		return cfg
	}

	cfg.DefaultLimit = getEnvInt("RATE_LIMIT_DEFAULT_LIMIT", cfg.DefaultLimit)
	cfg.DefaultWindow = getEnvDuration("RATE_LIMIT_DEFAULT_WINDOW", cfg.DefaultWindow)
	cfg.CleanupInterval = getEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", cfg.CleanupInterval)
	cfg.Whitelist = parseIPList(os.Getenv("RATE_LIMIT_WHITELIST"))
	cfg.Blacklist = parseIPList(os.Getenv("RATE_LIMIT_BLACKLIST"))

	// Generation limits can be tuned without touching the cheaper routes.
	if limit := getEnvInt("RATE_LIMIT_GENERATION_LIMIT", 0); limit > 0 {
		for i := range cfg.EndpointConfigs {
			if cfg.EndpointConfigs[i].Window == time.Hour {
				cfg.EndpointConfigs[i].Limit = limit
			}
		}
	}
	return cfg
}

// DefaultEndpointConfigs returns the default endpoint-specific configurations. Every route
// that calls a generator is metered per hour; the rest share the default limit.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// Calls the image generator once per job.
		{Path: "/batches", Method: "POST", Limit: 20, Window: time.Hour, Burst: 3},
		{Path: "/batches/*/jobs/*/retry", Method: "POST", Limit: 60, Window: time.Hour, Burst: 5},

		// One generator call per request.
		{Path: "/sessions/*/run", Method: "POST", Limit: 120, Window: time.Hour, Burst: 10},
		{Path: "/sessions", Method: "POST", Limit: 60, Window: time.Hour, Burst: 10},
		{Path: "/captions", Method: "POST", Limit: 60, Window: time.Hour, Burst: 10},

		// State changes without generation.
		{Path: "/sessions/", Method: "*", Limit: 300, Window: time.Minute, Burst: 30},
		{Path: "/batches/", Method: "*", Limit: 300, Window: time.Minute, Burst: 30},
	}
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// parseIPList parses a comma-separated list of IP addresses into a set.
func parseIPList(list string) map[string]bool {
	result := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			result[ip] = true
		}
	}
	return result
}
