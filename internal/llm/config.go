// Package llm provides centralized model configuration and the Gemini-backed implementations
// of the image and caption generators.
package llm

import "maps"

// ModelTier represents the complexity/capability level of a model
type ModelTier string

const (
	// TierLite is for simple tasks: short rewrites, classification
	TierLite ModelTier = "lite"
	// TierStandard is for structured output such as caption sets
	TierStandard ModelTier = "standard"
	// TierAdvanced is for longer creative writing
	TierAdvanced ModelTier = "advanced"
	// TierImage is the image generation and editing model
	TierImage ModelTier = "image"
)

// Provider represents an LLM provider
type Provider string

// Provider constants define supported LLM providers
const (
	// ProviderGemini is the Google Gemini provider
	ProviderGemini Provider = "gemini"
)

// Config holds the model configuration for the application
type Config struct {
	Provider    Provider
	Models      map[ModelTier]string
	Temperature float32
}

// DefaultConfig returns the default configuration (currently Gemini)
func DefaultConfig() *Config {
	return DefaultGeminiConfig()
}

// DefaultGeminiConfig returns the default Gemini configuration
func DefaultGeminiConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
			TierImage:    "gemini-2.5-flash-image",
		},
		Temperature: 0.9,
	}
}

// GetModel returns the model name for a given tier. Text tiers fall back to standard, then
// lite. The image tier has no fallback since text models cannot produce images.
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	if tier == TierImage {
		return ""
	}
	if model, ok := c.Models[TierStandard]; ok {
		return model
	}
	if model, ok := c.Models[TierLite]; ok {
		return model
	}
	return ""
}

// WithModel returns a new Config with a specific model for a tier
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	newConfig := &Config{
		Provider:    c.Provider,
		Models:      maps.Clone(c.Models),
		Temperature: c.Temperature,
	}
	if newConfig.Models == nil {
		newConfig.Models = make(map[ModelTier]string)
	}
	newConfig.Models[tier] = model
	return newConfig
}
