// Package types provides type definitions for structured data used throughout the post-studio system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"github.com/go-playground/validator/v10"
)

// Supported values for the enumerated creative settings.
var (
	Platforms    = []string{"instagram", "facebook", "linkedin", "x", "tiktok", "pinterest"}
	AspectRatios = []string{"1:1", "4:5", "9:16", "16:9", "3:4", "4:3"}
)

// TopicContext is the creative brief shared by caption and image generation.
type TopicContext struct {
	Topic       string `json:"topic" validate:"required,min=3,max=500"`
	Platform    string `json:"platform" validate:"required,oneof=instagram facebook linkedin x tiktok pinterest"`
	Style       string `json:"style" validate:"required,max=100"`
	Tone        string `json:"tone" validate:"required,max=100"`
	AspectRatio string `json:"aspect_ratio" validate:"required,oneof=1:1 4:5 9:16 16:9 3:4 4:3"`
	Audience    string `json:"audience,omitempty" validate:"max=200"`
	Language    string `json:"language,omitempty" validate:"omitempty,bcp47_language_tag"`
}

// Validate validates the TopicContext using the validator.
func (t *TopicContext) Validate() error {
	validate := validator.New()
	return validate.Struct(t)
}

// CreativeConfig is the finalized pre-pipeline configuration: the brief plus the caption
// already generated (or written) for it.
type CreativeConfig struct {
	TopicContext
	Caption string `json:"caption" validate:"required,max=2200"`
}

// Validate validates the CreativeConfig using the validator.
func (c *CreativeConfig) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}
