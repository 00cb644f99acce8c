// Package generation defines the collaborator contracts the orchestration core depends on:
// an image Generator and a CaptionGenerator, plus the request and failure types they share.
package generation

import (
	"context"
	"maps"
	"slices"

	"github.com/jonathan/post-studio/internal/types"
)

// Handle is an opaque reference to an immutable artifact (for example a storage URL).
type Handle string

// Empty reports whether the handle refers to nothing.
func (h Handle) Empty() bool {
	return h == ""
}

// Request describes one generation call.
type Request struct {
	Prompt     string            `json:"prompt"`
	References []Handle          `json:"references,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

// Clone returns a deep copy so callers can hold a request without aliasing its slices or maps.
func (r Request) Clone() Request {
	return Request{
		Prompt:     r.Prompt,
		References: slices.Clone(r.References),
		Params:     maps.Clone(r.Params),
	}
}

// Generator produces one artifact per request.
// Implementations return *Error on failure.
type Generator interface {
	Generate(ctx context.Context, req Request) (Handle, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request) (Handle, error)

// Generate calls f(ctx, req).
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Handle, error) {
	return f(ctx, req)
}

// Variation is one caption together with the image prompt that illustrates it.
type Variation struct {
	Caption string `json:"caption"`
	Prompt  string `json:"image_prompt"`
}

// CaptionGenerator produces count distinct caption variations for a topic in a single call.
type CaptionGenerator interface {
	GenerateMany(ctx context.Context, topic types.TopicContext, count int) ([]Variation, error)
}
