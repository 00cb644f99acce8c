package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jonathan/post-studio/internal/generation"
	"github.com/jonathan/post-studio/internal/prompts"
	"github.com/jonathan/post-studio/internal/schemas"
	"github.com/jonathan/post-studio/internal/types"
)

// CaptionWriter implements generation.CaptionGenerator with a single JSON-mode model call.
type CaptionWriter struct {
	client Client
	tier   ModelTier
	logger *slog.Logger
}

// NewCaptionWriter creates a CaptionWriter using the standard tier. A nil logger discards
// output.
func NewCaptionWriter(client Client, logger *slog.Logger) *CaptionWriter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CaptionWriter{client: client, tier: TierStandard, logger: logger}
}

type captionSet struct {
	Variations []generation.Variation `json:"variations"`
}

// GenerateMany implements generation.CaptionGenerator. The response must validate against
// the caption set schema and contain exactly count distinct captions.
func (w *CaptionWriter) GenerateMany(ctx context.Context, topic types.TopicContext, count int) ([]generation.Variation, error) {
	prompt, err := prompts.Render("captions.json", "generate-variations", map[string]string{
		"Count":       strconv.Itoa(count),
		"Platform":    topic.Platform,
		"Topic":       topic.Topic,
		"Tone":        topic.Tone,
		"Style":       topic.Style,
		"Audience":    topic.Audience,
		"Language":    topic.Language,
		"AspectRatio": topic.AspectRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build caption prompt: %w", err)
	}

	raw, err := w.client.GenerateJSON(ctx, prompt, w.tier)
	if err != nil {
		return nil, classifyAPIError(err)
	}

	variations, err := parseCaptionSet(raw, count)
	if err != nil {
		w.logger.Warn("caption response rejected", "error", err, "model", w.client.GetModel(w.tier))
		return nil, err
	}
	w.logger.Debug("captions generated", "count", len(variations), "topic", topic.Topic)
	return variations, nil
}

func parseCaptionSet(raw string, count int) ([]generation.Variation, error) {
	cleaned := CleanJSONBlock(raw)
	if err := schemas.ValidateCaptionSet([]byte(cleaned)); err != nil {
		return nil, generation.NewError(generation.CodeMalformed, "caption response does not match schema", err)
	}

	var set captionSet
	if err := json.Unmarshal([]byte(cleaned), &set); err != nil {
		return nil, generation.NewError(generation.CodeMalformed, "caption response is not valid JSON", err)
	}
	if len(set.Variations) != count {
		return nil, generation.NewError(generation.CodeMalformed,
			fmt.Sprintf("expected %d variations, got %d", count, len(set.Variations)), nil)
	}

	seen := make(map[string]bool, len(set.Variations))
	for i := range set.Variations {
		v := &set.Variations[i]
		v.Caption = strings.TrimSpace(v.Caption)
		v.Prompt = strings.TrimSpace(v.Prompt)
		if seen[v.Caption] {
			return nil, generation.NewError(generation.CodeMalformed, fmt.Sprintf("variation %d repeats an earlier caption", i), nil)
		}
		seen[v.Caption] = true
	}
	return set.Variations, nil
}
