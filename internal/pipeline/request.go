package pipeline

import (
	"fmt"
	"maps"

	"github.com/jonathan/post-studio/internal/generation"
	"github.com/jonathan/post-studio/internal/prompts"
	"github.com/jonathan/post-studio/internal/types"
)

const stagePromptFile = "stages.json"

// basePromptKey is used whenever a stage has no earlier artifact to build on.
const basePromptKey = "base"

// StageInput holds the user-chosen parameters for one stage run, such as an edit
// instruction or a mask handle produced by an external editor.
type StageInput struct {
	Instruction string              `json:"instruction,omitempty"`
	References  []generation.Handle `json:"references,omitempty"`
	Params      map[string]string   `json:"params,omitempty"`
}

// RequestBuilder turns a stage, the session configuration, the stage input and the resolved
// reference artifact into a generation request. An empty reference means a base-context
// request.
type RequestBuilder interface {
	Build(stage StageDefinition, cfg types.CreativeConfig, input StageInput, reference generation.Handle) (generation.Request, error)
}

// PromptBuilder builds requests from the embedded stage prompt templates.
type PromptBuilder struct{}

// Build implements RequestBuilder.
func (PromptBuilder) Build(stage StageDefinition, cfg types.CreativeConfig, input StageInput, reference generation.Handle) (generation.Request, error) {
	key := stage.PromptKey
	if key == "" {
		key = stage.Name
	}
	if reference.Empty() {
		key = basePromptKey
	} else if stage.Masked && len(input.References) == 0 {
		return generation.Request{}, &ConfigurationError{
			Op:      "build",
			Message: fmt.Sprintf("stage %s needs a mask in the input references", stage.Name),
		}
	}

	prompt, err := prompts.Render(stagePromptFile, key, map[string]string{
		"Topic":       cfg.Topic,
		"Platform":    cfg.Platform,
		"Style":       cfg.Style,
		"Tone":        cfg.Tone,
		"AspectRatio": cfg.AspectRatio,
		"Caption":     cfg.Caption,
		"Instruction": input.Instruction,
	})
	if err != nil {
		return generation.Request{}, fmt.Errorf("failed to build prompt for stage %s: %w", stage.Name, err)
	}

	var refs []generation.Handle
	if !reference.Empty() {
		refs = append(refs, reference)
	}
	refs = append(refs, input.References...)

	params := map[string]string{
		"aspect_ratio": cfg.AspectRatio,
		"platform":     cfg.Platform,
		"stage":        stage.Name,
	}
	maps.Copy(params, input.Params)

	return generation.Request{
		Prompt:     prompt,
		References: refs,
		Params:     params,
	}, nil
}
