package pipeline

import (
	"fmt"
)

// StageKey is the stable ordinal identity of a stage.
type StageKey int

// StageDefinition defines metadata for a pipeline stage. Stages are immutable and their order
// is the only source of "downstream" relationships.
type StageDefinition struct {
	Key       StageKey
	Name      string
	Label     string
	PromptKey string // template key in stages.json
	// Masked stages edit a region of the reference and need the mask as the first
	// input reference.
	Masked bool
}

// Default stage names.
const (
	StageBase    = "base"
	StageRestyle = "restyle"
	StageInpaint = "inpaint"
	StagePolish  = "polish"
)

// DefaultStages returns the standard four-stage image pipeline.
func DefaultStages() []StageDefinition {
	return []StageDefinition{
		{Key: 0, Name: StageBase, Label: "Base image", PromptKey: "base"},
		{Key: 1, Name: StageRestyle, Label: "Style pass", PromptKey: "restyle"},
		{Key: 2, Name: StageInpaint, Label: "Masked edit", PromptKey: "inpaint", Masked: true},
		{Key: 3, Name: StagePolish, Label: "Final polish", PromptKey: "polish"},
	}
}

// ValidateStages checks that stages is non-empty, that every key equals its position and
// that names are unique.
func ValidateStages(stages []StageDefinition) error {
	if len(stages) == 0 {
		return fmt.Errorf("at least one stage is required")
	}
	seen := make(map[string]bool, len(stages))
	for i, stage := range stages {
		if int(stage.Key) != i {
			return fmt.Errorf("stage %q has key %d at position %d", stage.Name, stage.Key, i)
		}
		if stage.Name == "" {
			return fmt.Errorf("stage at position %d has no name", i)
		}
		if seen[stage.Name] {
			return fmt.Errorf("duplicate stage name %q", stage.Name)
		}
		seen[stage.Name] = true
	}
	return nil
}

// StageIndex returns the position of the named stage, or -1.
func StageIndex(stages []StageDefinition, name string) int {
	for i, stage := range stages {
		if stage.Name == name {
			return i
		}
	}
	return -1
}
