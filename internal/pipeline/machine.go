// Package pipeline implements the staged image pipeline: an ordered list of stages where each
// stage builds on the artifact of the one before it, stages may be skipped, and revisiting an
// earlier stage invalidates everything downstream of it.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/post-studio/internal/generation"
	"github.com/jonathan/post-studio/internal/types"
)

// Machine applies transitions to Sessions. It holds no session state itself, so one Machine
// serves any number of sessions.
type Machine struct {
	stages     []StageDefinition
	generator  generation.Generator
	builder    RequestBuilder
	logger     *slog.Logger
	onProgress ProgressCallback
}

// Option configures a Machine.
type Option func(*Machine)

// WithRequestBuilder replaces the default PromptBuilder.
func WithRequestBuilder(b RequestBuilder) Option {
	return func(m *Machine) { m.builder = b }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithProgress registers a callback for progress events.
func WithProgress(cb ProgressCallback) Option {
	return func(m *Machine) { m.onProgress = cb }
}

// NewMachine creates a Machine over the given ordered stages.
func NewMachine(stages []StageDefinition, generator generation.Generator, opts ...Option) (*Machine, error) {
	if err := ValidateStages(stages); err != nil {
		return nil, fmt.Errorf("invalid stages: %w", err)
	}
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}

	m := &Machine{
		stages:    slices.Clone(stages),
		generator: generator,
		builder:   PromptBuilder{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Stages returns a copy of the stage definitions.
func (m *Machine) Stages() []StageDefinition {
	return slices.Clone(m.stages)
}

// Start opens a session on the first stage. The configuration must be complete and carry a
// caption. No generation happens here.
func (m *Machine) Start(cfg types.CreativeConfig) (Session, error) {
	if err := cfg.Validate(); err != nil {
		return Session{}, &ConfigurationError{Op: "start", Message: "configuration incomplete", Cause: err}
	}

	s := Session{
		ID:          uuid.New(),
		Config:      cfg,
		ActiveStage: 0,
		Phase:       PhaseRunning,
		Results:     make(map[StageKey]StepResult),
	}
	m.logger.Info("session started", "session_id", s.ID, "stages", len(m.stages))
	return s, nil
}

// RunActiveStage generates the active stage's artifact. The request builds on the nearest
// earlier Done artifact (see ReferenceFor). On success the result is recorded and the
// session advances, finishing after the last stage. On failure the returned session is the
// input session unchanged and the error is a *generation.Error.
func (m *Machine) RunActiveStage(ctx context.Context, s Session, input *StageInput) (Session, error) {
	if s.Phase != PhaseRunning {
		return s, &ConfigurationError{Op: "run", Message: fmt.Sprintf("session is %s", s.Phase)}
	}
	stage, err := m.activeStage(s)
	if err != nil {
		return s, err
	}

	var in StageInput
	if input != nil {
		in = *input
	}
	reference, _ := ReferenceFor(s)

	req, err := m.builder.Build(stage, s.Config, in, reference)
	if err != nil {
		return s, &ConfigurationError{Op: "run", Message: "could not build request", Cause: err}
	}

	m.emit(ProgressEvent{SessionID: s.ID, Kind: EventStageStarted, Stage: stage.Name, Index: s.ActiveStage})
	start := time.Now()

	handle, err := m.generator.Generate(ctx, req)
	if err == nil && handle.Empty() {
		err = generation.NewError(generation.CodeMalformed, "generator returned an empty artifact", nil)
	}
	if err != nil {
		genErr := generation.Classify(err)
		m.logger.Warn("stage failed",
			"session_id", s.ID, "stage", stage.Name, "code", genErr.Code, "error", genErr)
		m.emit(ProgressEvent{SessionID: s.ID, Kind: EventStageFailed, Stage: stage.Name, Index: s.ActiveStage, Message: genErr.Error()})
		return s, genErr
	}

	m.logger.Info("stage done",
		"session_id", s.ID, "stage", stage.Name, "artifact", handle, "duration", time.Since(start))
	m.emit(ProgressEvent{SessionID: s.ID, Kind: EventStageDone, Stage: stage.Name, Index: s.ActiveStage, Artifact: handle})

	next := s.clone()
	next.Results[StageKey(s.ActiveStage)] = StepResult{Artifact: handle, Outcome: OutcomeDone}
	return m.advance(next), nil
}

// Skip records the active stage as skipped and advances without generating. The first stage
// cannot be skipped because it produces the base artifact.
func (m *Machine) Skip(s Session) (Session, error) {
	if s.Phase != PhaseRunning {
		return s, &ConfigurationError{Op: "skip", Message: fmt.Sprintf("session is %s", s.Phase)}
	}
	stage, err := m.activeStage(s)
	if err != nil {
		return s, err
	}
	if s.ActiveStage == 0 {
		return s, &InvalidTransitionError{Op: "skip", From: 0, To: 1, Message: "the first stage cannot be skipped"}
	}

	m.logger.Info("stage skipped", "session_id", s.ID, "stage", stage.Name)
	m.emit(ProgressEvent{SessionID: s.ID, Kind: EventStageSkipped, Stage: stage.Name, Index: s.ActiveStage})

	next := s.clone()
	next.Results[StageKey(s.ActiveStage)] = StepResult{Outcome: OutcomeSkipped}
	return m.advance(next), nil
}

// GoTo moves back to target, removing the result of target and of every stage after it.
// Every later request was derived from what is being revisited, so none of it stays
// authoritative. target may equal the active stage; the map is then unchanged but a
// finished session returns to running.
func (m *Machine) GoTo(s Session, target int) (Session, error) {
	if s.Phase == PhaseConfiguring {
		return s, &ConfigurationError{Op: "goto", Message: "session has not started"}
	}
	if target < 0 || target >= len(m.stages) {
		return s, &InvalidTransitionError{Op: "goto", From: s.ActiveStage, To: target, Message: "no such stage"}
	}
	if target > s.ActiveStage {
		return s, &InvalidTransitionError{Op: "goto", From: s.ActiveStage, To: target, Message: "cannot move ahead of the active stage"}
	}

	next := s.clone()
	removed := 0
	for key := range next.Results {
		if int(key) >= target {
			delete(next.Results, key)
			removed++
		}
	}
	next.ActiveStage = target
	next.Phase = PhaseRunning

	m.logger.Info("stages invalidated",
		"session_id", s.ID, "target", m.stages[target].Name, "removed", removed)
	m.emit(ProgressEvent{
		SessionID: s.ID,
		Kind:      EventInvalidated,
		Stage:     m.stages[target].Name,
		Index:     target,
		Message:   fmt.Sprintf("removed %d results", removed),
	})
	return next, nil
}

// FinishEarly ends a running session without attempting the remaining stages. The output
// is LatestDoneArtifact.
func (m *Machine) FinishEarly(s Session) (Session, error) {
	if s.Phase != PhaseRunning {
		return s, &ConfigurationError{Op: "finish", Message: fmt.Sprintf("session is %s", s.Phase)}
	}
	next := s.clone()
	next.Phase = PhaseFinished
	m.finished(next)
	return next, nil
}

// Reset discards a session and returns the configuring state.
func (m *Machine) Reset() Session {
	return Session{Phase: PhaseConfiguring, Results: make(map[StageKey]StepResult)}
}

// advance moves past the active stage after a result has been recorded for it.
func (m *Machine) advance(s Session) Session {
	if s.ActiveStage >= len(m.stages)-1 {
		s.Phase = PhaseFinished
		m.finished(s)
		return s
	}
	s.ActiveStage++
	return s
}

func (m *Machine) finished(s Session) {
	artifact, _ := LatestDoneArtifact(s)
	m.logger.Info("session finished", "session_id", s.ID, "artifact", artifact)
	m.emit(ProgressEvent{SessionID: s.ID, Kind: EventFinished, Index: s.ActiveStage, Artifact: artifact})
}

func (m *Machine) activeStage(s Session) (StageDefinition, error) {
	if s.ActiveStage < 0 || s.ActiveStage >= len(m.stages) {
		return StageDefinition{}, &ConfigurationError{
			Op:      "stage",
			Message: fmt.Sprintf("active stage %d out of range", s.ActiveStage),
		}
	}
	return m.stages[s.ActiveStage], nil
}

func (m *Machine) emit(event ProgressEvent) {
	if m.onProgress != nil {
		m.onProgress(event)
	}
}
