package pipeline

import (
	"github.com/google/uuid"

	"github.com/jonathan/post-studio/internal/generation"
)

// Progress event kinds.
const (
	EventStageStarted = "stage_started"
	EventStageDone    = "stage_done"
	EventStageFailed  = "stage_failed"
	EventStageSkipped = "stage_skipped"
	EventInvalidated  = "invalidated"
	EventFinished     = "finished"
)

// ProgressEvent represents a transition observed while a session changes.
type ProgressEvent struct {
	SessionID uuid.UUID         `json:"session_id"`
	Kind      string            `json:"kind"`
	Stage     string            `json:"stage,omitempty"`
	Index     int               `json:"index"`
	Artifact  generation.Handle `json:"artifact,omitempty"`
	Message   string            `json:"message,omitempty"`
}

// ProgressCallback is called synchronously for every ProgressEvent.
type ProgressCallback func(event ProgressEvent)
