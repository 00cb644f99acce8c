package batch

import (
	"github.com/google/uuid"

	"github.com/jonathan/post-studio/internal/generation"
)

// Progress event kinds.
const (
	EventJobGenerating = "job_generating"
	EventJobDone       = "job_done"
	EventJobError      = "job_error"
	EventRunCancelled  = "run_cancelled"
	EventRunComplete   = "run_complete"
)

// ProgressEvent describes a change to one job or to the run as a whole.
type ProgressEvent struct {
	RunID    uuid.UUID         `json:"run_id"`
	Kind     string            `json:"kind"`
	Index    int               `json:"index"`
	Status   JobStatus         `json:"status,omitempty"`
	Artifact generation.Handle `json:"artifact,omitempty"`
	Message  string            `json:"message,omitempty"`
	Summary  *Summary          `json:"summary,omitempty"`
}

// ProgressCallback is called synchronously from the goroutine driving the run.
type ProgressCallback func(event ProgressEvent)
