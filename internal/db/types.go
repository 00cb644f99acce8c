package db

import (
	"time"

	"github.com/google/uuid"
)

// Subject kinds
const (
	SubjectSession = "session"
	SubjectBatch   = "batch"
)

// Event statuses
const (
	EventStatusDone        = "done"
	EventStatusFailed      = "failed"
	EventStatusSkipped     = "skipped"
	EventStatusInvalidated = "invalidated"
	EventStatusCancelled   = "cancelled"
	EventStatusFinished    = "finished"
)

// Event is one recorded outcome of a stage or job.
type Event struct {
	ID           uuid.UUID  `json:"id"`
	OwnerID      *uuid.UUID `json:"owner_id,omitempty"`
	SubjectID    uuid.UUID  `json:"subject_id"`
	SubjectKind  string     `json:"subject_kind"`
	Item         string     `json:"item"`
	Status       string     `json:"status"`
	Artifact     *string    `json:"artifact,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// EventInput is the data needed to record an Event. Item names the stage or the job index.
type EventInput struct {
	OwnerID      uuid.UUID
	SubjectID    uuid.UUID
	SubjectKind  string
	Item         string
	Status       string
	Artifact     string
	ErrorMessage string
}
