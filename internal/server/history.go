package server

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/post-studio/internal/batch"
	"github.com/jonathan/post-studio/internal/db"
	"github.com/jonathan/post-studio/internal/pipeline"
)

const historyWriteTimeout = 5 * time.Second

// EventStore is the history ledger. *db.DB implements it.
type EventStore interface {
	RecordEvent(ctx context.Context, input *db.EventInput) (*db.Event, error)
	ListEvents(ctx context.Context, subjectID, ownerID uuid.UUID) ([]db.Event, error)
}

// historyRecorder writes progress events to the ledger. A failed write is logged and
// otherwise ignored; the ledger never influences session or run state.
type historyRecorder struct {
	store  EventStore
	logger *slog.Logger
}

func (h *historyRecorder) record(input *db.EventInput) {
	if h == nil || h.store == nil || input == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if _, err := h.store.RecordEvent(ctx, input); err != nil {
		h.logger.Warn("failed to record history event",
			"subject_id", input.SubjectID, "item", input.Item, "status", input.Status, "error", err)
	}
}

// sessionEventInput maps a pipeline event to a ledger row. Started events are not recorded.
func sessionEventInput(ev pipeline.ProgressEvent, owner uuid.UUID) *db.EventInput {
	in := &db.EventInput{
		OwnerID:     owner,
		SubjectID:   ev.SessionID,
		SubjectKind: db.SubjectSession,
		Item:        ev.Stage,
		Artifact:    string(ev.Artifact),
	}
	switch ev.Kind {
	case pipeline.EventStageDone:
		in.Status = db.EventStatusDone
	case pipeline.EventStageFailed:
		in.Status = db.EventStatusFailed
		in.ErrorMessage = ev.Message
	case pipeline.EventStageSkipped:
		in.Status = db.EventStatusSkipped
	case pipeline.EventInvalidated:
		in.Status = db.EventStatusInvalidated
	case pipeline.EventFinished:
		in.Status = db.EventStatusFinished
		in.Item = "session"
	default:
		return nil
	}
	return in
}

// batchEventInput maps a batch event to a ledger row. Jobs are recorded by index.
func batchEventInput(ev batch.ProgressEvent, owner uuid.UUID) *db.EventInput {
	in := &db.EventInput{
		OwnerID:     owner,
		SubjectID:   ev.RunID,
		SubjectKind: db.SubjectBatch,
		Item:        strconv.Itoa(ev.Index),
		Artifact:    string(ev.Artifact),
	}
	switch ev.Kind {
	case batch.EventJobDone:
		in.Status = db.EventStatusDone
	case batch.EventJobError:
		in.Status = db.EventStatusFailed
		in.ErrorMessage = ev.Message
	case batch.EventRunCancelled:
		in.Status = db.EventStatusCancelled
		in.Item = "run"
	case batch.EventRunComplete:
		in.Status = db.EventStatusFinished
		in.Item = "run"
	default:
		return nil
	}
	return in
}

func (s *Server) onSessionProgress(ev pipeline.ProgressEvent) {
	if s.history == nil {
		return
	}
	owner, _ := s.sessions.ownerOf(ev.SessionID)
	s.history.record(sessionEventInput(ev, owner))
}

func (s *Server) onBatchProgress(ev batch.ProgressEvent) {
	if dropped := s.broker.publish(ev); dropped > 0 {
		s.logger.Debug("stream subscribers missed an event", "run_id", ev.RunID, "kind", ev.Kind, "dropped", dropped)
	}
	if s.history == nil {
		return
	}
	owner, _ := s.batches.ownerOf(ev.RunID)
	s.history.record(batchEventInput(ev, owner))
}
