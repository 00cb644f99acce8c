package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jonathan/post-studio/internal/batch"
	"github.com/jonathan/post-studio/internal/server/middleware"
	"github.com/jonathan/post-studio/internal/types"
)

// CreateBatchRequest launches a batch run.
type CreateBatchRequest struct {
	Topic    types.TopicContext `json:"topic"`
	Quantity int                `json:"quantity"`
}

// BatchResponse is a run snapshot with its launch parameters.
type BatchResponse struct {
	batch.Snapshot
	Topic     types.TopicContext `json:"topic"`
	CreatedAt time.Time          `json:"created_at"`
	Running   bool               `json:"running"`
}

// batchState pairs a run with the lifetime of its background loop.
type batchState struct {
	run  *batch.Run
	done chan struct{}
}

func (b *batchState) running() bool {
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

func (s *Server) batchView(b *batchState) BatchResponse {
	return BatchResponse{
		Snapshot:  b.run.Snapshot(),
		Topic:     b.run.Topic,
		CreatedAt: b.run.CreatedAt,
		Running:   b.running(),
	}
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := validateQuantity(req.Quantity); err != nil {
		s.writeError(w, err)
		return
	}
	if err := req.Topic.Validate(); err != nil {
		s.writeError(w, &ErrValidation{Field: "topic", Message: err.Error(), Cause: err})
		return
	}

	run, err := s.orchestrator.Launch(r.Context(), req.Topic, req.Quantity)
	if err != nil {
		s.writeError(w, err)
		return
	}

	state := &batchState{run: run, done: make(chan struct{})}
	s.batches.put(run.ID, middleware.OwnerID(r), state)
	s.startLoop(state)

	s.jsonResponse(w, http.StatusAccepted, s.batchView(state))
}

// startLoop advances the run on a background goroutine bounded by the server lifetime.
func (s *Server) startLoop(state *batchState) {
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		defer close(state.done)
		if err := s.orchestrator.Advance(s.baseCtx, state.run); err != nil {
			s.logger.Warn("batch loop stopped", "run_id", state.run.ID, "error", err)
		}
	}()
}

func (s *Server) lookupBatch(w http.ResponseWriter, r *http.Request) (*entry[*batchState], bool) {
	e, err := s.batches.get(r.PathValue("id"), middleware.OwnerID(r))
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return e, true
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookupBatch(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, s.batchView(e.load()))
}

// handleCancelBatch stops the run before its next job. A job already generating finishes.
func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookupBatch(w, r)
	if !ok {
		return
	}
	state := e.load()
	state.run.Cancel()
	s.logger.Info("batch cancel requested", "run_id", state.run.ID)
	s.jsonResponse(w, http.StatusAccepted, s.batchView(state))
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookupBatch(w, r)
	if !ok {
		return
	}
	run := e.load().run

	raw := r.PathValue("index")
	index, err := strconv.Atoi(raw)
	if err != nil {
		s.writeError(w, &ErrValidation{Field: "index", Message: "not a number: " + raw})
		return
	}
	if _, ok := run.Job(index); !ok {
		s.writeError(w, &ErrNotFound{Kind: "job", ID: raw})
		return
	}

	job, err := s.orchestrator.Retry(r.Context(), run, index)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, job)
}

func (s *Server) handleCompletedJobs(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookupBatch(w, r)
	if !ok {
		return
	}
	jobs := e.load().run.Completed()
	if jobs == nil {
		jobs = []batch.Job{}
	}
	s.jsonResponse(w, http.StatusOK, jobs)
}

// handleDeleteBatch cancels and discards a run.
func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookupBatch(w, r)
	if !ok {
		return
	}
	s.batches.remove(e.ID)
	s.logger.Info("batch discarded", "run_id", e.ID)
	w.WriteHeader(http.StatusNoContent)
}

// handleStreamBatch streams a snapshot followed by progress events until the loop ends or
// the client goes away.
func (s *Server) handleStreamBatch(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookupBatch(w, r)
	if !ok {
		return
	}
	state := e.load()

	events, unsubscribe := s.broker.subscribe(state.run.ID)
	defer unsubscribe()

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := sse.WriteEvent(sseSnapshot, s.batchView(state)); err != nil {
		return
	}

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case ev := <-events:
			if err := sse.WriteEvent(sseProgress, ev); err != nil {
				return
			}
		case <-state.done:
			// Events are published before the loop returns, so whatever is buffered belongs
			// before the final snapshot.
			if err := drainEvents(sse, events); err != nil {
				return
			}
			sse.WriteComplete(s.batchView(state))
			return
		case <-keepAlive.C:
			if err := sse.WriteComment("keep-alive"); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func drainEvents(sse *SSEWriter, events <-chan batch.ProgressEvent) error {
	for {
		select {
		case ev := <-events:
			if err := sse.WriteEvent(sseProgress, ev); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}
