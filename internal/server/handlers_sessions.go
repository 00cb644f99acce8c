package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/jonathan/post-studio/internal/generation"
	"github.com/jonathan/post-studio/internal/pipeline"
	"github.com/jonathan/post-studio/internal/server/middleware"
	"github.com/jonathan/post-studio/internal/types"
)

// CreateSessionRequest starts a pipeline session. An empty caption is generated from the
// topic before the session starts.
type CreateSessionRequest struct {
	Config types.CreativeConfig `json:"config"`
}

// GoToRequest names the stage to revisit, by index or by name.
type GoToRequest struct {
	Stage     *int   `json:"stage,omitempty"`
	StageName string `json:"stage_name,omitempty"`
}

// SessionResponse is a session with its derived output.
type SessionResponse struct {
	pipeline.Session
	StageName string            `json:"stage_name,omitempty"`
	Output    generation.Handle `json:"output,omitempty"`
	OutputURL string            `json:"output_url,omitempty"`
}

func (s *Server) sessionView(sess pipeline.Session) SessionResponse {
	resp := SessionResponse{Session: sess}
	stages := s.machine.Stages()
	if sess.Phase == pipeline.PhaseRunning && sess.ActiveStage >= 0 && sess.ActiveStage < len(stages) {
		resp.StageName = stages[sess.ActiveStage].Name
	}
	if out, ok := pipeline.LatestDoneArtifact(sess); ok {
		resp.Output = out
		resp.OutputURL = artifactURL(out)
	}
	return resp
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	cfg := req.Config
	if err := cfg.TopicContext.Validate(); err != nil {
		s.writeError(w, &ErrValidation{Field: "config", Message: err.Error(), Cause: err})
		return
	}

	if strings.TrimSpace(cfg.Caption) == "" {
		variations, err := s.captions.GenerateMany(r.Context(), cfg.TopicContext, 1)
		if err != nil {
			s.writeError(w, generation.Classify(err))
			return
		}
		if len(variations) == 0 || strings.TrimSpace(variations[0].Caption) == "" {
			s.writeError(w, generation.NewError(generation.CodeMalformed, "caption generator returned no caption", nil))
			return
		}
		cfg.Caption = variations[0].Caption
	}

	sess, err := s.machine.Start(cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sessions.put(sess.ID, middleware.OwnerID(r), sess)
	s.jsonResponse(w, http.StatusCreated, s.sessionView(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	e, err := s.sessions.get(r.PathValue("id"), middleware.OwnerID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, s.sessionView(e.load()))
}

func (s *Server) handleRunStage(w http.ResponseWriter, r *http.Request) {
	var input pipeline.StageInput
	if err := decodeOptionalJSON(w, r, &input); err != nil {
		s.writeError(w, err)
		return
	}
	s.transition(w, r, func(ctx context.Context, sess pipeline.Session) (pipeline.Session, error) {
		return s.machine.RunActiveStage(ctx, sess, &input)
	})
}

func (s *Server) handleSkipStage(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(_ context.Context, sess pipeline.Session) (pipeline.Session, error) {
		return s.machine.Skip(sess)
	})
}

func (s *Server) handleGoToStage(w http.ResponseWriter, r *http.Request) {
	var req GoToRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	target, err := s.resolveStage(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.transition(w, r, func(_ context.Context, sess pipeline.Session) (pipeline.Session, error) {
		return s.machine.GoTo(sess, target)
	})
}

func (s *Server) resolveStage(req GoToRequest) (int, error) {
	if req.StageName != "" {
		index := pipeline.StageIndex(s.machine.Stages(), req.StageName)
		if index < 0 {
			return 0, &ErrValidation{Field: "stage_name", Message: "unknown stage " + req.StageName}
		}
		return index, nil
	}
	if req.Stage == nil {
		return 0, &ErrValidation{Field: "stage", Message: "stage or stage_name is required"}
	}
	return *req.Stage, nil
}

func (s *Server) handleFinishSession(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(_ context.Context, sess pipeline.Session) (pipeline.Session, error) {
		return s.machine.FinishEarly(sess)
	})
}

// handleDeleteSession discards a session. Waiting for an in-flight stage is not possible, so
// a busy session answers 409.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	e, err := s.sessions.get(r.PathValue("id"), middleware.OwnerID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !e.busy.TryAcquire(1) {
		s.writeError(w, &ErrBusy{ID: e.ID.String()})
		return
	}
	defer e.busy.Release(1)

	s.sessions.remove(e.ID)
	s.logger.Info("session discarded", "session_id", e.ID)
	w.WriteHeader(http.StatusNoContent)
}

// transition applies op to the session named in the path. Only one transition runs per
// session at a time; a failed transition leaves the stored session as it was.
func (s *Server) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, pipeline.Session) (pipeline.Session, error)) {
	e, err := s.sessions.get(r.PathValue("id"), middleware.OwnerID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !e.busy.TryAcquire(1) {
		s.writeError(w, &ErrBusy{ID: e.ID.String()})
		return
	}
	defer e.busy.Release(1)

	next, err := op(r.Context(), e.load())
	if err != nil {
		s.writeError(w, err)
		return
	}
	e.store(next)
	s.jsonResponse(w, http.StatusOK, s.sessionView(next))
}
