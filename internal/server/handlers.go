package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/post-studio/internal/batch"
	"github.com/jonathan/post-studio/internal/db"
	"github.com/jonathan/post-studio/internal/generation"
	"github.com/jonathan/post-studio/internal/server/middleware"
	"github.com/jonathan/post-studio/internal/storage"
	"github.com/jonathan/post-studio/internal/types"
)

// CaptionsRequest asks for caption variations without starting anything.
type CaptionsRequest struct {
	Topic    types.TopicContext `json:"topic"`
	Quantity int                `json:"quantity"`
}

// StageResponse describes one pipeline stage.
type StageResponse struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Label  string `json:"label"`
	Masked bool   `json:"masked,omitempty"`
}

// UploadResponse names a stored upload.
type UploadResponse struct {
	Handle generation.Handle `json:"handle"`
	URL    string            `json:"url"`
}

// HistoryResponse lists the ledger events of a session or run.
type HistoryResponse struct {
	SubjectID uuid.UUID  `json:"subject_id"`
	Events    []db.Event `json:"events"`
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.len(),
		"batches":  s.batches.len(),
		"history":  s.events != nil,
	})
}

func (s *Server) handleStages(w http.ResponseWriter, _ *http.Request) {
	stages := s.machine.Stages()
	out := make([]StageResponse, len(stages))
	for i, st := range stages {
		out[i] = StageResponse{Index: i, Name: st.Name, Label: st.Label, Masked: st.Masked}
	}
	s.jsonResponse(w, http.StatusOK, out)
}

// handleCaptions previews caption variations for a topic.
func (s *Server) handleCaptions(w http.ResponseWriter, r *http.Request) {
	var req CaptionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if err := validateQuantity(req.Quantity); err != nil {
		s.writeError(w, err)
		return
	}
	if err := req.Topic.Validate(); err != nil {
		s.writeError(w, &ErrValidation{Field: "topic", Message: err.Error(), Cause: err})
		return
	}

	variations, err := s.captions.GenerateMany(r.Context(), req.Topic, req.Quantity)
	if err != nil {
		s.writeError(w, generation.Classify(err))
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"variations": variations})
}

func validateQuantity(q int) error {
	if q < batch.MinQuantity || q > batch.MaxQuantity {
		return &ErrValidation{
			Field:   "quantity",
			Message: fmt.Sprintf("must be between %d and %d, got %d", batch.MinQuantity, batch.MaxQuantity, q),
		}
	}
	return nil
}

// handleArtifact streams a stored artifact.
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	loc := storage.Location{
		Scheme: r.PathValue("scheme"),
		Bucket: r.PathValue("bucket"),
		Key:    r.PathValue("key"),
	}
	obj, err := s.store.Get(r.Context(), loc.Handle())
	if err != nil {
		s.writeError(w, err)
		return
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	if !obj.LastModified.IsZero() {
		w.Header().Set("Last-Modified", obj.LastModified.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(obj.Data); err != nil {
		s.logger.Warn("failed to write artifact", "handle", loc.Handle(), "error", err)
	}
}

// handleUploadArtifact stores a raw image body, typically the mask for a masked edit, and
// returns the handle to pass as a stage input reference.
func (s *Server) handleUploadArtifact(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, &ErrValidation{Field: "body", Message: "could not read upload: " + err.Error(), Cause: err})
		return
	}
	handle, err := storage.PutImage(r.Context(), s.store, data)
	if errors.Is(err, storage.ErrNotImage) {
		s.writeError(w, &ErrValidation{Field: "body", Message: err.Error(), Cause: err})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("artifact uploaded", "handle", handle, "bytes", len(data))
	s.jsonResponse(w, http.StatusCreated, UploadResponse{Handle: handle, URL: artifactURL(handle)})
}

// artifactURL is the API path serving handle, or "" for handles this server cannot serve.
func artifactURL(h generation.Handle) string {
	if h.Empty() {
		return ""
	}
	loc, err := storage.ParseHandle(h)
	if err != nil {
		return ""
	}
	return "/artifacts/" + strings.Join([]string{loc.Scheme, loc.Bucket, loc.Key}, "/")
}

// handleHistory lists ledger events for a session or run.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.errorResponse(w, http.StatusNotImplemented, "history is not enabled")
		return
	}
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		s.writeError(w, &ErrNotFound{Kind: "history", ID: raw})
		return
	}

	events, err := s.events.ListEvents(r.Context(), id, middleware.OwnerID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []db.Event{}
	}
	s.jsonResponse(w, http.StatusOK, HistoryResponse{SubjectID: id, Events: events})
}
