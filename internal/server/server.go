package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/post-studio/internal/batch"
	"github.com/jonathan/post-studio/internal/config"
	"github.com/jonathan/post-studio/internal/generation"
	"github.com/jonathan/post-studio/internal/pipeline"
	"github.com/jonathan/post-studio/internal/server/middleware"
	"github.com/jonathan/post-studio/internal/server/ratelimit"
	"github.com/jonathan/post-studio/internal/storage"
)

const (
	maxBodyBytes      = 1 << 20
	maxUploadBytes    = 20 << 20
	shutdownTimeout   = 30 * time.Second
	keepAliveInterval = 15 * time.Second
)

// Config holds server configuration and collaborators.
type Config struct {
	Port       int
	BatchDelay time.Duration
	SessionTTL time.Duration
	Stages     []pipeline.StageDefinition // defaults to pipeline.DefaultStages

	Generator generation.Generator
	Captions  generation.CaptionGenerator
	Store     storage.Store
	History   EventStore        // optional
	JWT       *config.JWTConfig // optional; enables bearer auth
	RateLimit *ratelimit.Config // defaults to ratelimit.LoadConfig
	Logger    *slog.Logger

	waiter batch.Waiter
}

// Server represents the HTTP server
type Server struct {
	httpServer   *http.Server
	logger       *slog.Logger
	machine      *pipeline.Machine
	orchestrator *batch.Orchestrator
	captions     generation.CaptionGenerator
	store        storage.Store
	events       EventStore
	history      *historyRecorder
	sessions     *registry[pipeline.Session]
	batches      *registry[*batchState]
	broker       *broker
	rateLimiter  *ratelimit.Limiter
	jwtService   *JWTService
	ttl          time.Duration
	keepAlive    time.Duration

	// baseCtx bounds the background batch loops; it ends on shutdown.
	baseCtx    context.Context
	cancelBase context.CancelFunc
	loops      sync.WaitGroup
}

// New creates a new server instance
func New(cfg Config) (*Server, error) {
	if cfg.Generator == nil || cfg.Captions == nil {
		return nil, fmt.Errorf("generator and caption generator are required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	stages := cfg.Stages
	if stages == nil {
		stages = pipeline.DefaultStages()
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		logger:     logger,
		captions:   cfg.Captions,
		store:      cfg.Store,
		events:     cfg.History,
		sessions:   newRegistry[pipeline.Session]("session", cfg.SessionTTL),
		batches:    newRegistry[*batchState]("batch", cfg.SessionTTL),
		broker:     newBroker(),
		ttl:        cfg.SessionTTL,
		keepAlive:  keepAliveInterval,
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	if cfg.History != nil {
		s.history = &historyRecorder{store: cfg.History, logger: logger}
	}
	s.batches.active = func(b *batchState) bool { return b.running() }
	s.batches.onEvict = func(b *batchState) { b.run.Cancel() }

	machine, err := pipeline.NewMachine(stages, cfg.Generator,
		pipeline.WithLogger(logger),
		pipeline.WithProgress(s.onSessionProgress),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	s.machine = machine

	opts := []batch.Option{
		batch.WithDelay(cfg.BatchDelay),
		batch.WithLogger(logger),
		batch.WithProgress(s.onBatchProgress),
	}
	if cfg.waiter != nil {
		opts = append(opts, batch.WithWaiter(cfg.waiter))
	}
	orchestrator, err := batch.NewOrchestrator(cfg.Generator, cfg.Captions, opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	s.orchestrator = orchestrator

	rl := cfg.RateLimit
	if rl == nil {
		rl = ratelimit.LoadConfig()
	}
	s.rateLimiter = ratelimit.NewLimiter(rl)

	if cfg.JWT != nil {
		s.jwtService = NewJWTService(cfg.JWT)
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: stage runs wait on the generator and batch streams stay open.
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /stages", s.handleStages)
	api.HandleFunc("POST /captions", s.handleCaptions)

	api.HandleFunc("POST /sessions", s.handleCreateSession)
	api.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	api.HandleFunc("POST /sessions/{id}/run", s.handleRunStage)
	api.HandleFunc("POST /sessions/{id}/skip", s.handleSkipStage)
	api.HandleFunc("POST /sessions/{id}/goto", s.handleGoToStage)
	api.HandleFunc("POST /sessions/{id}/finish", s.handleFinishSession)
	api.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)

	api.HandleFunc("POST /batches", s.handleCreateBatch)
	api.HandleFunc("GET /batches/{id}", s.handleGetBatch)
	api.HandleFunc("GET /batches/{id}/stream", s.handleStreamBatch)
	api.HandleFunc("POST /batches/{id}/cancel", s.handleCancelBatch)
	api.HandleFunc("POST /batches/{id}/jobs/{index}/retry", s.handleRetryJob)
	api.HandleFunc("GET /batches/{id}/completed", s.handleCompletedJobs)
	api.HandleFunc("DELETE /batches/{id}", s.handleDeleteBatch)

	api.HandleFunc("POST /artifacts", s.handleUploadArtifact)
	api.HandleFunc("GET /artifacts/{scheme}/{bucket}/{key...}", s.handleArtifact)
	api.HandleFunc("GET /history/{id}", s.handleHistory)

	var protected http.Handler = api
	if s.jwtService != nil {
		protected = middleware.AuthMiddleware(s.jwtService.AsTokenValidator())(api)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("/", protected)

	return s.withRateLimit(s.withLogging(s.withCORS(mux)))
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is done, then shuts down gracefully. Idle sessions and runs are
// evicted in the background while serving.
func (s *Server) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.evictLoop(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Shutdown stops accepting requests, ends batch loops at their next boundary and waits for
// them until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelBase()
	defer s.rateLimiter.Stop()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	done := make(chan struct{})
	go func() {
		s.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("batch loops still running: %w", ctx.Err())
	}
}

func (s *Server) evictLoop(ctx context.Context) {
	if s.ttl <= 0 {
		<-ctx.Done()
		return
	}
	interval := min(max(s.ttl/4, time.Second), time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions, batches := s.sessions.sweep(), s.batches.sweep()
			if sessions+batches > 0 {
				s.logger.Info("evicted idle state", "sessions", sessions, "batches", batches)
			}
		}
	}
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for request logging. It forwards Flush so
// event streams keep working through the middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"duration", time.Since(start))
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(s.extractClientID(r), r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractClientID returns the client IP from RemoteAddr.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
	}
}

func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
	}
	if !info.ResetTime.IsZero() {
		response["reset_at"] = info.ResetTime.Format(time.RFC3339)
	}
	if info.RetryAfter > 0 {
		seconds := int(info.RetryAfter.Seconds()) + 1
		response["retry_after"] = seconds
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	s.logger.Warn("rate limit exceeded", "limit", info.Limit, "retry_after", info.RetryAfter)
	s.jsonResponse(w, http.StatusTooManyRequests, response)
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// writeError maps err to its status and writes it with its kind and, for generation
// failures, the failure code.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	body := map[string]any{
		"error": err.Error(),
		"kind":  errorKind(err),
	}
	if code := generation.CodeOf(err); code != "" {
		body["code"] = code
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.jsonResponse(w, status, body)
}

// decodeJSON decodes a required JSON body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &ErrValidation{Message: "invalid request body: " + err.Error(), Cause: err}
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return &ErrValidation{Message: "invalid request body: " + err.Error(), Cause: err}
}
