package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/post-studio/internal/db"
	"github.com/jonathan/post-studio/internal/generation"
	"github.com/jonathan/post-studio/internal/server/ratelimit"
	"github.com/jonathan/post-studio/internal/storage"
	"github.com/jonathan/post-studio/internal/types"
)

// fakeGenerator stores a small artifact per call. Calls are keyed by the "stage" param for
// sessions and by "variant:<i/n>" for batch jobs.
type fakeGenerator struct {
	store *storage.MemoryStore

	mu       sync.Mutex
	failures map[string]error
	requests []generation.Request
	gate     map[string]chan struct{}
	entered  chan string
}

func newFakeGenerator(store *storage.MemoryStore) *fakeGenerator {
	return &fakeGenerator{
		store:    store,
		failures: make(map[string]error),
		gate:     make(map[string]chan struct{}),
		entered:  make(chan string, 16),
	}
}

func callKey(req generation.Request) string {
	if stage := req.Params["stage"]; stage != "" {
		return stage
	}
	return "variant:" + req.Params["variant"]
}

func (g *fakeGenerator) Generate(ctx context.Context, req generation.Request) (generation.Handle, error) {
	key := callKey(req)

	g.mu.Lock()
	g.requests = append(g.requests, req.Clone())
	failure := g.failures[key]
	gate := g.gate[key]
	g.mu.Unlock()

	if gate != nil {
		g.entered <- key
		<-gate
	}
	if failure != nil {
		return "", failure
	}
	return g.store.Put(ctx, []byte("image for "+key), "image/png")
}

func (g *fakeGenerator) fail(key string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failures, key)
		return
	}
	g.failures[key] = err
}

// block makes calls for key wait until the returned function is called.
func (g *fakeGenerator) block(key string) func() {
	ch := make(chan struct{})
	g.mu.Lock()
	g.gate[key] = ch
	g.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (g *fakeGenerator) lastRequest() generation.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type fakeCaptions struct {
	mu  sync.Mutex
	err error
}

func (c *fakeCaptions) GenerateMany(_ context.Context, topic types.TopicContext, count int) ([]generation.Variation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	out := make([]generation.Variation, count)
	for i := range out {
		out[i] = generation.Variation{
			Caption: fmt.Sprintf("%s, take %d", topic.Topic, i+1),
			Prompt:  fmt.Sprintf("%s scene %d", topic.Style, i+1),
		}
	}
	return out, nil
}

// fakeHistory is an in-memory EventStore.
type fakeHistory struct {
	mu     sync.Mutex
	events []db.Event
	err    error
}

func (h *fakeHistory) RecordEvent(_ context.Context, in *db.EventInput) (*db.Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	ev := db.Event{
		ID:          uuid.New(),
		SubjectID:   in.SubjectID,
		SubjectKind: in.SubjectKind,
		Item:        in.Item,
		Status:      in.Status,
		CreatedAt:   time.Now(),
	}
	if in.OwnerID != uuid.Nil {
		owner := in.OwnerID
		ev.OwnerID = &owner
	}
	if in.Artifact != "" {
		artifact := in.Artifact
		ev.Artifact = &artifact
	}
	if in.ErrorMessage != "" {
		msg := in.ErrorMessage
		ev.ErrorMessage = &msg
	}
	h.events = append(h.events, ev)
	return &ev, nil
}

func (h *fakeHistory) ListEvents(_ context.Context, subjectID, ownerID uuid.UUID) ([]db.Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []db.Event
	for _, ev := range h.events {
		if ev.SubjectID != subjectID {
			continue
		}
		if ownerID != uuid.Nil && (ev.OwnerID == nil || *ev.OwnerID != ownerID) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (h *fakeHistory) statuses(subjectID uuid.UUID) []string {
	events, _ := h.ListEvents(context.Background(), subjectID, uuid.Nil)
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Item + ":" + ev.Status
	}
	return out
}

// blockingWaiter holds the batch loop between jobs until the run is cancelled.
func blockingWaiter(ctx context.Context, _ time.Duration, cancelled <-chan struct{}) {
	select {
	case <-cancelled:
	case <-ctx.Done():
	}
}

type testEnv struct {
	server    *Server
	http      *httptest.Server
	store     *storage.MemoryStore
	generator *fakeGenerator
	captions  *fakeCaptions
	history   *fakeHistory
	token     string
}

type envOption func(*Config)

func withWaiter(w func(context.Context, time.Duration, <-chan struct{})) envOption {
	return func(c *Config) { c.waiter = w }
}

func withoutHistory() envOption {
	return func(c *Config) { c.History = nil }
}

func withRateLimit(rl *ratelimit.Config) envOption {
	return func(c *Config) { c.RateLimit = rl }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	store := storage.NewMemoryStore("test")
	env := &testEnv{
		store:     store,
		generator: newFakeGenerator(store),
		captions:  &fakeCaptions{},
		history:   &fakeHistory{},
	}
	cfg := Config{
		SessionTTL: time.Hour,
		Generator:  env.generator,
		Captions:   env.captions,
		Store:      store,
		History:    env.history,
		RateLimit:  &ratelimit.Config{Enabled: false},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s, err := New(cfg)
	require.NoError(t, err)
	env.server = s
	env.http = httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		env.http.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return env
}

func testTopic() types.TopicContext {
	return types.TopicContext{
		Topic:       "Autumn coffee launch",
		Platform:    "instagram",
		Style:       "watercolor",
		Tone:        "warm",
		AspectRatio: "4:5",
	}
}

// do sends a request with an optional JSON body and decodes a JSON response into out. out
// is zeroed first so maps from an earlier response are not merged into the new one.
func (e *testEnv) do(t *testing.T, method, path string, body any, out any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.http.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && len(data) > 0 {
		target := reflect.ValueOf(out).Elem()
		target.Set(reflect.Zero(target.Type()))
		require.NoError(t, json.Unmarshal(data, out), "body: %s", data)
	}
	return resp
}

// upload posts raw bytes to the artifact upload route.
func (e *testEnv) upload(t *testing.T, data []byte, contentType string, out any) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.http.URL+"/artifacts", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	resp, err := e.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

// pngMask is enough of a PNG for content sniffing.
var pngMask = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x00\x00\x00\x00")

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Code  string `json:"code"`
}
