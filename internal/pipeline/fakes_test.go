package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonathan/post-studio/internal/generation"
	"github.com/jonathan/post-studio/internal/types"
)

// scriptedGenerator returns handles in order and records every request it sees.
// Entries in failAt make the call with that sequence number fail.
type scriptedGenerator struct {
	mu       sync.Mutex
	handles  []generation.Handle
	failAt   map[int]error
	calls    int
	requests []generation.Request
}

func newScriptedGenerator(handles ...generation.Handle) *scriptedGenerator {
	return &scriptedGenerator{handles: handles, failAt: map[int]error{}}
}

func (g *scriptedGenerator) Generate(_ context.Context, req generation.Request) (generation.Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.calls
	g.calls++
	g.requests = append(g.requests, req.Clone())
	if err, ok := g.failAt[n]; ok {
		return "", err
	}
	if n < len(g.handles) {
		return g.handles[n], nil
	}
	return generation.Handle(fmt.Sprintf("mem://artifact-%d", n)), nil
}

func (g *scriptedGenerator) lastRequest() generation.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

func testConfig() types.CreativeConfig {
	return types.CreativeConfig{
		TopicContext: types.TopicContext{
			Topic:       "Autumn coffee launch",
			Platform:    "instagram",
			Style:       "watercolor",
			Tone:        "warm",
			AspectRatio: "4:5",
		},
		Caption: "Sip into the season.",
	}
}

// maskInput satisfies masked stages and is harmless for the others.
func maskInput() *StageInput {
	return &StageInput{References: []generation.Handle{"mem://mask"}}
}
