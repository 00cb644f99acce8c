package generation

import (
	"context"
	"time"

	"github.com/jonathan/post-studio/internal/types"
)

// WithTimeout bounds every call of g with its own deadline. A zero or negative timeout
// returns g unchanged.
func WithTimeout(g Generator, timeout time.Duration) Generator {
	if timeout <= 0 {
		return g
	}
	return GeneratorFunc(func(ctx context.Context, req Request) (Handle, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		handle, err := g.Generate(callCtx, req)
		if err != nil {
			return "", Classify(err)
		}
		return handle, nil
	})
}

// CaptionsWithTimeout is WithTimeout for CaptionGenerator.
func CaptionsWithTimeout(c CaptionGenerator, timeout time.Duration) CaptionGenerator {
	if timeout <= 0 {
		return c
	}
	return &timedCaptions{next: c, timeout: timeout}
}

type timedCaptions struct {
	next    CaptionGenerator
	timeout time.Duration
}

func (t *timedCaptions) GenerateMany(ctx context.Context, topic types.TopicContext, count int) ([]Variation, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	variations, err := t.next.GenerateMany(callCtx, topic, count)
	if err != nil {
		return nil, Classify(err)
	}
	return variations, nil
}
