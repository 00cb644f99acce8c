// Package batch drives a fixed set of independent generation jobs one at a time with a
// courtesy delay between them. A failing job is recorded and the loop moves on; failed jobs
// can be retried individually; a run can be cancelled between jobs.
package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/post-studio/internal/generation"
	"github.com/jonathan/post-studio/internal/prompts"
	"github.com/jonathan/post-studio/internal/types"
)

// Quantity bounds for a launch.
const (
	MinQuantity = 1
	MaxQuantity = 10
)

// DefaultDelay is the pause between two consecutive jobs.
const DefaultDelay = 4 * time.Second

// Waiter pauses for d. It returns early when ctx is done or cancelled is closed.
type Waiter func(ctx context.Context, d time.Duration, cancelled <-chan struct{})

// Orchestrator launches and drives batch runs. It keeps no per-run state.
type Orchestrator struct {
	generator  generation.Generator
	captions   generation.CaptionGenerator
	delay      time.Duration
	wait       Waiter
	logger     *slog.Logger
	onProgress ProgressCallback
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDelay sets the inter-job delay.
func WithDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.delay = d }
}

// WithWaiter replaces the timer used for the inter-job delay.
func WithWaiter(w Waiter) Option {
	return func(o *Orchestrator) { o.wait = w }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithProgress registers a callback for progress events.
func WithProgress(cb ProgressCallback) Option {
	return func(o *Orchestrator) { o.onProgress = cb }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(generator generation.Generator, captions generation.CaptionGenerator, opts ...Option) (*Orchestrator, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if captions == nil {
		return nil, fmt.Errorf("caption generator is required")
	}
	o := &Orchestrator{
		generator: generator,
		captions:  captions,
		delay:     DefaultDelay,
		wait:      sleep,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func sleep(ctx context.Context, d time.Duration, cancelled <-chan struct{}) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-cancelled:
	case <-ctx.Done():
	}
}

// Launch asks the CaptionGenerator for quantity variations in a single call and creates a run
// with one Pending job per variation. Captions must be distinct. A caption failure is
// returned as *generation.Error and no run is created.
func (o *Orchestrator) Launch(ctx context.Context, topic types.TopicContext, quantity int) (*Run, error) {
	if quantity < MinQuantity || quantity > MaxQuantity {
		return nil, &ConfigurationError{
			Op:      "launch",
			Message: fmt.Sprintf("quantity must be between %d and %d, got %d", MinQuantity, MaxQuantity, quantity),
		}
	}
	if err := topic.Validate(); err != nil {
		return nil, &ConfigurationError{Op: "launch", Message: "topic incomplete", Cause: err}
	}

	variations, err := o.captions.GenerateMany(ctx, topic, quantity)
	if err != nil {
		genErr := generation.Classify(err)
		o.logger.Warn("caption generation failed", "topic", topic.Topic, "code", genErr.Code, "error", genErr)
		return nil, genErr
	}
	if err := checkVariations(variations, quantity); err != nil {
		o.logger.Warn("caption generation returned unusable variations", "topic", topic.Topic, "error", err)
		return nil, err
	}

	jobs := make([]Job, quantity)
	for i, v := range variations {
		req, err := jobRequest(topic, v, i, quantity)
		if err != nil {
			return nil, &ConfigurationError{Op: "launch", Message: "could not build job request", Cause: err}
		}
		jobs[i] = Job{Index: i, Caption: v.Caption, Request: req, Status: StatusPending}
	}

	run := newRun(topic, jobs)
	o.logger.Info("batch launched", "run_id", run.ID, "topic", topic.Topic, "quantity", quantity)
	return run, nil
}

func checkVariations(variations []generation.Variation, quantity int) error {
	if len(variations) != quantity {
		return generation.NewError(generation.CodeMalformed,
			fmt.Sprintf("expected %d variations, got %d", quantity, len(variations)), nil)
	}
	seen := make(map[string]int, len(variations))
	for i, v := range variations {
		// Captions differing only in case or surrounding whitespace are the same caption.
		key := strings.ToLower(strings.TrimSpace(v.Caption))
		if key == "" {
			return generation.NewError(generation.CodeMalformed, fmt.Sprintf("variation %d has no caption", i), nil)
		}
		if prev, dup := seen[key]; dup {
			return generation.NewError(generation.CodeMalformed,
				fmt.Sprintf("variations %d and %d share the same caption", prev, i), nil)
		}
		seen[key] = i
	}
	return nil
}

func jobRequest(topic types.TopicContext, v generation.Variation, index, quantity int) (generation.Request, error) {
	imagePrompt := v.Prompt
	if imagePrompt == "" {
		imagePrompt = v.Caption
	}
	prompt, err := prompts.Render("captions.json", "variation-image", map[string]string{
		"ImagePrompt": imagePrompt,
		"Style":       topic.Style,
		"Tone":        topic.Tone,
		"AspectRatio": topic.AspectRatio,
		"Platform":    topic.Platform,
	})
	if err != nil {
		return generation.Request{}, err
	}
	return generation.Request{
		Prompt: prompt,
		Params: map[string]string{
			"aspect_ratio": topic.AspectRatio,
			"platform":     topic.Platform,
			"variant":      strconv.Itoa(index+1) + "/" + strconv.Itoa(quantity),
		},
	}, nil
}

// Advance runs jobs from the cursor until every job has been attempted or the run is
// cancelled. Jobs run strictly in index order and a failure is recorded on its job without
// stopping the loop. Cancellation, of the run or of ctx, is honoured only between jobs: a job
// that has started always records its result. Advance returns ctx's error when ctx ended the
// loop and a *ConfigurationError when another caller is already using the run.
func (o *Orchestrator) Advance(ctx context.Context, run *Run) error {
	if !run.busy.TryAcquire(1) {
		return &ConfigurationError{Op: "advance", Message: "run is busy"}
	}
	defer run.busy.Release(1)

	callCtx := context.WithoutCancel(ctx)
	total := run.Len()

	for {
		if err := ctx.Err(); err != nil {
			o.logger.Info("batch interrupted", "run_id", run.ID, "error", err)
			return err
		}
		index, ok := run.next()
		if !ok {
			break
		}

		req := run.markGenerating(index)
		o.emit(ProgressEvent{RunID: run.ID, Kind: EventJobGenerating, Index: index, Status: StatusGenerating})

		job, _ := o.generate(callCtx, run, index, req)
		o.emitJob(run, job)

		if index < total-1 && !run.token.Cancelled() {
			o.wait(ctx, o.delay, run.token.Done())
		}
		run.advanceCursor()
	}

	summary := run.Summary()
	if run.token.Cancelled() {
		o.logger.Info("batch cancelled", "run_id", run.ID, "summary", summary.String())
		o.emit(ProgressEvent{RunID: run.ID, Kind: EventRunCancelled, Index: -1, Message: summary.String(), Summary: &summary})
		return nil
	}
	o.logger.Info("batch complete", "run_id", run.ID, "summary", summary.String())
	o.emit(ProgressEvent{RunID: run.ID, Kind: EventRunComplete, Index: -1, Message: summary.String(), Summary: &summary})
	return nil
}

// Retry regenerates one failed job outside the loop. Only that job changes; the cursor and
// every other job are left alone. A repeat failure is recorded on the job and returned.
func (o *Orchestrator) Retry(ctx context.Context, run *Run, index int) (Job, error) {
	if !run.busy.TryAcquire(1) {
		return Job{}, &ConfigurationError{Op: "retry", Message: "run is busy"}
	}
	defer run.busy.Release(1)

	job, ok := run.Job(index)
	if !ok {
		return Job{}, &ConfigurationError{Op: "retry", Message: fmt.Sprintf("no job at index %d", index)}
	}
	if job.Status != StatusError {
		return job, &ConfigurationError{Op: "retry", Message: fmt.Sprintf("job %d is %s, only failed jobs can be retried", index, job.Status)}
	}

	o.logger.Info("retrying job", "run_id", run.ID, "index", index)
	req := run.markGenerating(index)
	o.emit(ProgressEvent{RunID: run.ID, Kind: EventJobGenerating, Index: index, Status: StatusGenerating})

	job, genErr := o.generate(ctx, run, index, req)
	o.emitJob(run, job)
	if genErr != nil {
		return job, genErr
	}
	return job, nil
}

// generate performs one Generator call and records the outcome on the job.
func (o *Orchestrator) generate(ctx context.Context, run *Run, index int, req generation.Request) (Job, *generation.Error) {
	start := time.Now()
	handle, err := o.generator.Generate(ctx, req)
	if err == nil && handle.Empty() {
		err = generation.NewError(generation.CodeMalformed, "generator returned an empty artifact", nil)
	}
	if err != nil {
		genErr := generation.Classify(err)
		o.logger.Warn("job failed",
			"run_id", run.ID, "index", index, "code", genErr.Code, "error", genErr, "duration", time.Since(start))
		return run.record(index, "", genErr), genErr
	}
	o.logger.Info("job done", "run_id", run.ID, "index", index, "artifact", handle, "duration", time.Since(start))
	return run.record(index, handle, nil), nil
}

func (o *Orchestrator) emitJob(run *Run, job Job) {
	kind := EventJobDone
	if job.Status == StatusError {
		kind = EventJobError
	}
	o.emit(ProgressEvent{
		RunID:    run.ID,
		Kind:     kind,
		Index:    job.Index,
		Status:   job.Status,
		Artifact: job.Artifact,
		Message:  job.ErrorDetail,
	})
}

func (o *Orchestrator) emit(event ProgressEvent) {
	if o.onProgress != nil {
		o.onProgress(event)
	}
}
