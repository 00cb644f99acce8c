package batch

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/jonathan/post-studio/internal/generation"
	"github.com/jonathan/post-studio/internal/types"
)

// Run is one launched batch. It is owned by the caller that launched it and is only changed
// through Orchestrator methods.
type Run struct {
	ID        uuid.UUID
	Topic     types.TopicContext
	CreatedAt time.Time

	// busy admits one Generator caller at a time: the Advance loop or a single Retry.
	busy  *semaphore.Weighted
	token *CancelToken

	mu     sync.RWMutex
	jobs   []Job
	cursor int
}

// Snapshot is a read-only copy of a run's progress.
type Snapshot struct {
	ID        uuid.UUID `json:"id"`
	Jobs      []Job     `json:"jobs"`
	Cursor    int       `json:"cursor"`
	Cancelled bool      `json:"cancelled"`
	Summary   Summary   `json:"summary"`
}

func newRun(topic types.TopicContext, jobs []Job) *Run {
	return &Run{
		ID:        uuid.New(),
		Topic:     topic,
		CreatedAt: time.Now(),
		busy:      semaphore.NewWeighted(1),
		token:     NewCancelToken(),
		jobs:      jobs,
	}
}

// Cancel stops the run from starting further jobs. A job already generating still records
// its result.
func (r *Run) Cancel() {
	r.token.Cancel()
}

// Token exposes the run's cancellation token.
func (r *Run) Token() *CancelToken {
	return r.token
}

// Len returns the fixed number of jobs.
func (r *Run) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Snapshot copies the current job table.
func (r *Run) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]Job, len(r.jobs))
	for i, j := range r.jobs {
		jobs[i] = j.clone()
	}
	return Snapshot{
		ID:        r.ID,
		Jobs:      jobs,
		Cursor:    r.cursor,
		Cancelled: r.token.Cancelled(),
		Summary:   summarize(r.jobs),
	}
}

// Job returns a copy of the job at index.
func (r *Run) Job(index int) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 0 || index >= len(r.jobs) {
		return Job{}, false
	}
	return r.jobs[index].clone(), true
}

// Completed returns the Done jobs in index order.
func (r *Run) Completed() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Job
	for _, j := range r.jobs {
		if j.Status == StatusDone {
			out = append(out, j.clone())
		}
	}
	return out
}

// Summary counts the jobs by outcome.
func (r *Run) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return summarize(r.jobs)
}

// Finished reports whether the loop has nothing left to start.
func (r *Run) Finished() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cursor >= len(r.jobs) || r.token.Cancelled()
}

// next returns the cursor when another job may start.
func (r *Run) next() (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cursor >= len(r.jobs) || r.token.Cancelled() {
		return 0, false
	}
	return r.cursor, true
}

func (r *Run) markGenerating(index int) generation.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[index].Status = StatusGenerating
	return r.jobs[index].Request.Clone()
}

func (r *Run) record(index int, handle generation.Handle, genErr *generation.Error) Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	j := &r.jobs[index]
	if genErr != nil {
		j.Status = StatusError
		j.Artifact = ""
		j.ErrorDetail = genErr.Error()
		j.ErrorCode = genErr.Code
	} else {
		j.Status = StatusDone
		j.Artifact = handle
		j.ErrorDetail = ""
		j.ErrorCode = ""
	}
	return j.clone()
}

func (r *Run) advanceCursor() {
	r.mu.Lock()
	r.cursor++
	r.mu.Unlock()
}
