package batch

import (
	"fmt"

	"github.com/jonathan/post-studio/internal/generation"
)

// JobStatus is the lifecycle position of a job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusGenerating JobStatus = "generating"
	StatusDone       JobStatus = "done"
	StatusError      JobStatus = "error"
)

// Terminal reports whether the status is Done or Error.
func (s JobStatus) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Job is one independent variant of a batch. Index is its identity and never changes.
type Job struct {
	Index       int                `json:"index"`
	Caption     string             `json:"caption"`
	Request     generation.Request `json:"request"`
	Status      JobStatus          `json:"status"`
	Artifact    generation.Handle  `json:"artifact,omitempty"`
	ErrorDetail string             `json:"error_detail,omitempty"`
	ErrorCode   generation.Code    `json:"error_code,omitempty"`
}

func (j Job) clone() Job {
	j.Request = j.Request.Clone()
	return j
}

// Summary counts jobs by outcome. Jobs never attempted are not failures.
type Summary struct {
	Done         int `json:"done"`
	Failed       int `json:"failed"`
	NotAttempted int `json:"not_attempted"`
}

func (s Summary) String() string {
	if s.Failed == 0 {
		return fmt.Sprintf("%d done, %d not attempted", s.Done, s.NotAttempted)
	}
	return fmt.Sprintf("%d done, %d failed, %d not attempted", s.Done, s.Failed, s.NotAttempted)
}

func summarize(jobs []Job) Summary {
	var s Summary
	for _, j := range jobs {
		switch j.Status {
		case StatusDone:
			s.Done++
		case StatusError:
			s.Failed++
		case StatusPending:
			s.NotAttempted++
		}
	}
	return s
}
