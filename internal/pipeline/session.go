package pipeline

import (
	"fmt"
	"maps"

	"github.com/google/uuid"

	"github.com/jonathan/post-studio/internal/generation"
	"github.com/jonathan/post-studio/internal/types"
)

// Phase is the lifecycle position of a session.
type Phase string

const (
	PhaseConfiguring Phase = "configuring"
	PhaseRunning     Phase = "running"
	PhaseFinished    Phase = "finished"
)

// Outcome records how a stage was left.
type Outcome string

const (
	OutcomeDone    Outcome = "done"
	OutcomeSkipped Outcome = "skipped"
)

// StepResult is the record kept for an attempted stage. Skipped results carry no artifact.
type StepResult struct {
	Artifact generation.Handle `json:"artifact,omitempty"`
	Outcome  Outcome           `json:"outcome"`
}

// Session is the state of one editing session. It is a value: every transition returns a
// new Session and never mutates the one it was given.
type Session struct {
	ID          uuid.UUID               `json:"id"`
	Config      types.CreativeConfig    `json:"config"`
	ActiveStage int                     `json:"active_stage"`
	Phase       Phase                   `json:"phase"`
	Results     map[StageKey]StepResult `json:"results"`
}

// Result returns the result recorded for the stage at index, if any.
func (s Session) Result(index int) (StepResult, bool) {
	r, ok := s.Results[StageKey(index)]
	return r, ok
}

// clone copies the session including its result map.
func (s Session) clone() Session {
	out := s
	out.Results = maps.Clone(s.Results)
	if out.Results == nil {
		out.Results = make(map[StageKey]StepResult)
	}
	return out
}

// LatestDoneArtifact returns the artifact of the highest-indexed Done stage. This is the
// pipeline's output once the session is finished.
func LatestDoneArtifact(s Session) (generation.Handle, bool) {
	maxKey := -1
	for key := range s.Results {
		if int(key) > maxKey {
			maxKey = int(key)
		}
	}
	return latestDoneBefore(s, maxKey+1)
}

// ReferenceFor returns the artifact the active stage builds on: the nearest Done result
// scanning backward from ActiveStage-1. Skipped stages are passed over. ok is false when no
// earlier stage produced an artifact, in which case the stage runs from the base context.
func ReferenceFor(s Session) (generation.Handle, bool) {
	return latestDoneBefore(s, s.ActiveStage)
}

func latestDoneBefore(s Session, index int) (generation.Handle, bool) {
	for i := index - 1; i >= 0; i-- {
		r, ok := s.Results[StageKey(i)]
		if ok && r.Outcome == OutcomeDone && !r.Artifact.Empty() {
			return r.Artifact, true
		}
	}
	return "", false
}

// Check verifies the session invariants against a pipeline of stageCount stages:
// results only exist for known stages, the chain of results has no gaps below a Done
// result, and unless finished ActiveStage is the lowest stage without a result.
func (s Session) Check(stageCount int) error {
	if s.Phase == PhaseConfiguring {
		if len(s.Results) != 0 {
			return fmt.Errorf("configuring session holds %d results", len(s.Results))
		}
		return nil
	}
	if s.ActiveStage < 0 || s.ActiveStage >= stageCount {
		return fmt.Errorf("active stage %d out of range [0,%d)", s.ActiveStage, stageCount)
	}
	for key, r := range s.Results {
		if int(key) < 0 || int(key) >= stageCount {
			return fmt.Errorf("result for unknown stage %d", key)
		}
		if r.Outcome == OutcomeDone && r.Artifact.Empty() {
			return fmt.Errorf("stage %d is done without an artifact", key)
		}
		if r.Outcome != OutcomeDone {
			continue
		}
		for i := 0; i < int(key); i++ {
			if _, ok := s.Results[StageKey(i)]; !ok {
				return fmt.Errorf("stage %d is done but stage %d has no result", key, i)
			}
		}
	}
	if s.Phase == PhaseFinished {
		return nil
	}
	lowest := stageCount
	for i := 0; i < stageCount; i++ {
		if _, ok := s.Results[StageKey(i)]; !ok {
			lowest = i
			break
		}
	}
	if s.ActiveStage != lowest {
		return fmt.Errorf("active stage %d but lowest stage without result is %d", s.ActiveStage, lowest)
	}
	return nil
}
