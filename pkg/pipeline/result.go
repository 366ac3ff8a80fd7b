package pipeline

import (
	"time"

	"github.com/transitflow/transitflow/internal/model"
)

// Status summarizes a whole run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailure Status = "failure"
)

// ExitCode maps a status to the process exit code seen by the scheduler.
func (s Status) ExitCode() int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusPartial:
		return 2
	default:
		return 1
	}
}

// PairResult is the outcome of one (station, endpoint) pair.
type PairResult struct {
	Station  model.StationRef
	Endpoint model.EndpointKind

	State       State
	Transitions []Transition

	FetchAttempts int
	WriteAttempts int

	// Fetched counts raw board entries returned by the upstream.
	Fetched  int
	Filtered int
	Skipped  int
	Records  int

	Artifact *model.StoredArtifact

	// Err and Reason are set when State is StateFailed.
	Err    error
	Reason string

	Duration time.Duration
}

func newPairResult(station model.StationRef, kind model.EndpointKind) *PairResult {
	return &PairResult{Station: station, Endpoint: kind, State: StatePending}
}

// Succeeded reports whether the pair reached StateDone.
func (p *PairResult) Succeeded() bool {
	return p.State == StateDone
}

// RunResult is the outcome of one collection pass.
type RunResult struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Pairs     []*PairResult
	Status    Status

	// Err is set when the run aborted before any pair started.
	Err error
}

// Succeeded returns the pairs that reached StateDone.
func (r *RunResult) Succeeded() []*PairResult {
	return r.filter(true)
}

// Failed returns the pairs that ended in StateFailed.
func (r *RunResult) Failed() []*PairResult {
	return r.filter(false)
}

// Skipped sums malformed records dropped across all pairs.
func (r *RunResult) Skipped() int {
	n := 0
	for _, p := range r.Pairs {
		n += p.Skipped
	}
	return n
}

func (r *RunResult) filter(done bool) []*PairResult {
	var out []*PairResult
	for _, p := range r.Pairs {
		if p.Succeeded() == done {
			out = append(out, p)
		}
	}
	return out
}

// ComputeStatus derives the run status from pair outcomes. A run with no
// successful pair is a failure.
func ComputeStatus(pairs []*PairResult) Status {
	done := 0
	for _, p := range pairs {
		if p.Succeeded() {
			done++
		}
	}
	switch {
	case done == 0:
		return StatusFailure
	case done == len(pairs):
		return StatusSuccess
	default:
		return StatusPartial
	}
}
