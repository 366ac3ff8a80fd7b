package pipeline

import (
	"testing"
	"time"

	"github.com/transitflow/transitflow/internal/model"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StatePending, StateFetching, true},
		{StateFetching, StateNormalizing, true},
		{StateNormalizing, StateWriting, true},
		{StateWriting, StateDone, true},
		{StatePending, StateFailed, true},
		{StateFetching, StateFailed, true},
		{StateNormalizing, StateFailed, true},
		{StateWriting, StateFailed, true},
		{StatePending, StateWriting, false},
		{StateWriting, StateFetching, false},
		{StateNormalizing, StateFetching, false},
		{StateDone, StateFailed, false},
		{StateFailed, StateFetching, false},
		{StateDone, StateDone, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []State{StatePending, StateFetching, StateNormalizing, StateWriting} {
		if s.Terminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
	for _, s := range []State{StateDone, StateFailed} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}

func TestAdvanceRecordsTransitions(t *testing.T) {
	p := newPairResult(model.StationRef{Name: "Antonplatz", ID: "900140011", Key: "antonplatz"}, model.Departures)
	at := time.Date(2024, 1, 15, 7, 0, 0, 0, time.UTC)

	if err := p.advance(StateFetching, at); err != nil {
		t.Fatal(err)
	}
	if err := p.advance(StateDone, at); err == nil {
		t.Fatal("expected error skipping NORMALIZING and WRITING")
	}
	if p.State != StateFetching || len(p.Transitions) != 1 {
		t.Errorf("illegal advance must not change state: %s %v", p.State, p.Transitions)
	}
	if err := p.advance(StateFailed, at); err != nil {
		t.Fatal(err)
	}
	if err := p.advance(StateFetching, at); err == nil {
		t.Error("FAILED is terminal")
	}
}

func TestComputeStatus(t *testing.T) {
	pair := func(s State) *PairResult { return &PairResult{State: s} }

	tests := []struct {
		name  string
		pairs []*PairResult
		want  Status
		exit  int
	}{
		{"all done", []*PairResult{pair(StateDone), pair(StateDone)}, StatusSuccess, 0},
		{"some done", []*PairResult{pair(StateDone), pair(StateFailed)}, StatusPartial, 2},
		{"none done", []*PairResult{pair(StateFailed), pair(StateFailed)}, StatusFailure, 1},
		{"no pairs", nil, StatusFailure, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeStatus(tt.pairs)
			if got != tt.want {
				t.Errorf("ComputeStatus = %s, want %s", got, tt.want)
			}
			if got.ExitCode() != tt.exit {
				t.Errorf("ExitCode = %d, want %d", got.ExitCode(), tt.exit)
			}
		})
	}
}

func TestRunResultPartitions(t *testing.T) {
	r := &RunResult{Pairs: []*PairResult{
		{State: StateDone, Skipped: 1},
		{State: StateFailed, Skipped: 2},
		{State: StateDone},
	}}
	if len(r.Succeeded()) != 2 || len(r.Failed()) != 1 {
		t.Errorf("succeeded=%d failed=%d", len(r.Succeeded()), len(r.Failed()))
	}
	if r.Skipped() != 3 {
		t.Errorf("Skipped() = %d, want 3", r.Skipped())
	}
}
