package pipeline

import (
	"fmt"
	"time"
)

// State is the lifecycle position of one (station, endpoint) pair.
type State string

const (
	StatePending     State = "PENDING"
	StateFetching    State = "FETCHING"
	StateNormalizing State = "NORMALIZING"
	StateWriting     State = "WRITING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// next lists the legal successors of each state. There are no backward edges.
var next = map[State][]State{
	StatePending:     {StateFetching, StateFailed},
	StateFetching:    {StateNormalizing, StateFailed},
	StateNormalizing: {StateWriting, StateFailed},
	StateWriting:     {StateDone, StateFailed},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is one recorded state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// advance moves the pair to state to, recording the transition.
func (p *PairResult) advance(to State, at time.Time) error {
	if !CanTransition(p.State, to) {
		return fmt.Errorf("illegal transition %s -> %s", p.State, to)
	}
	p.Transitions = append(p.Transitions, Transition{From: p.State, To: to, At: at})
	p.State = to
	return nil
}
