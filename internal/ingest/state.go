package ingest

import "fmt"

// State is an ingestion run's lifecycle phase. Runs move forward only;
// StateFailed is reachable from any non-terminal state and, like
// StateComplete, is terminal.
type State string

// Run lifecycle states, in order.
const (
	StatePending   State = "PENDING"
	StateFetching  State = "FETCHING"
	StateRedacting State = "REDACTING"
	StateChunking  State = "CHUNKING"
	StateEmbedding State = "EMBEDDING"
	StateIndexing  State = "INDEXING"
	StateComplete  State = "COMPLETE"
	StateFailed    State = "FAILED"
)

var stateOrder = map[State]int{
	StatePending:   0,
	StateFetching:  1,
	StateRedacting: 2,
	StateChunking:  3,
	StateEmbedding: 4,
	StateIndexing:  5,
	StateComplete:  6,
	StateFailed:    7,
}

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// CanTransition reports whether moving from s to next is legal: strictly
// forward through the pipeline, with StateFailed reachable from any
// non-terminal state.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	from, ok := stateOrder[s]
	to, okNext := stateOrder[next]
	return ok && okNext && to > from && next != StateFailed
}

func (s State) String() string { return string(s) }

// transition validates and applies a state change.
func transition(current State, next State) (State, error) {
	if !current.CanTransition(next) {
		return current, fmt.Errorf("illegal run transition %s -> %s", current, next)
	}
	return next, nil
}
