package patann

import (
	"fmt"

	"github.com/mesibo/patann/internal/builder"
)

// State is the build state of an index.
type State int

const (
	// StateEmpty means nothing was inserted.
	StateEmpty State = iota
	// StateBuilding means inserted vectors are still being indexed.
	StateBuilding
	// StateReady means every inserted vector is indexed.
	StateReady
	// StateFailed means the build failed. The index only serves reads of
	// stored vectors afterwards.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func stateOf(s builder.State) State {
	switch s {
	case builder.StateBuilding:
		return StateBuilding
	case builder.StateReady:
		return StateReady
	case builder.StateFailed:
		return StateFailed
	default:
		return StateEmpty
	}
}

// BuildProgress reports how many inserted vectors are indexed.
type BuildProgress struct {
	Indexed int64
	Total   int64
}

// IndexEvent is delivered to the index listener after every indexed batch,
// when the index becomes ready and when the build fails.
type IndexEvent struct {
	Indexed int64
	Total   int64
	Ready   bool
	Err     error
}

// IndexListener receives index events. Events are delivered in order on a
// goroutine owned by the index. A listener must not call Destroy on the
// index it listens to.
type IndexListener func(IndexEvent)

// QueryEvent carries the outcome of an asynchronous query.
type QueryEvent struct {
	Session   *QuerySession
	IDs       []int64
	Distances []float32
	Err       error
}

// QueryListener receives the results of QueryAsync.
type QueryListener func(QueryEvent)
