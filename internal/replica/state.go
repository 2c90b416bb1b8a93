package replica

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSequenceGap means one or more events were lost.
	ErrSequenceGap = errors.New("sequence gap")

	// ErrSnapshotFetch wraps failures of the snapshot source.
	ErrSnapshotFetch = errors.New("snapshot fetch failed")

	ErrAlreadyStarted = errors.New("replica already started")
	ErrClosed         = errors.New("replica closed")
)

// State is the lifecycle state of a replica.
type State int32

const (
	Uninitialized State = iota
	Syncing
	Live
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Syncing:
		return "syncing"
	case Live:
		return "live"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Action is the gate decision for one event.
type Action uint8

const (
	Drop Action = iota + 1
	Apply
	GapResync
	AlreadySyncing
)

func (a Action) String() string {
	switch a {
	case Drop:
		return "drop"
	case Apply:
		return "apply"
	case GapResync:
		return "gap_resync"
	case AlreadySyncing:
		return "already_syncing"
	default:
		return "unknown"
	}
}

// Classify compares an incoming sequence with the last applied one.
func Classify(current, incoming int64) Action {
	switch {
	case incoming <= current:
		return Drop
	case incoming == current+1:
		return Apply
	default:
		return GapResync
	}
}

// Eviction selects which event is discarded when the resync buffer is full.
type Eviction uint8

const (
	// DropOldest keeps the newest events. Losing old events usually forces
	// another resync after replay.
	DropOldest Eviction = iota
	DropNewest
)

// ParseEviction parses "drop_oldest" or "drop_newest". Empty means DropOldest.
func ParseEviction(s string) (Eviction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop_oldest":
		return DropOldest, nil
	case "drop_newest":
		return DropNewest, nil
	default:
		return 0, fmt.Errorf("unknown eviction policy %q", s)
	}
}

func (e Eviction) String() string {
	if e == DropNewest {
		return "drop_newest"
	}
	return "drop_oldest"
}
