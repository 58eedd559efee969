package child

import "sync/atomic"

// State machine: NotStarted -> Running -> {GracefulExit, FatalExit, ForcedKill}.
// Running -> GracefulExit happens only through exit code 0.
// Running -> FatalExit happens through any other exit code.
// Running -> ForcedKill happens only when cancellation fired first and the
// grace period elapsed.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateGracefulExit
	StateFatalExit
	StateForcedKill
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateGracefulExit:
		return "graceful_exit"
	case StateFatalExit:
		return "fatal_exit"
	case StateForcedKill:
		return "forced_kill"
	default:
		return "unknown"
	}
}

type stateVar struct {
	v atomic.Int32
}

func (sv *stateVar) set(s State) { sv.v.Store(int32(s)) }
func (sv *stateVar) get() State  { return State(sv.v.Load()) }
