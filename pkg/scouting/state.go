package scouting

// State is the run controller state.
//
//	Idle ---> Streaming ---> Draining ---> Finished
//	  |          |              |
//	  +----------+--------------+--------> Aborted
//
// Idle goes straight to Finished when the stream is empty.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateDraining
	StateFinished
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStreaming:
		return "STREAMING"
	case StateDraining:
		return "DRAINING"
	case StateFinished:
		return "FINISHED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further transition can happen.
func (s State) IsTerminal() bool {
	return s == StateFinished || s == StateAborted
}

func isAllowedTransition(from, to State) bool {
	if to == StateAborted {
		return !from.IsTerminal()
	}
	switch from {
	case StateIdle:
		return to == StateStreaming || to == StateFinished
	case StateStreaming:
		return to == StateDraining || to == StateFinished
	case StateDraining:
		return to == StateFinished
	default:
		return false
	}
}
