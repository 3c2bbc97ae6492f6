package session

// State is the per-call lifecycle. BOOKED, ESCALATED, and ENDED are
// terminal for booking and escalation purposes; the caller may keep
// talking afterward without re-entering booking logic.
type State int

const (
	StateNew State = iota
	StateInProgress
	StateBooked
	StateEscalated
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateInProgress:
		return "IN_PROGRESS"
	case StateBooked:
		return "BOOKED"
	case StateEscalated:
		return "ESCALATED"
	case StateEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether booking/escalation work is finished.
func (s State) Terminal() bool {
	return s == StateBooked || s == StateEscalated || s == StateEnded
}

var validTransitions = map[State][]State{
	StateNew:        {StateInProgress},
	StateInProgress: {StateInProgress, StateBooked, StateEscalated, StateEnded},
	StateBooked:     {StateEnded},
	StateEscalated:  {StateEnded},
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports a disallowed state change attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid call state transition from " + e.From.String() + " to " + e.To.String()
}
