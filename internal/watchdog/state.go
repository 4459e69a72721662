// internal/watchdog/state.go
package watchdog

// State is a step of the login flow.
type State int

const (
	StateStart State = iota
	StateNavigated
	StateAwaitingLoginOrLanding
	StateLoggingIn
	StateAlreadyAuthenticated
	StateAwaitingLanding
	StateVerifiedEnd
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateStart:                  "start",
	StateNavigated:              "navigated",
	StateAwaitingLoginOrLanding: "awaiting-login-or-landing",
	StateLoggingIn:              "logging-in",
	StateAlreadyAuthenticated:   "already-authenticated",
	StateAwaitingLanding:        "awaiting-landing",
	StateVerifiedEnd:            "verified-end",
	StateDone:                   "done",
	StateFailed:                 "failed",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// transitions lists the legal successors of every non-terminal state.
// Failed is reachable from all of them.
var transitions = map[State][]State{
	StateStart:                  {StateNavigated},
	StateNavigated:              {StateAwaitingLoginOrLanding},
	StateAwaitingLoginOrLanding: {StateLoggingIn, StateAlreadyAuthenticated},
	StateLoggingIn:              {StateAwaitingLanding},
	StateAlreadyAuthenticated:   {StateAwaitingLanding},
	StateAwaitingLanding:        {StateVerifiedEnd},
	StateVerifiedEnd:            {StateDone},
}

// canTransition reports whether from -> to is a legal step.
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
