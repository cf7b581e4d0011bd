package session

import "fmt"

// State is the session lifecycle state. Failed and Closed are terminal:
// no transition leaves them.
type State uint8

const (
	StateIdle State = iota
	StateNegotiating
	StateHandshaking
	StateEstablished
	StateRekeying
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateRekeying:
		return "rekeying"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

var transitions = map[State][]State{
	StateIdle:        {StateNegotiating, StateClosed, StateFailed},
	StateNegotiating: {StateHandshaking, StateFailed, StateClosed},
	StateHandshaking: {StateEstablished, StateFailed, StateClosed},
	StateEstablished: {StateRekeying, StateFailed, StateClosed},
	StateRekeying:    {StateEstablished, StateFailed, StateClosed},
}

// transition moves the session to a new state, enforcing the lifecycle
// graph. Callers hold s.mu.
func (s *Session) transition(to State) {
	for _, allowed := range transitions[s.state] {
		if allowed == to {
			s.state = to
			return
		}
	}
	panic(fmt.Sprintf("session: invalid transition %s -> %s", s.state, to))
}
