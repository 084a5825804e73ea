package session

import "fmt"

// State is a recording session's lifecycle state.
type State string

const (
	StateIdle        State = "idle"
	StateValidating  State = "validating"
	StateNegotiating State = "negotiating"
	StateStreaming   State = "streaming"
	// StateDegraded is entered when the compositor ends the stream. It is
	// always followed immediately by StateStopped.
	StateDegraded State = "degraded"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

var transitions = map[State][]State{
	StateIdle:        {StateValidating},
	StateValidating:  {StateNegotiating, StateFailed},
	StateNegotiating: {StateStreaming, StateFailed},
	StateStreaming:   {StateStopped, StateDegraded, StateFailed},
	StateDegraded:    {StateStopped},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("session: illegal transition %s -> %s", from, to)
	}
	return nil
}
