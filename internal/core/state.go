// Package core holds the per-session and per-client state the relay
// engine fans out to. It owns no sockets; transport adapters do.
package core

// State is the lifecycle of a client handle. Transitions only move
// forward; a Closed handle is never reactivated.
type State int32

const (
	StateJoining State = iota
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return "invalid"
}
