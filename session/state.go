package session

import "fmt"

// State is the lifecycle state of a Session.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFaulted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFaulted:
		return "faulted"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}
