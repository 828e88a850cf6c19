package client

import "fmt"

// State is the lifecycle state of a Session.
type State int

const (
	// StateUninitialized is the state of a Session that was not built by
	// Initialize.
	StateUninitialized State = iota
	StateReady
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
