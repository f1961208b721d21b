package session

import (
	"encoding/json"
	"fmt"
)

// State is the connection lifecycle position. Transport-reported link
// loss moves to StateDisconnected from anywhere and outranks every
// pending timer.
type State int

const (
	StateDisconnected State = iota
	StateScanning
	StateConnecting
	StateReady
	StateRunning
	StateStopping
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalJSON renders the state by name; the numeric value is an
// implementation detail.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Connected reports whether a live link exists in this state.
func (s State) Connected() bool {
	switch s {
	case StateReady, StateRunning, StateStopping:
		return true
	default:
		return false
	}
}
