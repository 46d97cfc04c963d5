package models

import "fmt"

// GroupState is the lifecycle state of one interpreter group instance
type GroupState string

const (
	GroupEmpty   GroupState = "empty"   // No process started yet
	GroupRunning GroupState = "running" // Process handle owned
	GroupStopped GroupState = "stopped" // Last session closed, instance retired
)

// validGroupTransitions maps from-state to allowed to-states
var validGroupTransitions = map[GroupState]map[GroupState]bool{
	GroupEmpty: {
		GroupRunning: true, // first getOrCreateProcess
		GroupStopped: true, // last session closed before any process started
	},
	GroupRunning: {
		GroupStopped: true, // last session closed
	},
	// Terminal: the key may be reused by a fresh instance
	GroupStopped: {},
}

// ValidateGroupTransition checks if a group state transition is valid
func ValidateGroupTransition(from, to GroupState) error {
	allowed, exists := validGroupTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal returns true if no further transitions are allowed
func (s GroupState) IsTerminal() bool {
	return s == GroupStopped
}
