// Package core defines the domain model shared by the agent runtime, the
// memory manager, the planning engine and the coordination service.
package core

// Status represents the current operational state of an agent.
type Status string

const (
	StatusInitializing  Status = "initializing"
	StatusIdle          Status = "idle"
	StatusPlanning      Status = "planning"
	StatusExecuting     Status = "executing"
	StatusLearning      Status = "learning"
	StatusCommunicating Status = "communicating"
	StatusPaused        Status = "paused"
	StatusError         Status = "error"
	StatusTerminated    Status = "terminated"
)

// IsTerminal reports whether no transition can leave s.
func (s Status) IsTerminal() bool { return s == StatusTerminated }

// IsActive reports whether s is one of the working states.
func (s Status) IsActive() bool {
	switch s {
	case StatusPlanning, StatusExecuting, StatusLearning:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows moving from s to to.
//
// Leaving paused is only possible through an explicit resume, which bypasses
// this check, or through termination. Leaving initializing requires
// initialization to complete.
func (s Status) CanTransition(to Status) bool {
	if s == StatusTerminated {
		return false
	}
	if to == StatusTerminated {
		return true
	}
	switch s {
	case StatusPaused:
		// No loop runs while paused, so nothing can fault into error.
		return to == StatusPaused
	case StatusInitializing:
		return to == StatusIdle || to == StatusPaused || to == StatusError
	case StatusError:
		return to == StatusIdle || to == StatusPaused || to == StatusError
	}
	switch to {
	case StatusIdle, StatusPlanning, StatusExecuting, StatusLearning,
		StatusCommunicating, StatusPaused, StatusError:
		return true
	}
	return false
}

// AllStatuses returns every status in declaration order.
func AllStatuses() []Status {
	return []Status{
		StatusInitializing, StatusIdle, StatusPlanning, StatusExecuting,
		StatusLearning, StatusCommunicating, StatusPaused, StatusError,
		StatusTerminated,
	}
}
