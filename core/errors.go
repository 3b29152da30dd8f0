package core

import "errors"

var (
	// ErrInvalidConfig indicates a malformed AgentConfig.
	ErrInvalidConfig = errors.New("invalid agent config")
	// ErrInvalidState indicates an operation requested from a status that forbids it.
	ErrInvalidState = errors.New("invalid agent state")
	// ErrCapabilityNotFound indicates an action type with no matching capability.
	ErrCapabilityNotFound = errors.New("capability not found")
	// ErrConstraintViolation indicates a constraint vetoed an action.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrAgentUnavailable indicates a delegation target that is not idle.
	ErrAgentUnavailable = errors.New("agent unavailable")
	// ErrNoActiveGoal indicates decide found nothing to work on.
	ErrNoActiveGoal = errors.New("no active goal")
	// ErrPlanExhausted indicates every action of the current plan already succeeded.
	ErrPlanExhausted = errors.New("plan exhausted")
	// ErrMemoryNotInitialized indicates a memory operation for an unknown agent.
	ErrMemoryNotInitialized = errors.New("memory not initialized")
	// ErrAgentNotFound indicates the agent is not in the registry.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrKnowledgeNotFound indicates the knowledge item does not exist.
	ErrKnowledgeNotFound = errors.New("knowledge not found")
	// ErrNoAgents indicates an operation that needs at least one agent got none.
	ErrNoAgents = errors.New("no agents")
)
