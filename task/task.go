// Package task defines the coordination task model and its persistence.
package task

import (
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned when a task id is unknown to a store.
var ErrNotFound = errors.New("task not found")

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAssigned, StatusExecuting, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further work happens on a task in status s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is a unit of work negotiated across agents.
type Task struct {
	ID                   string     `json:"id"`
	Description          string     `json:"description"`
	RequiredCapabilities []string   `json:"required_capabilities"`
	Priority             float64    `json:"priority"`
	Deadline             *time.Time `json:"deadline,omitempty"`
	AssignedAgents       []string   `json:"assigned_agents"`
	Status               Status     `json:"status"`
	TeamID               string     `json:"team_id,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

// AssignedTo reports whether agentID is among the assigned agents.
func (t *Task) AssignedTo(agentID string) bool {
	return slices.Contains(t.AssignedAgents, agentID)
}

func (t *Task) clone() *Task {
	out := *t
	out.RequiredCapabilities = slices.Clone(t.RequiredCapabilities)
	out.AssignedAgents = slices.Clone(t.AssignedAgents)
	if t.Deadline != nil {
		d := *t.Deadline
		out.Deadline = &d
	}
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		out.CompletedAt = &c
	}
	return &out
}

// Store persists and retrieves tasks.
type Store interface {
	// Create persists a new task and returns its assigned ID. A task that
	// already carries an ID keeps it.
	Create(t *Task) (string, error)

	// Get retrieves a task by ID.
	Get(id string) (*Task, error)

	// Update saves changes to an existing task.
	Update(t *Task) error

	// List returns tasks matching the given filter.
	List(filter Filter) ([]*Task, error)

	// Delete removes a task by ID.
	Delete(id string) error

	Close() error
}

// Filter controls which tasks are returned by List.
type Filter struct {
	Status     *Status `json:"status,omitempty"`
	AssignedTo string  `json:"assigned_to,omitempty"`
	TeamID     string  `json:"team_id,omitempty"`
	Limit      int     `json:"limit,omitempty"`
	Offset     int     `json:"offset,omitempty"`
}

func (f Filter) match(t *Task) bool {
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.AssignedTo != "" && !t.AssignedTo(f.AssignedTo) {
		return false
	}
	if f.TeamID != "" && t.TeamID != f.TeamID {
		return false
	}
	return true
}

// stamp fills the bookkeeping timestamps on a status change.
func stamp(t *Task, now time.Time) {
	t.UpdatedAt = now
	if t.Status.Terminal() && t.CompletedAt == nil {
		c := now
		t.CompletedAt = &c
	}
}
