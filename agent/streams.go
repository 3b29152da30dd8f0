package agent

import (
	"time"

	"github.com/GoCodeAlone/agentcore/core"
	"github.com/GoCodeAlone/agentcore/internal/broadcast"
)

// Stream is a read-only view of one agent event broadcaster.
type Stream[T any] struct {
	b *broadcast.Broadcaster[T]
}

func newStream[T any]() *Stream[T] {
	return &Stream[T]{b: broadcast.New[T]()}
}

// Subscribe returns a channel of future values and a function that cancels
// the subscription. The channel is closed on cancel or when the agent
// terminates. A subscriber that falls behind misses values.
func (s *Stream[T]) Subscribe() (<-chan T, func()) { return s.b.Subscribe() }

// Subscribers returns the number of live subscriptions.
func (s *Stream[T]) Subscribers() int { return s.b.Subscribers() }

func (s *Stream[T]) publish(v T) { s.b.Publish(v) }
func (s *Stream[T]) close()      { s.b.Close() }

// StatusEvent reports a status transition.
type StatusEvent struct {
	AgentID string      `json:"agent_id"`
	From    core.Status `json:"from"`
	To      core.Status `json:"to"`
	At      time.Time   `json:"at"`
}

// ActionEvent reports a settled action.
type ActionEvent struct {
	AgentID string      `json:"agent_id"`
	Action  core.Action `json:"action"`
	Result  any         `json:"result,omitempty"`
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	At      time.Time   `json:"at"`
}

// GoalChange describes what happened to a goal.
type GoalChange string

const (
	GoalAdded     GoalChange = "added"
	GoalRemoved   GoalChange = "removed"
	GoalProgress  GoalChange = "progress"
	GoalCompleted GoalChange = "completed"
	GoalFailed    GoalChange = "failed"
)

// GoalEvent reports a change to one goal.
type GoalEvent struct {
	AgentID string     `json:"agent_id"`
	Change  GoalChange `json:"change"`
	Goal    core.Goal  `json:"goal"`
	At      time.Time  `json:"at"`
}

// MessageEvent reports a message sent or received by the agent.
type MessageEvent struct {
	AgentID  string       `json:"agent_id"`
	Outbound bool         `json:"outbound"`
	Message  core.Message `json:"message"`
}

// Streams groups the typed event streams of one agent.
type Streams struct {
	Status   *Stream[StatusEvent]
	Actions  *Stream[ActionEvent]
	Goals    *Stream[GoalEvent]
	Messages *Stream[MessageEvent]
	Metrics  *Stream[Metrics]
}

func newStreams() Streams {
	return Streams{
		Status:   newStream[StatusEvent](),
		Actions:  newStream[ActionEvent](),
		Goals:    newStream[GoalEvent](),
		Messages: newStream[MessageEvent](),
		Metrics:  newStream[Metrics](),
	}
}

func (s Streams) close() {
	s.Status.close()
	s.Actions.close()
	s.Goals.close()
	s.Messages.close()
	s.Metrics.close()
}
