package lifecycle

import (
	"time"

	"github.com/GoCodeAlone/agentcore/agent"
	"github.com/GoCodeAlone/agentcore/core"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventCreated       EventType = "agent.created"
	EventInitialized   EventType = "agent.initialized"
	EventStarted       EventType = "agent.started"
	EventPaused        EventType = "agent.paused"
	EventResumed       EventType = "agent.resumed"
	EventTerminated    EventType = "agent.terminated"
	EventRestarted     EventType = "agent.restarted"
	EventCloned        EventType = "agent.cloned"
	EventConfigUpdated EventType = "agent.config_updated"
	EventStatusChanged EventType = "agent.status_changed"
	EventAgentError    EventType = "agent.error"
	EventEmergencyStop EventType = "system.emergency_stop"
)

// Event is one lifecycle notification. RelatedID carries the new agent of a
// restart or clone.
type Event struct {
	Type      EventType   `json:"type"`
	AgentID   string      `json:"agent_id,omitempty"`
	RelatedID string      `json:"related_id,omitempty"`
	Status    core.Status `json:"status,omitempty"`
	Count     int         `json:"count,omitempty"`
	At        time.Time   `json:"at"`
}

// Subscribe returns a channel of future lifecycle events and a cancel
// function.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.events.Subscribe()
}

func (m *Manager) emit(e Event) {
	e.At = time.Now()
	m.events.Publish(e)
}

// watch forwards an agent's status changes as lifecycle events until the
// agent's streams close.
func (m *Manager) watch(a *agent.Agent) {
	ch, _ := a.Streams().Status.Subscribe()
	go func() {
		for ev := range ch {
			m.logger.Debug("agent status changed", "agent_id", ev.AgentID, "from", ev.From, "to", ev.To)
			m.emit(Event{Type: EventStatusChanged, AgentID: ev.AgentID, Status: ev.To})
			if ev.To == core.StatusError {
				m.logger.Error("agent entered error status", "agent_id", ev.AgentID, "from", ev.From)
				m.emit(Event{Type: EventAgentError, AgentID: ev.AgentID, Status: ev.To})
			}
		}
	}()
}
