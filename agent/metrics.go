package agent

import (
	"time"

	"github.com/GoCodeAlone/agentcore/core"
)

// Metrics is a point-in-time view of an agent's counters.
type Metrics struct {
	AgentID          string        `json:"agent_id"`
	Status           core.Status   `json:"status"`
	GoalsCount       int           `json:"goals_count"`
	ActiveGoals      int           `json:"active_goals"`
	MemorySize       int           `json:"memory_size"`
	ExperiencesCount int           `json:"experiences_count"`
	ActionsExecuted  int64         `json:"actions_executed"`
	ActionsFailed    int64         `json:"actions_failed"`
	LoopIterations   int64         `json:"loop_iterations"`
	MessagesReceived int64         `json:"messages_received"`
	Uptime           time.Duration `json:"uptime"`
	At               time.Time     `json:"at"`
}

// Metrics returns the agent's current counters. Memory sizes are zero
// before initialization and after the partition is released.
func (a *Agent) Metrics() Metrics {
	now := time.Now()
	a.mu.RLock()
	m := Metrics{
		AgentID:    a.id,
		Status:     a.status,
		GoalsCount: len(a.goals),
		Uptime:     now.Sub(a.createdAt),
		At:         now,
	}
	for _, g := range a.goals {
		if g.Status == core.GoalActive {
			m.ActiveGoals++
		}
	}
	a.mu.RUnlock()

	if stats, err := a.memory.Stats(a.id); err == nil {
		m.MemorySize = stats.LongTermSize
		m.ExperiencesCount = stats.EpisodicSize
	}
	m.ActionsExecuted = a.actionsExecuted.Load()
	m.ActionsFailed = a.actionsFailed.Load()
	m.LoopIterations = a.loopIterations.Load()
	m.MessagesReceived = a.messagesReceived.Load()
	return m
}

func (a *Agent) publishMetrics() {
	a.streams.Metrics.publish(a.Metrics())
}
