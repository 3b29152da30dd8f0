package agent

import (
	"context"
	"slices"
	"time"

	"github.com/GoCodeAlone/agentcore/core"
	"github.com/GoCodeAlone/agentcore/memory"
)

// AddGoal adds g, or replaces the goal with the same ID. A missing ID is
// generated and an empty status means active.
func (a *Agent) AddGoal(g core.Goal) core.Goal {
	g = g.Clone()
	if g.ID == "" {
		g.ID = core.NewID()
	}
	if g.Status == "" {
		g.Status = core.GoalActive
	}

	a.mu.Lock()
	if existing := a.goalLocked(g.ID); existing != nil {
		*existing = g
	} else {
		a.goals = append(a.goals, g)
	}
	a.mu.Unlock()

	a.logger.Info("goal added", "goal_id", g.ID, "priority", g.Priority)
	a.goalChanged(GoalAdded, g.Clone())
	return g.Clone()
}

// RemoveGoal drops a goal and, if it was being worked on, the current plan.
func (a *Agent) RemoveGoal(id string) bool {
	a.mu.Lock()
	i := slices.IndexFunc(a.goals, func(g core.Goal) bool { return g.ID == id })
	if i < 0 {
		a.mu.Unlock()
		return false
	}
	removed := a.goals[i]
	a.goals = slices.Delete(a.goals, i, i+1)
	if a.plan != nil && a.plan.GoalID == id {
		a.plan = nil
		clear(a.succeeded)
		clear(a.failures)
	}
	a.mu.Unlock()

	a.logger.Info("goal removed", "goal_id", id)
	a.goalChanged(GoalRemoved, removed)
	return true
}

// PrioritizeGoals orders goals most urgent first and returns the new order.
func (a *Agent) PrioritizeGoals() []core.Goal {
	now := time.Now()
	a.mu.Lock()
	slices.SortStableFunc(a.goals, func(x, y core.Goal) int {
		switch {
		case core.MoreUrgent(x, y, now):
			return -1
		case core.MoreUrgent(y, x, now):
			return 1
		}
		return 0
	})
	a.mu.Unlock()
	return a.Goals()
}

// Goals returns copies of every goal in current order.
func (a *Agent) Goals() []core.Goal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]core.Goal, len(a.goals))
	for i, g := range a.goals {
		out[i] = g.Clone()
	}
	return out
}

// Goal returns one goal by ID.
func (a *Agent) Goal(id string) (core.Goal, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if g := a.goalLocked(id); g != nil {
		return g.Clone(), true
	}
	return core.Goal{}, false
}

// ActiveGoals counts goals in the active status.
func (a *Agent) ActiveGoals() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := 0
	for _, g := range a.goals {
		if g.Status == core.GoalActive {
			n++
		}
	}
	return n
}

func (a *Agent) goalLocked(id string) *core.Goal {
	for i := range a.goals {
		if a.goals[i].ID == id {
			return &a.goals[i]
		}
	}
	return nil
}

// topGoal picks the most urgent active goal; earlier goals win ties.
func (a *Agent) topGoal() (core.Goal, bool) {
	now := time.Now()
	a.mu.RLock()
	defer a.mu.RUnlock()
	var (
		best  core.Goal
		found bool
	)
	for _, g := range a.goals {
		if g.Status != core.GoalActive {
			continue
		}
		if !found || core.MoreUrgent(g, best, now) {
			best, found = g, true
		}
	}
	return best.Clone(), found
}

func (a *Agent) goalChanged(change GoalChange, g core.Goal) {
	if change == GoalCompleted || change == GoalFailed {
		a.logger.Info("goal "+string(change), "goal_id", g.ID, "progress", g.Progress)
	}
	a.streams.Goals.publish(GoalEvent{AgentID: a.id, Change: change, Goal: g, At: time.Now()})
}

// Remember stores knowledge in the agent's long-term memory.
func (a *Agent) Remember(k core.Knowledge) (core.Knowledge, error) {
	return a.memory.StoreKnowledge(a.id, k)
}

// Recall retrieves ranked knowledge from the agent's memory.
func (a *Agent) Recall(ctx context.Context, q memory.Query) ([]core.Knowledge, error) {
	return a.memory.RetrieveKnowledge(ctx, a.id, q)
}

// Forget removes knowledge matching c and returns how many items went.
func (a *Agent) Forget(c memory.ForgetCriteria) (int, error) {
	return a.memory.ForgetKnowledge(a.id, c)
}

// Experiences returns the agent's episodic memory, oldest first.
func (a *Agent) Experiences() ([]core.Experience, error) {
	return a.memory.Experiences(a.id)
}
