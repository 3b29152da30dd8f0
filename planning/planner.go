// Package planning turns goals into ordered action plans.
//
// Two planners are provided. Direct emits one action per capability named in
// the goal. Engine decomposes complex goals into subgoals, filters
// capabilities against the context's resources, orders actions by their
// preconditions and offers simple and comprehensive alternatives.
package planning

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/GoCodeAlone/agentcore/core"
)

// Planner produces a plan for goal from the given capabilities.
type Planner interface {
	Plan(ctx context.Context, goal core.Goal, caps []core.Capability, c *core.Context) (core.Plan, error)
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx context.Context, goal core.Goal, caps []core.Capability, c *core.Context) (core.Plan, error)

func (f PlannerFunc) Plan(ctx context.Context, goal core.Goal, caps []core.Capability, c *core.Context) (core.Plan, error) {
	return f(ctx, goal, caps, c)
}

var mutatingVerbs = []string{"write", "delete", "modify"}

// AssessRisk sums per-action risk and caps it at 1. Each action contributes
// 0.1, plus 0.3 for a mutating type, 0.05 per parameter and 0.5 per
// constraint it violates.
func AssessRisk(actions []core.Action, c *core.Context) float64 {
	risk := 0.0
	for _, a := range actions {
		risk += 0.1
		if containsAny(a.Type, mutatingVerbs...) {
			risk += 0.3
		}
		risk += 0.05 * float64(len(a.Parameters))
		if c == nil {
			continue
		}
		for _, con := range c.Constraints {
			if con.Rule != nil && !con.Rule(a, c) {
				risk += 0.5
			}
		}
	}
	return min(risk, 1)
}

// EstimateDuration sums 5s per action, 1s per parameter, 10s for analytic
// types and 15s for generative types.
func EstimateDuration(actions []core.Action) time.Duration {
	var d time.Duration
	for _, a := range actions {
		d += 5 * time.Second
		d += time.Duration(len(a.Parameters)) * time.Second
		if containsAny(a.Type, "analyze", "process") {
			d += 10 * time.Second
		}
		if containsAny(a.Type, "create", "generate") {
			d += 15 * time.Second
		}
	}
	return d
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// actionParams copies the capability parameters and records the goal.
func actionParams(capability core.Capability, goal core.Goal) map[string]any {
	params := maps.Clone(capability.Parameters)
	if params == nil {
		params = make(map[string]any)
	}
	params["goal_id"] = goal.ID
	return params
}

func newPlan(goal core.Goal, actions []core.Action) core.Plan {
	return core.Plan{
		ID:      core.NewID(),
		GoalID:  goal.ID,
		Actions: actions,
		Status:  core.PlanDraft,
	}
}
