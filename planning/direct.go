package planning

import (
	"context"
	"strings"
	"time"

	"github.com/GoCodeAlone/agentcore/core"
)

// DirectActionDuration is the flat per-action estimate used by Direct.
const DirectActionDuration = 30 * time.Second

// Direct emits one action for every capability whose name appears in the
// goal description. It never decomposes.
type Direct struct{}

func (Direct) Plan(_ context.Context, goal core.Goal, caps []core.Capability, c *core.Context) (core.Plan, error) {
	desc := Fold(goal.Description)
	var actions []core.Action
	for _, capability := range caps {
		if !strings.Contains(desc, Fold(capability.Name)) {
			continue
		}
		actions = append(actions, core.NewAction(
			capability.Name,
			"Execute "+capability.Name+" for goal: "+goal.Description,
			actionParams(capability, goal),
		))
	}
	plan := newPlan(goal, actions)
	plan.EstimatedDuration = time.Duration(len(actions)) * DirectActionDuration
	plan.RiskAssessment = AssessRisk(actions, c)
	return plan, nil
}
