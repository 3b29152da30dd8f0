package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/GoCodeAlone/agentcore/core"
)

// workingPerceptions is how many fresh perceptions enter working memory.
const workingPerceptions = 5

// Perceive queries every resource of the bound context. A failing probe is
// logged and skipped. Results are written to short-term memory under
// "current_perceptions" and the first few are pushed into working memory.
func (a *Agent) Perceive(ctx context.Context) ([]core.Perception, error) {
	if err := a.requireUsable("perceive"); err != nil {
		return nil, err
	}
	c := a.Context()

	var out []core.Perception
	for _, r := range c.Resources {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		p := core.Perception{Resource: r.Name, At: time.Now()}
		if r.Probe == nil {
			p.Data = map[string]any{"kind": r.Kind, "endpoint": r.Endpoint}
		} else {
			data, err := r.Probe(ctx)
			if err != nil {
				a.logger.Warn("resource probe failed", "resource", r.Name, "error", err)
				continue
			}
			p.Data = data
		}
		out = append(out, p)
	}

	if err := a.memory.UpdateShortTerm(a.id, "current_perceptions", out); err != nil {
		return out, err
	}
	items := make([]any, 0, workingPerceptions)
	for _, p := range out[:min(workingPerceptions, len(out))] {
		items = append(items, p)
	}
	if err := a.memory.UpdateWorking(a.id, items...); err != nil {
		return out, err
	}
	return out, nil
}

// Plan asks the planner for a plan for goal and makes it the current plan.
func (a *Agent) Plan(ctx context.Context, goal core.Goal) (core.Plan, error) {
	if err := a.requireUsable("plan"); err != nil {
		return core.Plan{}, err
	}
	defer a.settle(core.StatusPlanning)
	return a.planFor(ctx, goal)
}

func (a *Agent) planFor(ctx context.Context, goal core.Goal) (core.Plan, error) {
	a.setStatus(core.StatusPlanning)
	p, err := a.draft(ctx, goal)
	if err != nil {
		return core.Plan{}, err
	}
	a.install(p)
	a.logger.Info("plan created", "goal_id", goal.ID, "plan_id", p.ID, "actions", len(p.Actions),
		"risk", p.RiskAssessment, "estimated_duration", p.EstimatedDuration)
	return p, nil
}

// DraftPlan asks the planner for a plan for goal without installing it.
// The current plan and its progress are left untouched.
func (a *Agent) DraftPlan(ctx context.Context, goal core.Goal) (core.Plan, error) {
	if err := a.requireUsable("plan"); err != nil {
		return core.Plan{}, err
	}
	return a.draft(ctx, goal)
}

// AdoptPlan makes p the current plan, discarding progress on the old one.
func (a *Agent) AdoptPlan(p core.Plan) error {
	if err := a.requireUsable("adopt plan"); err != nil {
		return err
	}
	a.install(p)
	a.logger.Info("plan adopted", "goal_id", p.GoalID, "plan_id", p.ID, "actions", len(p.Actions))
	return nil
}

func (a *Agent) draft(ctx context.Context, goal core.Goal) (core.Plan, error) {
	p, err := a.planner.Plan(ctx, goal, a.caps, a.Context())
	if err != nil {
		return core.Plan{}, fmt.Errorf("agent %s: plan goal %s: %w", a.id, goal.ID, err)
	}
	return p, nil
}

func (a *Agent) install(p core.Plan) {
	a.mu.Lock()
	a.plan = &p
	clear(a.succeeded)
	clear(a.failures)
	a.mu.Unlock()
}

// CurrentPlan returns the plan being worked on.
func (a *Agent) CurrentPlan() (core.Plan, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.plan == nil {
		return core.Plan{}, false
	}
	return *a.plan, true
}

// Decide returns the next action toward the most urgent active goal,
// replanning when the current plan belongs to another goal.
func (a *Agent) Decide(ctx context.Context) (core.Action, error) {
	if err := a.requireUsable("decide"); err != nil {
		return core.Action{}, err
	}
	a.iterMu.Lock()
	defer a.iterMu.Unlock()
	defer a.settle(core.StatusPlanning)
	return a.decide(ctx)
}

func (a *Agent) decide(ctx context.Context) (core.Action, error) {
	goal, ok := a.topGoal()
	if !ok {
		return core.Action{}, fmt.Errorf("agent %s: %w", a.id, core.ErrNoActiveGoal)
	}

	a.mu.RLock()
	current := a.plan != nil && a.plan.GoalID == goal.ID
	a.mu.RUnlock()
	if !current {
		if _, err := a.planFor(ctx, goal); err != nil {
			return core.Action{}, err
		}
	}

	a.mu.Lock()
	p := a.plan
	var (
		next  core.Action
		found bool
		empty = p == nil || len(p.Actions) == 0
	)
	if !empty {
		for _, act := range p.Actions {
			if !a.succeeded[act.ID] {
				next, found = act, true
				break
			}
		}
		if found {
			p.Status = core.PlanExecuting
		}
	}
	a.mu.Unlock()

	switch {
	case empty:
		a.failGoal(goal.ID, "no applicable actions")
		return core.Action{}, fmt.Errorf("%w: goal %s has no applicable actions", core.ErrPlanExhausted, goal.ID)
	case !found:
		return core.Action{}, fmt.Errorf("%w: goal %s", core.ErrPlanExhausted, goal.ID)
	}
	next.Parameters = maps.Clone(next.Parameters)
	next.Preconditions = slices.Clone(next.Preconditions)
	return next, nil
}

// Execute runs action through its capability. Constraints of the bound
// context are checked first and veto the action without invoking the
// capability. Every outcome, vetoes included, is recorded as an experience.
// The agent returns to idle afterwards and any failure is returned.
func (a *Agent) Execute(ctx context.Context, action core.Action) (any, error) {
	a.iterMu.Lock()
	defer a.iterMu.Unlock()
	return a.execute(ctx, action)
}

func (a *Agent) execute(ctx context.Context, action core.Action) (any, error) {
	if err := a.requireUsable("execute"); err != nil {
		return nil, err
	}
	a.setStatus(core.StatusExecuting)
	a.actionsExecuted.Add(1)
	a.logger.Info("executing action", "action_id", action.ID, "type", action.Type, "goal_id", action.GoalID())

	start := time.Now()
	result, err := a.invoke(ctx, action)
	exp := core.Experience{
		ID:        core.NewID(),
		Context:   a.Context().Snapshot(),
		Action:    action,
		Outcome:   result,
		Success:   err == nil,
		Timestamp: time.Now(),
	}
	event := ActionEvent{AgentID: a.id, Action: action, Result: result, Success: err == nil, At: exp.Timestamp}
	if err != nil {
		a.actionsFailed.Add(1)
		exp.Outcome = map[string]any{"error": err.Error()}
		exp.LessonsLearned = []string{fmt.Sprintf("Action %s failed: %v", action.Type, err)}
		event.Error = err.Error()
		a.logger.Warn("action failed", "action_id", action.ID, "type", action.Type, "error", err)
	} else {
		a.logger.Info("action completed", "action_id", action.ID, "type", action.Type, "duration", time.Since(start))
	}

	if lerr := a.learn(exp); lerr != nil {
		a.logger.Warn("recording experience failed", "action_id", action.ID, "error", lerr)
	}
	a.recordOutcome(action, err == nil)
	a.streams.Actions.publish(event)
	a.setStatus(core.StatusIdle)
	if err != nil {
		return nil, fmt.Errorf("agent %s: execute %s: %w", a.id, action.Type, err)
	}
	return result, nil
}

func (a *Agent) invoke(ctx context.Context, action core.Action) (result any, err error) {
	capability, ok := a.capIndex[action.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrCapabilityNotFound, action.Type)
	}
	c := a.Context()
	for _, con := range c.Constraints {
		if con.Rule != nil && !con.Rule(action, c) {
			return nil, fmt.Errorf("%w: %s", core.ErrConstraintViolation, con.Description)
		}
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capability %s panicked: %v", action.Type, r)
		}
	}()
	return capability.Execute(ctx, maps.Clone(action.Parameters), c)
}

// recordOutcome credits the current plan's goal with a settled action. An
// action that is not part of the current plan earns nothing.
func (a *Agent) recordOutcome(action core.Action, success bool) {
	a.mu.Lock()
	p := a.plan
	if p == nil || !slices.ContainsFunc(p.Actions, func(x core.Action) bool { return x.ID == action.ID }) {
		a.mu.Unlock()
		return
	}
	g := a.goalLocked(p.GoalID)
	if g == nil {
		a.mu.Unlock()
		return
	}

	var change GoalChange
	if success {
		a.succeeded[action.ID] = true
		g.Progress = float64(len(a.succeeded)) / float64(len(p.Actions))
		change = GoalProgress
		if g.Progress >= 1 {
			g.Progress = 1
			g.Status = core.GoalCompleted
			p.Status = core.PlanCompleted
			change = GoalCompleted
		}
	} else {
		a.failures[action.ID]++
		if a.failures[action.ID] < a.loopCfg.MaxActionFailures {
			a.mu.Unlock()
			return
		}
		g.Status = core.GoalFailed
		p.Status = core.PlanFailed
		change = GoalFailed
	}
	snapshot := g.Clone()
	a.mu.Unlock()

	a.goalChanged(change, snapshot)
}

func (a *Agent) failGoal(goalID, reason string) {
	a.mu.Lock()
	g := a.goalLocked(goalID)
	if g == nil {
		a.mu.Unlock()
		return
	}
	g.Status = core.GoalFailed
	if a.plan != nil && a.plan.GoalID == goalID {
		a.plan.Status = core.PlanFailed
	}
	snapshot := g.Clone()
	a.mu.Unlock()

	a.logger.Warn("goal failed", "goal_id", goalID, "reason", reason)
	a.goalChanged(GoalFailed, snapshot)
}

// Learn records exp in episodic memory. A success also stores a procedure
// tagged with the action type and "successful"; a failure stores its lessons
// as rules.
func (a *Agent) Learn(exp core.Experience) error {
	defer a.settle(core.StatusLearning)
	return a.learn(exp)
}

func (a *Agent) learn(exp core.Experience) error {
	a.setStatus(core.StatusLearning)
	if !exp.Success {
		return a.memory.StoreExperience(a.id, exp)
	}
	if err := a.memory.AppendExperience(a.id, exp); err != nil {
		return err
	}
	_, err := a.memory.StoreKnowledge(a.id, core.Knowledge{
		Kind: core.KnowledgeProcedure,
		Content: map[string]any{
			"action_type": exp.Action.Type,
			"parameters":  exp.Action.Parameters,
			"outcome":     exp.Outcome,
		},
		Confidence: 0.8,
		Source:     "experience",
		Tags:       []string{exp.Action.Type, "successful"},
	})
	return err
}

// Evaluate scores each option by past experiences whose action mentions
// it: plus one per success, minus one per failure. The best option wins and
// ties keep the earliest. Nil is returned for no options.
func (a *Agent) Evaluate(options []any) (any, error) {
	if len(options) == 0 {
		return nil, nil
	}
	exps, err := a.memory.Experiences(a.id)
	if err != nil {
		return nil, err
	}
	actions := make([]string, len(exps))
	for i, e := range exps {
		actions[i] = encode(e.Action)
	}

	best, bestScore := options[0], 0
	for i, opt := range options {
		needle := encode(opt)
		score := 0
		for j, e := range exps {
			if !strings.Contains(actions[j], needle) {
				continue
			}
			if e.Success {
				score++
			} else {
				score--
			}
		}
		if i == 0 || score > bestScore {
			best, bestScore = opt, score
		}
	}
	return best, nil
}

func encode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
