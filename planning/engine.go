package planning

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/GoCodeAlone/agentcore/core"
)

const (
	// DecomposeThreshold is the complexity above which a goal is split.
	DecomposeThreshold = 3
	maxComplexity      = 10
)

var complexityKeywords = []string{
	"analyze", "integrate", "coordinate", "optimize", "synthesize",
	"multiple", "complex", "comprehensive", "advanced", "strategic",
}

// Engine is a hierarchical planner.
type Engine struct {
	logger *slog.Logger

	// SkipAlternatives disables the simple and comprehensive alternatives.
	SkipAlternatives bool
}

// NewEngine returns an Engine. A nil logger uses slog.Default.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger.With("component", "planning")}
}

// Plan builds a plan for goal. Actions from every subgoal are merged, an
// authenticate step is prepended when any action needs it, and the result is
// ordered so precondition providers run first.
func (e *Engine) Plan(ctx context.Context, goal core.Goal, caps []core.Capability, c *core.Context) (core.Plan, error) {
	if err := ctx.Err(); err != nil {
		return core.Plan{}, err
	}

	var actions []core.Action
	for _, sub := range e.decompose(goal) {
		actions = append(actions, e.actionsFor(sub, goal.ID, Relevant(sub.Description, caps), c)...)
	}
	if slices.ContainsFunc(actions, func(a core.Action) bool { return a.Parameters["requires_auth"] == true }) {
		params := map[string]any{"goal_id": goal.ID}
		if c != nil {
			params["context"] = c.ActorID
		}
		auth := core.NewAction("authenticate", "Authenticate with required services", params)
		actions = append([]core.Action{auth}, actions...)
	}

	plan := newPlan(goal, Sequence(actions))
	plan.RiskAssessment = AssessRisk(plan.Actions, c)
	plan.EstimatedDuration = EstimateDuration(plan.Actions)
	if !e.SkipAlternatives {
		plan.Alternatives = e.alternatives(goal, caps, c)
	}

	e.logger.Debug("generated plan", "goal_id", goal.ID, "actions", len(plan.Actions),
		"risk", plan.RiskAssessment, "duration", plan.EstimatedDuration)
	return plan, nil
}

// Complexity scores a goal from 1 to 10: one point per 50 characters of
// description, per complexity keyword and per explicit subgoal.
func Complexity(goal core.Goal) int {
	desc := Fold(goal.Description)
	score := 1 + utf8.RuneCountInString(desc)/50
	for _, kw := range complexityKeywords {
		if strings.Contains(desc, kw) {
			score++
		}
	}
	score += len(goal.Subgoals)
	return min(score, maxComplexity)
}

func (e *Engine) decompose(goal core.Goal) []core.Goal {
	if Complexity(goal) <= DecomposeThreshold {
		return []core.Goal{goal}
	}
	if len(goal.Subgoals) > 0 {
		return goal.Subgoals
	}
	return autoSubgoals(goal)
}

func autoSubgoals(goal core.Goal) []core.Goal {
	desc := Fold(goal.Description)
	sub := func(prefix string, criteria ...string) core.Goal {
		return core.Goal{
			ID:              core.NewID(),
			Description:     prefix + goal.Description,
			Priority:        goal.Priority,
			SuccessCriteria: criteria,
			Status:          core.GoalPending,
		}
	}

	var out []core.Goal
	if containsAny(desc, "research", "analyze") {
		out = append(out,
			sub("Gather relevant information for: ", "Information collected and organized"),
			sub("Analyze collected information for: ", "Analysis completed with insights"),
		)
	}
	if containsAny(desc, "create", "build") {
		out = append(out,
			sub("Plan creation process for: ", "Creation plan established"),
			sub("Execute creation for: ", "Item created successfully"),
		)
	}
	if len(out) == 0 {
		out = append(out,
			sub("Prepare for: ", "Preparation completed"),
			sub("Execute: ", goal.SuccessCriteria...),
		)
	}
	return out
}

// actionsFor synthesizes one action per capability whose required resources
// are all present in c.
func (e *Engine) actionsFor(goal core.Goal, rootID string, caps []core.Capability, c *core.Context) []core.Action {
	var out []core.Action
	for _, capability := range caps {
		if !applicable(capability, c) {
			e.logger.Debug("capability skipped, missing resources", "capability", capability.Name, "goal_id", goal.ID)
			continue
		}
		out = append(out, actionFromCapability(capability, goal, rootID))
	}
	return out
}

func applicable(capability core.Capability, c *core.Context) bool {
	for _, r := range capability.RequiredResources() {
		if !c.HasResource(r) {
			return false
		}
	}
	return true
}

func actionFromCapability(capability core.Capability, goal core.Goal, rootID string) core.Action {
	params := actionParams(capability, goal)
	params["goal_context"] = goal.Description
	if rootID != "" && rootID != goal.ID {
		params["subgoal_id"] = goal.ID
		params["goal_id"] = rootID
	}
	a := core.NewAction(capability.Name, "Use "+capability.Description+" to achieve: "+goal.Description, params)
	a.ExpectedOutcome = "Expected to contribute to achieving: " + goal.Description + " using " + capability.Name
	for _, r := range capability.RequiredResources() {
		a.Preconditions = append(a.Preconditions, "Resource "+r+" must be available")
	}
	a.Preconditions = append(a.Preconditions, capability.DeclaredPreconditions()...)
	return a
}

// Sequence orders actions so that those with fewer preconditions come first
// and any action providing a precondition (by expected outcome or
// description) runs before the action that needs it.
func Sequence(actions []core.Action) []core.Action {
	ordered := slices.Clone(actions)
	slices.SortStableFunc(ordered, func(a, b core.Action) int {
		return len(a.Preconditions) - len(b.Preconditions)
	})

	out := make([]core.Action, 0, len(ordered))
	done := make(map[string]bool, len(ordered))
	visiting := make(map[string]bool)
	var visit func(a core.Action)
	visit = func(a core.Action) {
		if done[a.ID] || visiting[a.ID] {
			return
		}
		visiting[a.ID] = true
		for _, pre := range a.Preconditions {
			for _, dep := range ordered {
				if dep.ID == a.ID {
					continue
				}
				if strings.Contains(dep.ExpectedOutcome, pre) || strings.Contains(dep.Description, pre) {
					visit(dep)
					break
				}
			}
		}
		visiting[a.ID] = false
		done[a.ID] = true
		out = append(out, a)
	}
	for _, a := range ordered {
		visit(a)
	}
	return out
}

func (e *Engine) alternatives(goal core.Goal, caps []core.Capability, c *core.Context) []core.Plan {
	var out []core.Plan

	var simple []core.Action
	for _, capability := range caps[:min(2, len(caps))] {
		if applicable(capability, c) {
			simple = append(simple, actionFromCapability(capability, goal, ""))
		}
	}
	if len(simple) > 0 {
		p := newPlan(goal, simple)
		p.EstimatedDuration = EstimateDuration(simple)
		p.RiskAssessment = AssessRisk(simple, c) * 0.7
		out = append(out, p)
	}

	full := []core.Action{core.NewAction("prepare", "Prepare comprehensive approach for: "+goal.Description,
		map[string]any{"goal_id": goal.ID})}
	for _, capability := range Relevant(goal.Description, caps) {
		if applicable(capability, c) {
			full = append(full, actionFromCapability(capability, goal, ""))
		}
	}
	full = append(full, core.NewAction("validate", "Validate completion of: "+goal.Description,
		map[string]any{"goal_id": goal.ID, "success_criteria": slices.Clone(goal.SuccessCriteria)}))
	p := newPlan(goal, full)
	p.EstimatedDuration = EstimateDuration(full)
	p.RiskAssessment = min(1, AssessRisk(full, c)*1.2)
	return append(out, p)
}
