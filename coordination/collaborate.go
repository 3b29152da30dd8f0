package coordination

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/GoCodeAlone/agentcore/core"
	"github.com/GoCodeAlone/agentcore/planning"
	"github.com/GoCodeAlone/agentcore/task"
)

// subtask is one piece of a collaborative goal. capability is empty when the
// piece came from an explicit subgoal.
type subtask struct {
	description string
	capability  string
	goal        core.Goal
}

type assignment struct {
	subtask
	agent Participant
}

// protocol is the reporting cadence announced to a new team.
var protocol = map[string]string{
	"progress_updates":        "every_5_minutes",
	"error_reporting":         "immediate",
	"completion_notification": "immediate",
}

func experiences(p Participant) []core.Experience {
	exps, err := p.Experiences()
	if err != nil {
		return nil
	}
	return exps
}

func coordinatorScore(p Participant) float64 {
	n := 0
	for _, e := range experiences(p) {
		typ := planning.Fold(e.Action.Type)
		if strings.Contains(typ, "coordinate") || strings.Contains(typ, "manage") {
			n++
		}
	}
	return 2*float64(n) + 0.5*float64(len(p.Capabilities())) - float64(activeGoals(p))
}

// electCoordinator returns the highest scoring agent. Ties keep the earlier
// agent.
func electCoordinator(team []Participant) Participant {
	best, bestScore := team[0], coordinatorScore(team[0])
	for _, p := range team[1:] {
		if sc := coordinatorScore(p); sc > bestScore {
			best, bestScore = p, sc
		}
	}
	return best
}

// relevantTo reports whether any word of the capability name overlaps a word
// of the goal description.
func relevantTo(capability, goal string) bool {
	goalWords := strings.Fields(planning.Fold(goal))
	for _, cw := range strings.Fields(planning.Fold(capability)) {
		for _, gw := range goalWords {
			if strings.Contains(gw, cw) || strings.Contains(cw, gw) {
				return true
			}
		}
	}
	return false
}

// decompose splits goal into subtasks: its subgoals when present, otherwise
// one per distinct team capability relevant to the goal.
func decompose(goal core.Goal, team []Participant) []subtask {
	if len(goal.Subgoals) > 0 {
		out := make([]subtask, len(goal.Subgoals))
		for i, sg := range goal.Subgoals {
			sg = sg.Clone()
			if sg.ID == "" {
				sg.ID = core.NewID()
			}
			out[i] = subtask{description: sg.Description, goal: sg}
		}
		return out
	}

	var out []subtask
	var seen []string
	for _, p := range team {
		for _, c := range p.Capabilities() {
			if slices.Contains(seen, c.Name) {
				continue
			}
			seen = append(seen, c.Name)
			if !relevantTo(c.Name, goal.Description) {
				continue
			}
			out = append(out, subtask{
				description: fmt.Sprintf("Use %s for: %s", c.Name, goal.Description),
				capability:  c.Name,
				goal: core.Goal{
					ID:              core.NewID(),
					Description:     fmt.Sprintf("Apply %s to achieve %s", c.Name, goal.Description),
					Priority:        goal.Priority,
					Deadline:        goal.Deadline,
					SuccessCriteria: []string{"Successfully applied " + c.Name},
					Status:          core.GoalPending,
				},
			})
		}
	}
	return out
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}

func assignmentScore(st subtask, p Participant) float64 {
	score := 0.0
	if st.capability != "" && slices.ContainsFunc(p.Capabilities(), func(c core.Capability) bool { return c.Name == st.capability }) {
		score += 5
	}
	hint := prefix(st.description, 20)
	for _, e := range experiences(p) {
		if !e.Success {
			continue
		}
		if (st.capability != "" && e.Action.Type == st.capability) || strings.Contains(e.Action.Description, hint) {
			score++
		}
	}
	return score - float64(activeGoals(p))
}

// assign gives each subtask to the member with the highest positive score,
// falling back to the first member.
func assign(subtasks []subtask, team []Participant) []assignment {
	out := make([]assignment, len(subtasks))
	for i, st := range subtasks {
		best, bestScore := team[0], 0.0
		for _, p := range team {
			if sc := assignmentScore(st, p); sc > bestScore {
				best, bestScore = p, sc
			}
		}
		out[i] = assignment{subtask: st, agent: best}
	}
	return out
}

// Collaborate forms a team around goal, elects its coordinator, splits the
// goal into subtasks, has each assigned member draft its part and merges the
// sub-plans into one draft plan. Members adopt their sub-plans only once every
// draft succeeded, then each receives the collaboration setup. A failing
// sub-plan aborts the collaboration without leaving the team, its tasks or
// any adopted sub-plan behind.
func (s *Service) Collaborate(ctx context.Context, agents []Participant, goal core.Goal) (core.Plan, error) {
	team := slices.DeleteFunc(slices.Clone(agents), func(p Participant) bool { return p == nil })
	if len(team) == 0 {
		return core.Plan{}, fmt.Errorf("collaborate on %q: %w", goal.Description, core.ErrNoAgents)
	}
	if goal.ID == "" {
		goal.ID = core.NewID()
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.logger.Info("facilitating collaboration", "goal_id", goal.ID, "description", goal.Description, "agents", len(team))

	t := &Team{
		ID:          core.NewID(),
		Name:        "Team-" + prefix(goal.Description, 20),
		Coordinator: electCoordinator(team).ID(),
		Goals:       []core.Goal{goal.Clone()},
		CreatedAt:   time.Now(),
	}
	for _, p := range team {
		if !t.Has(p.ID()) {
			t.AgentIDs = append(t.AgentIDs, p.ID())
		}
	}

	plan := core.Plan{
		ID:     core.NewID(),
		GoalID: goal.ID,
		Status: core.PlanDraft,
	}
	var created []string
	rollback := func(cause error) error {
		var errs []error
		for _, id := range created {
			if err := s.tasks.Delete(id); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			s.logger.Warn("collaboration rollback incomplete", "team_id", t.ID, "error", errors.Join(errs...))
		}
		return cause
	}

	type draft struct {
		agent Participant
		plan  core.Plan
	}
	var drafts []draft
	for _, a := range assign(decompose(goal, team), team) {
		sub, err := a.agent.DraftPlan(ctx, a.goal)
		if err != nil {
			return core.Plan{}, rollback(fmt.Errorf("agent %s planning %q: %w", a.agent.ID(), a.goal.Description, err))
		}
		drafts = append(drafts, draft{agent: a.agent, plan: sub})
		plan.Actions = append(plan.Actions, sub.Actions...)
		plan.EstimatedDuration += sub.EstimatedDuration
		plan.RiskAssessment = math.Max(plan.RiskAssessment, sub.RiskAssessment)

		rec := &task.Task{
			Description:    a.description,
			Priority:       a.goal.Priority,
			Deadline:       a.goal.Deadline,
			AssignedAgents: []string{a.agent.ID()},
			Status:         task.StatusAssigned,
			TeamID:         t.ID,
		}
		if a.capability != "" {
			rec.RequiredCapabilities = []string{a.capability}
		}
		if rec.Priority == 0 {
			rec.Priority = 1
		}
		if _, err := s.tasks.Create(rec); err != nil {
			return core.Plan{}, rollback(fmt.Errorf("record collaboration task: %w", err))
		}
		created = append(created, rec.ID)
	}

	for _, d := range drafts {
		if err := d.agent.AdoptPlan(d.plan); err != nil {
			s.logger.Warn("sub-plan not adopted", "team_id", t.ID, "agent_id", d.agent.ID(), "error", err)
		}
	}

	s.mu.Lock()
	s.teams[t.ID] = t
	snapshot := t.clone()
	s.mu.Unlock()
	s.teamsFormed.Add(1)

	for _, id := range snapshot.AgentIDs {
		s.send(ctx, core.NewMessage(core.CoordinatorID, id, core.KindCoordination, map[string]any{
			"type":                   "collaboration_setup",
			"team":                   snapshot,
			"plan":                   plan,
			"communication_protocol": protocol,
		}, 2))
	}

	s.logger.Info("collaboration initiated", "team_id", t.ID, "coordinator", t.Coordinator,
		"subtasks", len(created), "actions", len(plan.Actions))
	return plan, nil
}
