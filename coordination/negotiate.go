package coordination

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/GoCodeAlone/agentcore/core"
	"github.com/GoCodeAlone/agentcore/planning"
	"github.com/GoCodeAlone/agentcore/task"
)

// TaskRequest is work offered to a set of agents.
type TaskRequest struct {
	Description string     `json:"description"`
	Priority    float64    `json:"priority,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

func (r TaskRequest) priority() float64 {
	if r.Priority == 0 {
		return 1
	}
	return r.Priority
}

var capabilityBuckets = []struct {
	capability string
	keywords   []string
}{
	{"analyze", []string{"analysis", "research", "investigation"}},
	{"create", []string{"generation", "building", "construction"}},
	{"process", []string{"processing", "transformation", "conversion"}},
	{"communicate", []string{"messaging", "notification", "reporting"}},
	{"monitor", []string{"surveillance", "tracking", "observation"}},
}

var complexityKeywords = []string{"integrate", "coordinate", "analyze", "optimize", "multiple"}

const maxComplexity = 10

// requiredCapabilities derives capability names from the description: the
// keyword buckets first, then any candidate capability named as a whole word.
// Nothing matching yields "general".
func requiredCapabilities(description string, candidates []Participant) []string {
	text := planning.Fold(description)
	var out []string
	for _, b := range capabilityBuckets {
		if slices.ContainsFunc(b.keywords, func(k string) bool { return strings.Contains(text, k) }) {
			out = append(out, b.capability)
		}
	}

	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-'
	})
	for _, p := range candidates {
		if p == nil {
			continue
		}
		for _, c := range p.Capabilities() {
			name := planning.Fold(c.Name)
			if name != "" && slices.Contains(words, name) && !slices.Contains(out, name) {
				out = append(out, name)
			}
		}
	}

	if len(out) == 0 {
		return []string{"general"}
	}
	return out
}

// complexity scores a request from 1 to 10.
func complexity(req TaskRequest, now time.Time) int {
	text := planning.Fold(req.Description)
	n := 1
	for _, k := range complexityKeywords {
		if strings.Contains(text, k) {
			n++
		}
	}
	if req.Deadline != nil && req.Deadline.Sub(now) < time.Hour {
		n += 2
	}
	return min(n, maxComplexity)
}

func activeGoals(p Participant) int {
	n := 0
	for _, g := range p.Goals() {
		if g.Status == core.GoalActive {
			n++
		}
	}
	return n
}

type scored struct {
	p     Participant
	score float64
}

// scoreCandidate rates p for work requiring reqs. It fails when p cannot be
// inspected.
func scoreCandidate(p Participant, reqs []string) (float64, error) {
	if p.Status() == core.StatusTerminated {
		return 0, fmt.Errorf("%w: %s is terminated", core.ErrAgentUnavailable, p.ID())
	}
	exps, err := p.Experiences()
	if err != nil {
		return 0, err
	}

	var names []string
	for _, c := range p.Capabilities() {
		names = append(names, planning.Fold(c.Name))
	}
	matches := 0
	for _, r := range reqs {
		if slices.ContainsFunc(names, func(n string) bool { return strings.Contains(n, r) }) {
			matches++
		}
	}
	score := 2 * float64(matches)

	switch p.Status() {
	case core.StatusIdle:
		score += 3
	case core.StatusPlanning:
		score++
	}

	relevant := 0
	for _, e := range exps {
		typ := planning.Fold(e.Action.Type)
		if e.Success && slices.ContainsFunc(reqs, func(r string) bool { return strings.Contains(typ, r) }) {
			relevant++
		}
	}
	score += math.Min(0.5*float64(relevant), 2)
	score -= 0.5 * float64(activeGoals(p))
	return score, nil
}

// Negotiate picks the best-suited agents for req, records an assigned task
// and sends each selected agent a participation request. Agents that cannot
// be scored are skipped. The team size grows with the request's complexity
// and never exceeds the number of scored agents.
func (s *Service) Negotiate(ctx context.Context, agents []Participant, req TaskRequest) ([]Participant, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.logger.Info("negotiating task assignment", "description", req.Description, "candidates", len(agents))

	reqs := requiredCapabilities(req.Description, agents)
	cx := complexity(req, time.Now())

	var pool []scored
	for _, p := range agents {
		if p == nil {
			continue
		}
		score, err := scoreCandidate(p, reqs)
		if err != nil {
			s.logger.Warn("skipping agent during negotiation", "agent_id", p.ID(), "error", err)
			continue
		}
		pool = append(pool, scored{p: p, score: score})
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("negotiate %q: %w", req.Description, core.ErrNoAgents)
	}

	size := min(max(1, cx/3), len(pool))
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].score > pool[j].score })
	selected := make([]Participant, size)
	ids := make([]string, size)
	for i := range size {
		selected[i] = pool[i].p
		ids[i] = pool[i].p.ID()
	}

	t := &task.Task{
		Description:          req.Description,
		RequiredCapabilities: reqs,
		Priority:             req.priority(),
		Deadline:             req.Deadline,
		AssignedAgents:       ids,
		Status:               task.StatusAssigned,
	}
	if _, err := s.tasks.Create(t); err != nil {
		return nil, fmt.Errorf("record negotiated task: %w", err)
	}

	prio := int(math.Round(req.priority()))
	for _, id := range ids {
		s.send(ctx, core.NewMessage(core.CoordinatorID, id, core.KindRequest, map[string]any{
			"task": t,
			"role": "participant",
		}, prio))
	}

	s.logger.Info("task negotiated", "task_id", t.ID, "complexity", cx, "required", reqs, "selected", ids)
	return selected, nil
}

// Delegate hands req to p, which must be idle, records the task as assigned
// to p and returns p's acknowledgement. An unreachable agent yields a zero
// acknowledgement.
func (s *Service) Delegate(ctx context.Context, req TaskRequest, p Participant) (core.Ack, error) {
	if st := p.Status(); st != core.StatusIdle {
		return core.Ack{}, fmt.Errorf("%w: agent %s is %s", core.ErrAgentUnavailable, p.ID(), st)
	}

	s.logger.Info("delegating task", "agent_id", p.ID(), "description", req.Description)

	t := &task.Task{
		Description:          req.Description,
		RequiredCapabilities: requiredCapabilities(req.Description, []Participant{p}),
		Priority:             req.priority(),
		Deadline:             req.Deadline,
		AssignedAgents:       []string{p.ID()},
		Status:               task.StatusAssigned,
	}
	if _, err := s.tasks.Create(t); err != nil {
		return core.Ack{}, fmt.Errorf("record delegated task: %w", err)
	}

	ack, _ := s.send(ctx, core.NewMessage(core.CoordinatorID, p.ID(), core.KindRequest, map[string]any{
		"type":     "delegation",
		"task":     t,
		"deadline": req.Deadline,
		"priority": req.priority(),
	}, int(math.Round(req.priority()))))
	return ack, nil
}
