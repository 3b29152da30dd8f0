package coordination

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/GoCodeAlone/agentcore/core"
	"github.com/GoCodeAlone/agentcore/task"
)

// Team groups agents working on one shared goal under an elected
// coordinator.
type Team struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	AgentIDs    []string    `json:"agent_ids"`
	Coordinator string      `json:"coordinator"`
	Goals       []core.Goal `json:"goals"`
	CreatedAt   time.Time   `json:"created_at"`
}

func (t *Team) clone() *Team {
	out := *t
	out.AgentIDs = slices.Clone(t.AgentIDs)
	out.Goals = make([]core.Goal, len(t.Goals))
	for i, g := range t.Goals {
		out.Goals[i] = g.Clone()
	}
	return &out
}

// Has reports whether agentID is a member.
func (t *Team) Has(agentID string) bool {
	return slices.Contains(t.AgentIDs, agentID)
}

// Teams returns a copy of every live team ordered by creation time.
func (s *Service) Teams() []*Team {
	s.mu.RLock()
	out := make([]*Team, 0, len(s.teams))
	for _, t := range s.teams {
		out = append(out, t.clone())
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Team returns a copy of the team with the given ID.
func (s *Service) Team(id string) (*Team, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teams[id]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// Tasks lists recorded coordination tasks.
func (s *Service) Tasks(filter task.Filter) ([]*task.Task, error) {
	return s.tasks.List(filter)
}

// Task returns one recorded coordination task.
func (s *Service) Task(id string) (*task.Task, error) {
	return s.tasks.Get(id)
}

// UpdateTaskStatus moves a task to status. Reaching completed for the first
// time counts toward tasks_completed.
func (s *Service) UpdateTaskStatus(id string, status task.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown task status %q", core.ErrInvalidState, status)
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	t, err := s.tasks.Get(id)
	if err != nil {
		return err
	}
	if t.Status == status {
		return nil
	}
	prev := t.Status
	t.Status = status
	if err := s.tasks.Update(t); err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	if status == task.StatusCompleted {
		s.tasksCompleted.Add(1)
	}
	s.logger.Info("task status updated", "task_id", id, "from", prev, "to", status)
	return nil
}
