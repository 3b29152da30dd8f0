// Package coordination lets registered agents negotiate tasks, take
// delegations, collaborate on shared goals and have conflicts resolved. It
// keeps its own registry, independent of the lifecycle manager.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/agentcore/agent"
	"github.com/GoCodeAlone/agentcore/comms"
	"github.com/GoCodeAlone/agentcore/core"
	"github.com/GoCodeAlone/agentcore/task"
)

// Participant is an agent that can take part in coordination.
// *agent.Agent satisfies it.
type Participant interface {
	ID() string
	Name() string
	Status() core.Status
	Capabilities() []core.Capability
	Goals() []core.Goal
	Experiences() ([]core.Experience, error)
	DraftPlan(ctx context.Context, goal core.Goal) (core.Plan, error)
	AdoptPlan(p core.Plan) error
	ReceiveMessage(ctx context.Context, msg core.Message) (core.Ack, error)
	SubscribeMessages() (<-chan agent.MessageEvent, func())
}

type registration struct {
	p      Participant
	unsub  func()
	cancel func()
}

// Service is the coordination hub. Negotiate, Collaborate and
// ResolveConflict run one at a time.
type Service struct {
	opMu sync.Mutex

	mu        sync.RWMutex
	agents    map[string]*registration
	teams     map[string]*Team
	conflicts map[string]*Conflict

	bus    comms.Bus
	tasks  task.Store
	logger *slog.Logger

	tasksCompleted    atomic.Int64
	conflictsResolved atomic.Int64
	teamsFormed       atomic.Int64
	messagesExchanged atomic.Int64
}

// NewService returns a Service routing through bus and recording tasks in
// store. Nil arguments get an in-memory bus, an in-memory store and
// slog.Default.
func NewService(bus comms.Bus, store task.Store, logger *slog.Logger) *Service {
	if bus == nil {
		bus = comms.NewInMemoryBus()
	}
	if store == nil {
		store = task.NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		agents:    make(map[string]*registration),
		teams:     make(map[string]*Team),
		conflicts: make(map[string]*Conflict),
		bus:       bus,
		tasks:     store,
		logger:    logger.With("component", "coordination"),
	}
}

// RegisterAgent subscribes p to the bus and starts routing the broadcasts
// it sends to every other registered agent. Registering again replaces the
// earlier registration.
func (s *Service) RegisterAgent(p Participant) {
	id := p.ID()
	unsub := s.bus.Subscribe(id, p.ReceiveMessage)
	events, cancel := p.SubscribeMessages()

	s.mu.Lock()
	prev := s.agents[id]
	s.agents[id] = &registration{p: p, unsub: unsub, cancel: cancel}
	s.mu.Unlock()
	if prev != nil {
		prev.cancel()
	}

	go s.route(id, events)
	s.logger.Info("agent registered for coordination", "agent_id", id)
}

// route relays agent-originated broadcasts until the subscription closes.
func (s *Service) route(id string, events <-chan agent.MessageEvent) {
	for ev := range events {
		if !ev.Outbound {
			continue
		}
		s.messagesExchanged.Add(1)
		if !ev.Message.IsBroadcast() {
			continue
		}
		n, err := s.bus.Publish(context.Background(), ev.Message)
		if err != nil {
			s.logger.Warn("agent broadcast partially failed", "agent_id", id, "delivered", n, "error", err)
		}
	}
}

// UnregisterAgent removes an agent from the registry and from every team.
// Teams left without members are deleted.
func (s *Service) UnregisterAgent(id string) {
	s.mu.Lock()
	reg, ok := s.agents[id]
	delete(s.agents, id)
	for teamID, team := range s.teams {
		team.AgentIDs = slices.DeleteFunc(team.AgentIDs, func(x string) bool { return x == id })
		if len(team.AgentIDs) == 0 {
			delete(s.teams, teamID)
		}
	}
	s.mu.Unlock()

	if ok {
		reg.unsub()
		reg.cancel()
	}
	s.logger.Info("agent unregistered from coordination", "agent_id", id)
}

// Registered reports whether id is registered.
func (s *Service) Registered(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.agents[id]
	return ok
}

// Agents returns the registered participants ordered by ID.
func (s *Service) Agents() []Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Participant, len(ids))
	for i, id := range ids {
		out[i] = s.agents[id].p
	}
	return out
}

// send delivers a direct message. An unknown recipient or a failing handler
// is logged and yields a zero ack.
func (s *Service) send(ctx context.Context, msg core.Message) (core.Ack, bool) {
	s.messagesExchanged.Add(1)
	ack, err := s.bus.Deliver(ctx, msg)
	switch {
	case errors.Is(err, comms.ErrNoRecipient):
		s.logger.Warn("target agent not found", "to", msg.To, "message_id", msg.ID)
		return core.Ack{}, false
	case err != nil:
		s.logger.Warn("message delivery failed", "to", msg.To, "message_id", msg.ID, "error", err)
		return core.Ack{}, false
	}
	return ack, true
}

// BroadcastMessage delivers msg to every registered agent. Individual
// failures do not stop delivery; the number delivered is returned together
// with the joined failures.
func (s *Service) BroadcastMessage(ctx context.Context, msg core.Message) (int, error) {
	if msg.ID == "" {
		msg.ID = core.NewID()
	}
	if msg.From == "" {
		msg.From = core.CoordinatorID
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.To = core.Broadcast

	s.messagesExchanged.Add(1)
	n, err := s.bus.Publish(ctx, msg)
	s.logger.Debug("broadcast message", "kind", msg.Kind, "delivered", n)
	if err != nil {
		s.logger.Warn("broadcast partially failed", "delivered", n, "error", err)
		return n, fmt.Errorf("broadcast %s: %w", msg.ID, err)
	}
	return n, nil
}

// History returns recent bus traffic visible to agentID.
func (s *Service) History(agentID string, limit int) []core.Message {
	return s.bus.History(agentID, limit)
}

// Stats is the coordination snapshot.
type Stats struct {
	TasksCompleted    int64     `json:"tasks_completed"`
	ConflictsResolved int64     `json:"conflicts_resolved"`
	TeamsFormed       int64     `json:"teams_formed"`
	MessagesExchanged int64     `json:"messages_exchanged"`
	ActiveAgents      int       `json:"active_agents"`
	ActiveTasks       int       `json:"active_tasks"`
	ActiveTeams       int       `json:"active_teams"`
	PendingConflicts  int       `json:"pending_conflicts"`
	Timestamp         time.Time `json:"timestamp"`
}

// GetCoordinationStats returns counters and current sizes. A failing task
// store is logged and reported as zero active tasks.
func (s *Service) GetCoordinationStats() Stats {
	st := Stats{
		TasksCompleted:    s.tasksCompleted.Load(),
		ConflictsResolved: s.conflictsResolved.Load(),
		TeamsFormed:       s.teamsFormed.Load(),
		MessagesExchanged: s.messagesExchanged.Load(),
		Timestamp:         time.Now(),
	}
	executing := task.StatusExecuting
	if active, err := s.tasks.List(task.Filter{Status: &executing}); err != nil {
		s.logger.Warn("listing active tasks failed", "error", err)
	} else {
		st.ActiveTasks = len(active)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	st.ActiveAgents = len(s.agents)
	st.ActiveTeams = len(s.teams)
	for _, c := range s.conflicts {
		if c.Status == ConflictPending {
			st.PendingConflicts++
		}
	}
	return st
}

// Close unregisters every agent and closes the task store.
func (s *Service) Close() error {
	for _, p := range s.Agents() {
		s.UnregisterAgent(p.ID())
	}
	return s.tasks.Close()
}
