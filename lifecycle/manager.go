// Package lifecycle owns the registry of agents: creation, initialization,
// start, pause, resume, termination, restart, cloning, health and system
// statistics.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/agentcore/agent"
	"github.com/GoCodeAlone/agentcore/core"
	"github.com/GoCodeAlone/agentcore/internal/broadcast"
	"github.com/GoCodeAlone/agentcore/memory"
	"github.com/GoCodeAlone/agentcore/planning"
)

// Options configures a Manager. Zero fields get defaults.
type Options struct {
	Catalog *Catalog
	Memory  *memory.Manager
	Planner planning.Planner // planning.NewEngine when nil
	Loop    agent.LoopConfig
	Logger  *slog.Logger
}

type entry struct {
	agent  *agent.Agent
	config core.AgentConfig
	ctx    *core.Context // as passed to InitializeAgent
}

// Manager is the registry of live agents.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	catalog *Catalog
	memory  *memory.Manager
	planner planning.Planner
	loop    agent.LoopConfig
	base    *slog.Logger
	logger  *slog.Logger
	events  *broadcast.Broadcaster[Event]
}

// NewManager returns an empty Manager.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		entries: make(map[string]*entry),
		catalog: opts.Catalog,
		memory:  opts.Memory,
		planner: opts.Planner,
		loop:    opts.Loop,
		base:    logger,
		logger:  logger.With("component", "lifecycle"),
		events:  broadcast.New[Event](),
	}
	if m.catalog == nil {
		m.catalog = NewCatalog()
	}
	if m.memory == nil {
		m.memory = memory.NewManager(memory.WithLogger(logger))
	}
	if m.planner == nil {
		m.planner = planning.NewEngine(logger)
	}
	return m
}

// Catalog returns the capability catalog used to resolve agent configs.
func (m *Manager) Catalog() *Catalog { return m.catalog }

// Memory returns the memory manager shared by every agent.
func (m *Manager) Memory() *memory.Manager { return m.memory }

// CreateAgent validates cfg, builds the agent and registers it. The agent
// starts in the initializing status.
func (m *Manager) CreateAgent(cfg core.AgentConfig) (*agent.Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a, err := agent.New(agent.Config{
		Agent:        cfg,
		Capabilities: m.catalog.Resolve(cfg.Capabilities),
		Memory:       m.memory,
		Planner:      m.planner,
		Logger:       m.base,
		Loop:         m.loop,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.entries[a.ID()] = &entry{agent: a, config: cfg.Clone()}
	m.order = append(m.order, a.ID())
	m.mu.Unlock()

	m.watch(a)
	m.logger.Info("agent created", "agent_id", a.ID(), "name", cfg.Name, "type", cfg.Type)
	m.emit(Event{Type: EventCreated, AgentID: a.ID()})
	return a, nil
}

// InitializeAgent binds c to the agent and prepares its memory.
func (m *Manager) InitializeAgent(ctx context.Context, id string, c *core.Context) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	m.logger.Info("initializing agent", "agent_id", id)
	if err := e.agent.Initialize(ctx, c); err != nil {
		return err
	}
	m.mu.Lock()
	e.ctx = c
	m.mu.Unlock()
	m.emit(Event{Type: EventInitialized, AgentID: id})
	return nil
}

// StartAgent starts the autonomous loop of an idle agent.
func (m *Manager) StartAgent(ctx context.Context, id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	if s := e.agent.Status(); s != core.StatusIdle {
		return fmt.Errorf("%w: agent %s must be idle to start, current: %s", core.ErrInvalidState, id, s)
	}
	m.logger.Info("starting agent", "agent_id", id)
	if err := e.agent.Start(ctx); err != nil {
		return err
	}
	m.emit(Event{Type: EventStarted, AgentID: id})
	return nil
}

// PauseAgent pauses an agent.
func (m *Manager) PauseAgent(id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	m.logger.Info("pausing agent", "agent_id", id)
	if err := e.agent.Pause(); err != nil {
		return err
	}
	m.emit(Event{Type: EventPaused, AgentID: id})
	return nil
}

// ResumeAgent resumes a paused agent.
func (m *Manager) ResumeAgent(ctx context.Context, id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	if s := e.agent.Status(); s != core.StatusPaused {
		return fmt.Errorf("%w: agent %s must be paused to resume, current: %s", core.ErrInvalidState, id, s)
	}
	m.logger.Info("resuming agent", "agent_id", id)
	if err := e.agent.Resume(ctx); err != nil {
		return err
	}
	m.emit(Event{Type: EventResumed, AgentID: id})
	return nil
}

// TerminateAgent terminates an agent, releases its memory partition and
// removes it from the registry. Terminating an unknown agent is a no-op.
func (m *Manager) TerminateAgent(id string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
		m.order = slices.DeleteFunc(m.order, func(x string) bool { return x == id })
	}
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("terminate ignored, agent not registered", "agent_id", id)
		return nil
	}

	m.logger.Info("terminating agent", "agent_id", id)
	err := e.agent.Terminate()
	m.memory.Release(id)
	m.emit(Event{Type: EventTerminated, AgentID: id})
	return err
}

// RestartAgent terminates an agent and creates a replacement from its stored
// config. When the old agent had been initialized, the replacement is
// initialized with the same context and started.
func (m *Manager) RestartAgent(ctx context.Context, id string) (*agent.Agent, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	cfg, c := e.config.Clone(), e.ctx
	m.mu.RUnlock()

	m.logger.Info("restarting agent", "agent_id", id)
	if err := m.TerminateAgent(id); err != nil {
		return nil, err
	}
	next, err := m.CreateAgent(cfg)
	if err != nil {
		return nil, fmt.Errorf("restart %s: %w", id, err)
	}
	if c != nil {
		if err := m.InitializeAgent(ctx, next.ID(), c); err != nil {
			return next, fmt.Errorf("restart %s: %w", id, err)
		}
		if err := m.StartAgent(ctx, next.ID()); err != nil {
			return next, fmt.Errorf("restart %s: %w", id, err)
		}
	}
	m.emit(Event{Type: EventRestarted, AgentID: id, RelatedID: next.ID()})
	return next, nil
}

// CloneAgent creates a new agent from another agent's config. An empty name
// becomes "<name>-clone-<8 chars>".
func (m *Manager) CloneAgent(id, name string) (*agent.Agent, error) {
	cfg, err := m.AgentConfig(id)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = cfg.Name + "-clone-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	cfg.Name = name
	clone, err := m.CreateAgent(cfg)
	if err != nil {
		return nil, err
	}
	m.emit(Event{Type: EventCloned, AgentID: id, RelatedID: clone.ID()})
	return clone, nil
}

// EmergencyStop terminates every agent that is not already terminated and
// clears the registry. Failures are logged, not returned. It returns how
// many agents were stopped.
func (m *Manager) EmergencyStop() int {
	m.logger.Warn("emergency stop initiated for all agents")

	m.mu.Lock()
	entries := make([]*entry, 0, len(m.order))
	for _, id := range m.order {
		entries = append(entries, m.entries[id])
	}
	clear(m.entries)
	m.order = nil
	m.mu.Unlock()

	var (
		errs    []error
		stopped int
	)
	for _, e := range entries {
		id := e.agent.ID()
		if e.agent.Status() != core.StatusTerminated {
			stopped++
			if err := e.agent.Terminate(); err != nil {
				errs = append(errs, fmt.Errorf("terminate %s: %w", id, err))
			}
		}
		m.memory.Release(id)
	}
	if err := errors.Join(errs...); err != nil {
		m.logger.Error("emergency stop had failures", "error", err)
	}
	m.emit(Event{Type: EventEmergencyStop, Count: stopped})
	return stopped
}

// AgentHealth is the health of one agent.
type AgentHealth struct {
	Status    core.Status   `json:"status"`
	Healthy   bool          `json:"healthy"`
	Metrics   agent.Metrics `json:"metrics"`
	LastCheck time.Time     `json:"last_check"`
}

// HealthReport summarizes every registered agent.
type HealthReport struct {
	Overall    bool                   `json:"overall_health"`
	AgentCount int                    `json:"agent_count"`
	Agents     map[string]AgentHealth `json:"agents"`
	Timestamp  time.Time              `json:"timestamp"`
}

// HealthCheck reports each agent's status and metrics. An agent is healthy
// unless it is in the error status.
func (m *Manager) HealthCheck() HealthReport {
	agents := m.ListAgents()
	now := time.Now()
	report := HealthReport{
		Overall:    true,
		AgentCount: len(agents),
		Agents:     make(map[string]AgentHealth, len(agents)),
		Timestamp:  now,
	}
	for _, a := range agents {
		metrics := a.Metrics()
		h := AgentHealth{
			Status:    metrics.Status,
			Healthy:   metrics.Status != core.StatusError,
			Metrics:   metrics,
			LastCheck: now,
		}
		report.Overall = report.Overall && h.Healthy
		report.Agents[a.ID()] = h
	}
	return report
}

// SystemStats summarizes the registry.
type SystemStats struct {
	TotalAgents        int                 `json:"total_agents"`
	StatusDistribution map[core.Status]int `json:"status_distribution"`
	TypeDistribution   map[string]int      `json:"type_distribution"`
	ActiveAgents       int                 `json:"active_agents"`
	Timestamp          time.Time           `json:"timestamp"`
}

// GetSystemStats counts agents by status and type. Active agents are those
// planning, executing or learning.
func (m *Manager) GetSystemStats() SystemStats {
	agents := m.ListAgents()
	stats := SystemStats{
		TotalAgents:        len(agents),
		StatusDistribution: make(map[core.Status]int),
		TypeDistribution:   make(map[string]int),
		Timestamp:          time.Now(),
	}
	for _, a := range agents {
		s := a.Status()
		stats.StatusDistribution[s]++
		stats.TypeDistribution[a.Type()]++
		if s.IsActive() {
			stats.ActiveAgents++
		}
	}
	return stats
}

// GetAgent returns a registered agent.
func (m *Manager) GetAgent(id string) (*agent.Agent, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.agent, nil
}

// ListAgents returns registered agents in creation order.
func (m *Manager) ListAgents() []*agent.Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*agent.Agent, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.entries[id].agent)
	}
	return out
}

// AgentsByStatus returns agents currently in status s.
func (m *Manager) AgentsByStatus(s core.Status) []*agent.Agent {
	return slices.DeleteFunc(m.ListAgents(), func(a *agent.Agent) bool { return a.Status() != s })
}

// AgentsByType returns agents of the given type.
func (m *Manager) AgentsByType(typ string) []*agent.Agent {
	return slices.DeleteFunc(m.ListAgents(), func(a *agent.Agent) bool { return a.Type() != typ })
}

// AgentConfig returns a copy of the stored config of an agent.
func (m *Manager) AgentConfig(id string) (core.AgentConfig, error) {
	e, err := m.lookup(id)
	if err != nil {
		return core.AgentConfig{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return e.config.Clone(), nil
}

// UpdateAgentConfig applies update to a copy of the stored config and keeps
// it if it still validates. The running agent is unaffected until it is
// restarted.
func (m *Manager) UpdateAgentConfig(id string, update func(*core.AgentConfig)) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	next := e.config.Clone()
	update(&next)
	if err := next.Validate(); err != nil {
		m.mu.Unlock()
		return err
	}
	e.config = next
	m.mu.Unlock()

	m.logger.Info("agent config updated", "agent_id", id)
	m.emit(Event{Type: EventConfigUpdated, AgentID: id})
	return nil
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrAgentNotFound, id)
	}
	return e, nil
}
