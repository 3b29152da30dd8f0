// Package agent implements the autonomous agent runtime: a status machine,
// the perceive/decide/execute/learn loop, goal bookkeeping, messaging and
// typed event streams.
package agent

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/agentcore/core"
	"github.com/GoCodeAlone/agentcore/memory"
	"github.com/GoCodeAlone/agentcore/planning"
)

// LoopConfig tunes the autonomous loop.
type LoopConfig struct {
	// IdleInterval is the sleep when no goal is active.
	IdleInterval time.Duration
	// ActionInterval is the sleep after each executed action.
	ActionInterval time.Duration
	// ErrorBackoff is the sleep after a failed iteration.
	ErrorBackoff time.Duration
	// MaxActionFailures fails the goal once one action failed this often.
	MaxActionFailures int
}

// DefaultLoopConfig returns the standard loop timing.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		IdleInterval:      5 * time.Second,
		ActionInterval:    time.Second,
		ErrorBackoff:      5 * time.Second,
		MaxActionFailures: 3,
	}
}

func (c LoopConfig) withDefaults() LoopConfig {
	d := DefaultLoopConfig()
	if c.IdleInterval <= 0 {
		c.IdleInterval = d.IdleInterval
	}
	if c.ActionInterval <= 0 {
		c.ActionInterval = d.ActionInterval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = d.ErrorBackoff
	}
	if c.MaxActionFailures <= 0 {
		c.MaxActionFailures = d.MaxActionFailures
	}
	return c
}

// Config holds everything needed to construct an Agent.
type Config struct {
	ID           string // generated when empty
	Agent        core.AgentConfig
	Capabilities []core.Capability // resolved from Agent.Capabilities

	Memory  *memory.Manager  // a private manager is created when nil
	Planner planning.Planner // planning.Direct when nil
	Logger  *slog.Logger
	Loop    LoopConfig
}

// Info provides read-only metadata about an agent.
type Info struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Status      core.Status `json:"status"`
	CurrentGoal string      `json:"current_goal,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   time.Time   `json:"started_at,omitempty"`
}

// Agent is one autonomous worker. All methods are safe for concurrent use.
type Agent struct {
	id        string
	cfg       core.AgentConfig
	caps      []core.Capability
	capIndex  map[string]core.Capability
	memory    *memory.Manager
	planner   planning.Planner
	loopCfg   LoopConfig
	logger    *slog.Logger
	logs      *logRing
	streams   Streams
	createdAt time.Time

	mu        sync.RWMutex
	status    core.Status
	bound     *core.Context
	goals     []core.Goal
	plan      *core.Plan
	succeeded map[string]bool // action ids of the current plan
	failures  map[string]int  // per action id of the current plan
	startedAt time.Time
	loopStop  chan struct{}
	loopDone  chan struct{}

	// iterMu serializes loop iterations with external Execute and Decide calls.
	iterMu sync.Mutex

	actionsExecuted  atomic.Int64
	actionsFailed    atomic.Int64
	loopIterations   atomic.Int64
	messagesReceived atomic.Int64
}

// New builds an agent in the initializing status. Goals from the config are
// added immediately.
func New(cfg Config) (*Agent, error) {
	if err := cfg.Agent.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Capabilities) == 0 {
		return nil, fmt.Errorf("%w: no resolved capabilities", core.ErrInvalidConfig)
	}
	index := make(map[string]core.Capability, len(cfg.Capabilities))
	for _, c := range cfg.Capabilities {
		if c.Execute == nil {
			return nil, fmt.Errorf("%w: capability %q has no executor", core.ErrInvalidConfig, c.Name)
		}
		if _, dup := index[c.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate capability %q", core.ErrInvalidConfig, c.Name)
		}
		index[c.Name] = c
	}

	id := cfg.ID
	if id == "" {
		id = core.NewID()
	}
	base := cfg.Logger
	if base == nil {
		base = slog.Default()
	}
	logs := newLogRing()
	logger := slog.New(newRingHandler(logs, base.Handler())).With(
		"component", "agent", "agent_id", id, "agent_name", cfg.Agent.Name)

	mem := cfg.Memory
	if mem == nil {
		mem = memory.NewManager(memory.WithLogger(base))
	}
	planner := cfg.Planner
	if planner == nil {
		planner = planning.Direct{}
	}

	a := &Agent{
		id:        id,
		cfg:       cfg.Agent.Clone(),
		caps:      slices.Clone(cfg.Capabilities),
		capIndex:  index,
		memory:    mem,
		planner:   planner,
		loopCfg:   cfg.Loop.withDefaults(),
		logger:    logger,
		logs:      logs,
		streams:   newStreams(),
		createdAt: time.Now(),
		status:    core.StatusInitializing,
		succeeded: make(map[string]bool),
		failures:  make(map[string]int),
	}
	for _, g := range a.cfg.InitialGoals {
		a.AddGoal(g)
	}
	return a, nil
}

func (a *Agent) ID() string   { return a.id }
func (a *Agent) Name() string { return a.cfg.Name }
func (a *Agent) Type() string { return a.cfg.Type }

// Config returns a copy of the agent's configuration.
func (a *Agent) Config() core.AgentConfig { return a.cfg.Clone() }

// Capabilities returns the agent's capabilities.
func (a *Agent) Capabilities() []core.Capability { return slices.Clone(a.caps) }

// HasCapability reports whether the agent can run actions of the given type.
func (a *Agent) HasCapability(name string) bool {
	_, ok := a.capIndex[name]
	return ok
}

// Status returns the current status.
func (a *Agent) Status() core.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// Context returns the bound operational context, or nil before Initialize.
func (a *Agent) Context() *core.Context {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.bound
}

// Streams returns the agent's event streams.
func (a *Agent) Streams() Streams { return a.streams }

// Logs returns up to the last 100 log entries, oldest first.
func (a *Agent) Logs() []LogEntry { return a.logs.snapshot() }

// Info returns the agent's current metadata.
func (a *Agent) Info() Info {
	a.mu.RLock()
	defer a.mu.RUnlock()
	info := Info{
		ID:        a.id,
		Name:      a.cfg.Name,
		Type:      a.cfg.Type,
		Status:    a.status,
		CreatedAt: a.createdAt,
		StartedAt: a.startedAt,
	}
	if a.plan != nil {
		info.CurrentGoal = a.plan.GoalID
	}
	return info
}

// setStatus moves to the given status when the state machine allows it and
// reports whether it did.
func (a *Agent) setStatus(to core.Status) bool {
	a.mu.Lock()
	from := a.status
	if from == to {
		a.mu.Unlock()
		return true
	}
	if !from.CanTransition(to) {
		a.mu.Unlock()
		a.logger.Debug("status change ignored", "from", from, "to", to)
		return false
	}
	a.status = to
	a.mu.Unlock()
	a.statusChanged(from, to)
	return true
}

// setStatusIf moves from one specific status to another.
func (a *Agent) setStatusIf(from, to core.Status) bool {
	a.mu.Lock()
	if a.status != from || !from.CanTransition(to) {
		a.mu.Unlock()
		return false
	}
	a.status = to
	a.mu.Unlock()
	a.statusChanged(from, to)
	return true
}

func (a *Agent) statusChanged(from, to core.Status) {
	a.logger.Debug("status changed", "from", from, "to", to)
	a.streams.Status.publish(StatusEvent{AgentID: a.id, From: from, To: to, At: time.Now()})
}

// settle returns a transient working status to idle.
func (a *Agent) settle(from core.Status) {
	a.setStatusIf(from, core.StatusIdle)
}

// requireUsable rejects operations that need a bound context.
func (a *Agent) requireUsable(op string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	switch {
	case a.status == core.StatusTerminated:
		return fmt.Errorf("%w: %s on terminated agent %s", core.ErrInvalidState, op, a.id)
	case a.bound == nil:
		return fmt.Errorf("%w: %s before initialize on agent %s", core.ErrInvalidState, op, a.id)
	}
	return nil
}
