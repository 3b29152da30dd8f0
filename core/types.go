package core

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a fresh random identifier.
func NewID() string { return uuid.NewString() }

// CapabilityFunc performs the work behind a capability.
type CapabilityFunc func(ctx context.Context, params map[string]any, c *Context) (any, error)

// Capability is a named, executable unit of behavior supplied by the host.
type Capability struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters"`

	Execute CapabilityFunc                              `json:"-" yaml:"-"`
	Init    func(ctx context.Context, c *Context) error `json:"-" yaml:"-"` // optional, run by initialize
}

// RequiredResources returns the resource names listed under the
// "required_resources" parameter.
func (c Capability) RequiredResources() []string {
	return stringSlice(c.Parameters["required_resources"])
}

// DeclaredPreconditions returns the strings listed under the
// "preconditions" parameter.
func (c Capability) DeclaredPreconditions() []string {
	return stringSlice(c.Parameters["preconditions"])
}

func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...)
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			out = append(out, fmt.Sprint(e))
		}
		return out
	}
	return nil
}

// ConstraintKind classifies a constraint.
type ConstraintKind string

const (
	ConstraintSafety     ConstraintKind = "safety"
	ConstraintResource   ConstraintKind = "resource"
	ConstraintTime       ConstraintKind = "time"
	ConstraintPermission ConstraintKind = "permission"
	ConstraintEthical    ConstraintKind = "ethical"
)

// Valid reports whether k is a recognized kind.
func (k ConstraintKind) Valid() bool {
	switch k {
	case ConstraintSafety, ConstraintResource, ConstraintTime, ConstraintPermission, ConstraintEthical:
		return true
	}
	return false
}

// Constraint vetoes actions: a Rule returning false blocks the action.
// Rules must be pure and return promptly.
type Constraint struct {
	Kind        ConstraintKind                  `json:"kind"`
	Description string                          `json:"description"`
	Rule        func(a Action, c *Context) bool `json:"-"`
}

// ResourceKind classifies a resource.
type ResourceKind string

const (
	ResourceAPI             ResourceKind = "api"
	ResourceDatabase        ResourceKind = "database"
	ResourceFileSystem      ResourceKind = "file_system"
	ResourceExternalService ResourceKind = "external_service"
)

// Valid reports whether k is a recognized kind.
func (k ResourceKind) Valid() bool {
	switch k {
	case ResourceAPI, ResourceDatabase, ResourceFileSystem, ResourceExternalService:
		return true
	}
	return false
}

// Resource is a system or tool available to an agent. Probe is the
// best-effort data fetch used by perception.
type Resource struct {
	Kind        ResourceKind      `json:"kind" yaml:"kind"`
	Name        string            `json:"name" yaml:"name"`
	Endpoint    string            `json:"endpoint,omitempty" yaml:"endpoint"`
	Credentials map[string]string `json:"-" yaml:"credentials"`
	Permissions []string          `json:"permissions" yaml:"permissions"`

	Probe func(ctx context.Context) (any, error) `json:"-" yaml:"-"`
}

// Context is the operational environment bound to an agent at initialization.
type Context struct {
	ActorID     string         `json:"actor_id"`
	SessionID   string         `json:"session_id"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	Environment map[string]any `json:"environment,omitempty"`
	Constraints []Constraint   `json:"constraints,omitempty"`
	Resources   []Resource     `json:"resources,omitempty"`
}

// HasResource reports whether a resource with the given name is declared.
func (c *Context) HasResource(name string) bool {
	if c == nil {
		return false
	}
	for _, r := range c.Resources {
		if r.Name == name {
			return true
		}
	}
	return false
}

// Snapshot captures the serializable part of the context.
func (c *Context) Snapshot() ContextSnapshot {
	if c == nil {
		return ContextSnapshot{}
	}
	return ContextSnapshot{
		ActorID:     c.ActorID,
		SessionID:   c.SessionID,
		WorkspaceID: c.WorkspaceID,
		Environment: maps.Clone(c.Environment),
	}
}

// ContextSnapshot is the context recorded alongside an experience.
type ContextSnapshot struct {
	ActorID     string         `json:"actor_id,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	Environment map[string]any `json:"environment,omitempty"`
}

// GoalStatus is the lifecycle state of a goal.
type GoalStatus string

const (
	GoalPending   GoalStatus = "pending"
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalFailed    GoalStatus = "failed"
	GoalCancelled GoalStatus = "cancelled"
)

// Goal is a target outcome owned by exactly one agent.
type Goal struct {
	ID              string     `json:"id" yaml:"id"`
	Description     string     `json:"description" yaml:"description"`
	Priority        float64    `json:"priority" yaml:"priority"`
	Deadline        *time.Time `json:"deadline,omitempty" yaml:"deadline"`
	SuccessCriteria []string   `json:"success_criteria,omitempty" yaml:"success_criteria"`
	Progress        float64    `json:"progress" yaml:"progress"`
	Status          GoalStatus `json:"status" yaml:"status"`
	Subgoals        []Goal     `json:"subgoals,omitempty" yaml:"subgoals"`
}

// Clone returns a deep copy of g.
func (g Goal) Clone() Goal {
	out := g
	if g.Deadline != nil {
		d := *g.Deadline
		out.Deadline = &d
	}
	out.SuccessCriteria = append([]string(nil), g.SuccessCriteria...)
	if g.Subgoals != nil {
		out.Subgoals = make([]Goal, len(g.Subgoals))
		for i, s := range g.Subgoals {
			out.Subgoals[i] = s.Clone()
		}
	}
	return out
}

// Urgency scores g as priority divided by the seconds left before its
// deadline. Goals without a deadline score zero; overdue goals are clamped to
// one second so they rank as most urgent.
func (g Goal) Urgency(now time.Time) float64 {
	if g.Deadline == nil {
		return 0
	}
	secs := g.Deadline.Sub(now).Seconds()
	if secs < 1 {
		secs = 1
	}
	return g.Priority / secs
}

// MoreUrgent reports whether a should be worked on before b.
func MoreUrgent(a, b Goal, now time.Time) bool {
	ua, ub := a.Urgency(now), b.Urgency(now)
	if ua != ub {
		return ua > ub
	}
	return a.Priority > b.Priority
}

// PlanStatus is the lifecycle state of a plan.
type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanApproved  PlanStatus = "approved"
	PlanExecuting PlanStatus = "executing"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
)

// Plan is an ordered sequence of actions intended to satisfy a goal.
type Plan struct {
	ID                string        `json:"id"`
	GoalID            string        `json:"goal_id"`
	Actions           []Action      `json:"actions"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	RiskAssessment    float64       `json:"risk_assessment"`
	Alternatives      []Plan        `json:"alternatives,omitempty"`
	Status            PlanStatus    `json:"status"`
}

// Action is an atomic operation applied by invoking the capability named by Type.
type Action struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Description     string         `json:"description"`
	Parameters      map[string]any `json:"parameters"`
	ExpectedOutcome string         `json:"expected_outcome,omitempty"`
	Preconditions   []string       `json:"preconditions,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// NewAction creates an action with a fresh ID.
func NewAction(typ, description string, params map[string]any) Action {
	if params == nil {
		params = map[string]any{}
	}
	return Action{
		ID:          NewID(),
		Type:        typ,
		Description: description,
		Parameters:  params,
		CreatedAt:   time.Now(),
	}
}

// GoalID returns the goal the action was planned for, if recorded.
func (a Action) GoalID() string {
	id, _ := a.Parameters["goal_id"].(string)
	return id
}

// Experience is the recorded outcome of executing one action.
type Experience struct {
	ID             string          `json:"id"`
	Context        ContextSnapshot `json:"context"`
	Action         Action          `json:"action"`
	Outcome        any             `json:"outcome,omitempty"`
	Success        bool            `json:"success"`
	Timestamp      time.Time       `json:"timestamp"`
	LessonsLearned []string        `json:"lessons_learned,omitempty"`
}

// KnowledgeKind classifies knowledge.
type KnowledgeKind string

const (
	KnowledgeFact      KnowledgeKind = "fact"
	KnowledgeRule      KnowledgeKind = "rule"
	KnowledgeProcedure KnowledgeKind = "procedure"
	KnowledgeConcept   KnowledgeKind = "concept"
)

// Knowledge is a durable, confidence-weighted item of long-term memory.
type Knowledge struct {
	ID         string        `json:"id"`
	Kind       KnowledgeKind `json:"kind"`
	Content    any           `json:"content"`
	Confidence float64       `json:"confidence"`
	Source     string        `json:"source"`
	Timestamp  time.Time     `json:"timestamp"`
	Tags       []string      `json:"tags"`
}

// HasTag reports whether k carries tag.
func (k Knowledge) HasTag(tag string) bool {
	for _, t := range k.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Perception is one result of querying a resource.
type Perception struct {
	Resource string    `json:"resource"`
	Data     any       `json:"data"`
	At       time.Time `json:"at"`
}

// MemoryConfig tunes the bookkeeping limits of an agent's memory.
type MemoryConfig struct {
	ShortTermCapacity       int    `json:"short_term_capacity" yaml:"short_term_capacity" toml:"short_term_capacity"`
	LongTermRetentionPolicy string `json:"long_term_retention_policy" yaml:"long_term_retention_policy" toml:"long_term_retention_policy"`
	EpisodicMemoryLimit     int    `json:"episodic_memory_limit" yaml:"episodic_memory_limit" toml:"episodic_memory_limit"`
}

// AgentConfig is accepted by the lifecycle manager at creation.
type AgentConfig struct {
	Name         string        `json:"name"`
	Type         string        `json:"type"`
	Capabilities []string      `json:"capabilities"`
	Constraints  []Constraint  `json:"constraints,omitempty"`
	Resources    []Resource    `json:"resources,omitempty"`
	InitialGoals []Goal        `json:"initial_goals,omitempty"`
	MemoryConfig *MemoryConfig `json:"memory_config,omitempty"`
}

// Validate checks the config and wraps ErrInvalidConfig on failure.
func (c AgentConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Type) == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidConfig)
	}
	if len(c.Capabilities) == 0 {
		return fmt.Errorf("%w: at least one capability is required", ErrInvalidConfig)
	}
	for i, name := range c.Capabilities {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: capability %d has no name", ErrInvalidConfig, i)
		}
	}
	for i, con := range c.Constraints {
		if !con.Kind.Valid() || con.Description == "" || con.Rule == nil {
			return fmt.Errorf("%w: constraint %d is malformed", ErrInvalidConfig, i)
		}
	}
	for i, r := range c.Resources {
		if !r.Kind.Valid() || r.Name == "" {
			return fmt.Errorf("%w: resource %d is malformed", ErrInvalidConfig, i)
		}
	}
	return nil
}

// Clone returns a copy of c whose slices can be mutated independently.
func (c AgentConfig) Clone() AgentConfig {
	out := c
	out.Capabilities = append([]string(nil), c.Capabilities...)
	out.Constraints = append([]Constraint(nil), c.Constraints...)
	out.Resources = append([]Resource(nil), c.Resources...)
	if c.InitialGoals != nil {
		out.InitialGoals = make([]Goal, len(c.InitialGoals))
		for i, g := range c.InitialGoals {
			out.InitialGoals[i] = g.Clone()
		}
	}
	if c.MemoryConfig != nil {
		mc := *c.MemoryConfig
		out.MemoryConfig = &mc
	}
	return out
}
