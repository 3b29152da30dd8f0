// Package config defines the agentcore application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/agentcore/agent"
	"github.com/GoCodeAlone/agentcore/core"
)

// Config is the top-level agentcore configuration.
type Config struct {
	Agents       []AgentConfig      `yaml:"agents" toml:"agents"`
	Runtime      RuntimeConfig      `yaml:"runtime" toml:"runtime"`
	Memory       MemoryConfig       `yaml:"memory" toml:"memory"`
	Coordination CoordinationConfig `yaml:"coordination" toml:"coordination"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
}

// AgentConfig defines one agent to create at startup.
type AgentConfig struct {
	Name         string             `yaml:"name" toml:"name"`
	Type         string             `yaml:"type" toml:"type"`
	Capabilities []string           `yaml:"capabilities" toml:"capabilities"`
	InitialGoals []GoalConfig       `yaml:"initial_goals" toml:"initial_goals"`
	Memory       *core.MemoryConfig `yaml:"memory" toml:"memory"`
	Resources    []ResourceConfig   `yaml:"resources" toml:"resources"`
}

// GoalConfig is a goal given to an agent at startup. DeadlineIn is relative
// to the moment the agent is built.
type GoalConfig struct {
	ID              string   `yaml:"id" toml:"id"`
	Description     string   `yaml:"description" toml:"description"`
	Priority        float64  `yaml:"priority" toml:"priority"`
	DeadlineIn      Duration `yaml:"deadline_in" toml:"deadline_in"`
	SuccessCriteria []string `yaml:"success_criteria" toml:"success_criteria"`
}

// ResourceConfig declares a resource an agent may perceive.
type ResourceConfig struct {
	Kind        string   `yaml:"kind" toml:"kind"`
	Name        string   `yaml:"name" toml:"name"`
	Endpoint    string   `yaml:"endpoint" toml:"endpoint"`
	Permissions []string `yaml:"permissions" toml:"permissions"`
}

// RuntimeConfig tunes every agent's control loop.
type RuntimeConfig struct {
	IdleInterval      Duration `yaml:"idle_interval" toml:"idle_interval"`
	ActionInterval    Duration `yaml:"action_interval" toml:"action_interval"`
	ErrorBackoff      Duration `yaml:"error_backoff" toml:"error_backoff"`
	MaxActionFailures int      `yaml:"max_action_failures" toml:"max_action_failures"`
}

// MemoryConfig selects the shared knowledge pool.
type MemoryConfig struct {
	GlobalPool string `yaml:"global_pool" toml:"global_pool"` // "memory" or "redis"
	RedisAddr  string `yaml:"redis_addr" toml:"redis_addr"`
	RedisKey   string `yaml:"redis_key" toml:"redis_key"`
}

// CoordinationConfig selects the task store and the tasks negotiated at
// startup.
type CoordinationConfig struct {
	TaskStore    string       `yaml:"task_store" toml:"task_store"` // "memory" or "sqlite"
	DatabasePath string       `yaml:"database_path" toml:"database_path"`
	Tasks        []TaskConfig `yaml:"tasks" toml:"tasks"`
}

// TaskConfig is a task offered to every configured agent at startup.
type TaskConfig struct {
	Description string   `yaml:"description" toml:"description"`
	Priority    float64  `yaml:"priority" toml:"priority"`
	DeadlineIn  Duration `yaml:"deadline_in" toml:"deadline_in"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // "text" or "json"
}

const (
	PoolMemory  = "memory"
	PoolRedis   = "redis"
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Duration is a time.Duration written as a string such as "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	loop := agent.DefaultLoopConfig()
	return &Config{
		Runtime: RuntimeConfig{
			IdleInterval:      Duration{loop.IdleInterval},
			ActionInterval:    Duration{loop.ActionInterval},
			ErrorBackoff:      Duration{loop.ErrorBackoff},
			MaxActionFailures: loop.MaxActionFailures,
		},
		Memory: MemoryConfig{
			GlobalPool: PoolMemory,
		},
		Coordination: CoordinationConfig{
			TaskStore:    StoreMemory,
			DatabasePath: "./data/agentcore.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML or TOML config file, chosen by extension, on top of the
// defaults. ${VAR} references are replaced from the environment first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := expandEnvVars(string(data))

	cfg := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config %s: unsupported format %q", path, ext)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envRef.FindStringSubmatch(match)[1])
	})
}

// Validate reports the first problem in c.
func (c *Config) Validate() error {
	names := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if err := a.ToAgentConfig(time.Now()).Validate(); err != nil {
			return fmt.Errorf("agents[%d]: %w", i, err)
		}
		if names[a.Name] {
			return fmt.Errorf("agents[%d]: duplicate name %q", i, a.Name)
		}
		names[a.Name] = true
		for j, g := range a.InitialGoals {
			if strings.TrimSpace(g.Description) == "" {
				return fmt.Errorf("agents[%d].initial_goals[%d]: description is required", i, j)
			}
		}
	}

	r := c.Runtime
	if r.IdleInterval.Duration <= 0 || r.ActionInterval.Duration <= 0 || r.ErrorBackoff.Duration <= 0 {
		return fmt.Errorf("runtime intervals must be positive")
	}
	if r.MaxActionFailures < 1 {
		return fmt.Errorf("runtime.max_action_failures must be at least 1")
	}

	switch c.Memory.GlobalPool {
	case PoolMemory:
	case PoolRedis:
		if c.Memory.RedisAddr == "" {
			return fmt.Errorf("memory.redis_addr is required for the redis pool")
		}
	default:
		return fmt.Errorf("memory.global_pool %q is not one of memory, redis", c.Memory.GlobalPool)
	}

	switch c.Coordination.TaskStore {
	case StoreMemory:
	case StoreSQLite:
		if c.Coordination.DatabasePath == "" {
			return fmt.Errorf("coordination.database_path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("coordination.task_store %q is not one of memory, sqlite", c.Coordination.TaskStore)
	}
	for i, t := range c.Coordination.Tasks {
		if strings.TrimSpace(t.Description) == "" {
			return fmt.Errorf("coordination.tasks[%d]: description is required", i)
		}
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	if f := c.Logging.Format; f != "text" && f != "json" {
		return fmt.Errorf("logging.format %q is not one of text, json", f)
	}
	return nil
}

// ToAgentConfig converts a to the form the lifecycle manager accepts.
// Relative goal deadlines are resolved against now.
func (a AgentConfig) ToAgentConfig(now time.Time) core.AgentConfig {
	out := core.AgentConfig{
		Name:         a.Name,
		Type:         a.Type,
		Capabilities: append([]string(nil), a.Capabilities...),
	}
	if a.Memory != nil {
		mc := *a.Memory
		out.MemoryConfig = &mc
	}
	for _, r := range a.Resources {
		out.Resources = append(out.Resources, core.Resource{
			Kind:        core.ResourceKind(r.Kind),
			Name:        r.Name,
			Endpoint:    r.Endpoint,
			Permissions: append([]string(nil), r.Permissions...),
		})
	}
	for _, g := range a.InitialGoals {
		goal := core.Goal{
			ID:              g.ID,
			Description:     g.Description,
			Priority:        g.Priority,
			SuccessCriteria: append([]string(nil), g.SuccessCriteria...),
			Status:          core.GoalActive,
		}
		if g.DeadlineIn.Duration > 0 {
			d := now.Add(g.DeadlineIn.Duration)
			goal.Deadline = &d
		}
		out.InitialGoals = append(out.InitialGoals, goal)
	}
	return out
}

// LoopConfig returns the control loop settings.
func (r RuntimeConfig) LoopConfig() agent.LoopConfig {
	return agent.LoopConfig{
		IdleInterval:      r.IdleInterval.Duration,
		ActionInterval:    r.ActionInterval.Duration,
		ErrorBackoff:      r.ErrorBackoff.Duration,
		MaxActionFailures: r.MaxActionFailures,
	}
}

// SlogLevel returns the configured level, falling back to info.
func (l LoggingConfig) SlogLevel() slog.Level {
	lvl, err := parseLevel(l.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("logging.level %q: %w", s, err)
	}
	return lvl, nil
}
