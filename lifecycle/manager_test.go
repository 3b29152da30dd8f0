package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/agentcore/agent"
	"github.com/GoCodeAlone/agentcore/core"
	"github.com/GoCodeAlone/agentcore/memory"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Loop: agent.LoopConfig{
			IdleInterval:   10 * time.Millisecond,
			ActionInterval: 5 * time.Millisecond,
			ErrorBackoff:   10 * time.Millisecond,
		},
	})
	t.Cleanup(func() { m.EmergencyStop() })
	return m
}

func analystConfig(name string) core.AgentConfig {
	return core.AgentConfig{
		Name:         name,
		Type:         "analyst",
		Capabilities: []string{"summarize"},
	}
}

func TestManager_CreateValidates(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateAgent(core.AgentConfig{Name: "x", Type: "t"})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = m.CreateAgent(core.AgentConfig{
		Name: "x", Type: "t", Capabilities: []string{"c"},
		Constraints: []core.Constraint{{Kind: "bogus", Description: "d"}},
	})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
	assert.Empty(t, m.ListAgents())
}

func TestManager_Lifecycle(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	events, cancel := m.Subscribe()
	defer cancel()

	a, err := m.CreateAgent(analystConfig("worker"))
	require.NoError(t, err)
	assert.Equal(t, core.StatusInitializing, a.Status())

	assert.ErrorIs(t, m.StartAgent(ctx, a.ID()), core.ErrInvalidState)
	require.NoError(t, m.InitializeAgent(ctx, a.ID(), &core.Context{ActorID: "user-1"}))
	assert.True(t, m.Memory().Initialized(a.ID()))

	require.NoError(t, m.StartAgent(ctx, a.ID()))
	assert.ErrorIs(t, m.ResumeAgent(ctx, a.ID()), core.ErrInvalidState)
	require.NoError(t, m.PauseAgent(a.ID()))
	require.NoError(t, m.ResumeAgent(ctx, a.ID()))

	require.NoError(t, m.TerminateAgent(a.ID()))
	require.NoError(t, m.TerminateAgent(a.ID()))
	assert.Equal(t, core.StatusTerminated, a.Status())
	assert.False(t, m.Memory().Initialized(a.ID()))
	_, err = m.GetAgent(a.ID())
	assert.ErrorIs(t, err, core.ErrAgentNotFound)

	var seen []EventType
	timeout := time.After(time.Second)
	for len(seen) < 50 {
		select {
		case ev := <-events:
			if ev.Type != EventStatusChanged {
				seen = append(seen, ev.Type)
			}
			if ev.Type == EventTerminated {
				assert.Equal(t, []EventType{
					EventCreated, EventInitialized, EventStarted,
					EventPaused, EventResumed, EventTerminated,
				}, seen)
				return
			}
		case <-timeout:
			t.Fatalf("events so far: %v", seen)
		}
	}
}

func TestManager_PlaceholderCapability(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	a, err := m.CreateAgent(analystConfig("worker"))
	require.NoError(t, err)
	require.NoError(t, m.InitializeAgent(ctx, a.ID(), nil))

	out, err := a.Execute(ctx, core.NewAction("summarize", "", map[string]any{"text": "abc"}))
	require.NoError(t, err)
	res := out.(map[string]any)
	assert.Equal(t, "Executed summarize", res["result"])
	assert.Equal(t, "abc", res["parameters"].(map[string]any)["text"])
}

func TestManager_CatalogCapabilityRuns(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.Catalog().Register(core.Capability{
		Name: "summarize",
		Execute: func(_ context.Context, p map[string]any, _ *core.Context) (any, error) {
			return strings.ToUpper(p["text"].(string)), nil
		},
	}))
	assert.Error(t, m.Catalog().Register(core.Capability{Name: "broken"}))
	assert.Equal(t, []string{"summarize"}, m.Catalog().Names())

	a, err := m.CreateAgent(analystConfig("worker"))
	require.NoError(t, err)
	require.NoError(t, m.InitializeAgent(ctx, a.ID(), nil))
	out, err := a.Execute(ctx, core.NewAction("summarize", "", map[string]any{"text": "abc"}))
	require.NoError(t, err)
	assert.Equal(t, "ABC", out)
}

func TestManager_RestartKeepsContext(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	a, err := m.CreateAgent(analystConfig("worker"))
	require.NoError(t, err)
	require.NoError(t, m.InitializeAgent(ctx, a.ID(), &core.Context{
		ActorID:   "user-1",
		Resources: []core.Resource{{Kind: core.ResourceAPI, Name: "search"}},
	}))

	next, err := m.RestartAgent(ctx, a.ID())
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), next.ID())
	assert.Equal(t, core.StatusTerminated, a.Status())
	assert.Equal(t, "user-1", next.Context().ActorID)
	assert.Len(t, next.Context().Resources, 1)
	assert.NotEqual(t, core.StatusInitializing, next.Status())
	assert.Len(t, m.ListAgents(), 1)

	_, err = m.RestartAgent(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrAgentNotFound)
}

func TestManager_RestartUninitialized(t *testing.T) {
	m := newTestManager(t)
	a, err := m.CreateAgent(analystConfig("worker"))
	require.NoError(t, err)

	next, err := m.RestartAgent(context.Background(), a.ID())
	require.NoError(t, err)
	assert.Equal(t, core.StatusInitializing, next.Status())
}

func TestManager_Clone(t *testing.T) {
	m := newTestManager(t)
	a, err := m.CreateAgent(analystConfig("worker"))
	require.NoError(t, err)

	clone, err := m.CloneAgent(a.ID(), "")
	require.NoError(t, err)
	assert.Regexp(t, `^worker-clone-[0-9a-f]{8}$`, clone.Name())
	assert.Equal(t, a.Type(), clone.Type())

	named, err := m.CloneAgent(a.ID(), "twin")
	require.NoError(t, err)
	assert.Equal(t, "twin", named.Name())
	assert.Len(t, m.ListAgents(), 3)
}

func TestManager_UpdateConfig(t *testing.T) {
	m := newTestManager(t)
	a, err := m.CreateAgent(analystConfig("worker"))
	require.NoError(t, err)

	err = m.UpdateAgentConfig(a.ID(), func(c *core.AgentConfig) { c.Capabilities = nil })
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	require.NoError(t, m.UpdateAgentConfig(a.ID(), func(c *core.AgentConfig) {
		c.Capabilities = append(c.Capabilities, "translate")
	}))
	cfg, err := m.AgentConfig(a.ID())
	require.NoError(t, err)
	assert.Equal(t, []string{"summarize", "translate"}, cfg.Capabilities)
	assert.False(t, a.HasCapability("translate"))

	next, err := m.RestartAgent(context.Background(), a.ID())
	require.NoError(t, err)
	assert.True(t, next.HasCapability("translate"))
}

func TestManager_QueriesAndStats(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	a, _ := m.CreateAgent(analystConfig("a"))
	b, _ := m.CreateAgent(analystConfig("b"))
	c, _ := m.CreateAgent(core.AgentConfig{Name: "c", Type: "writer", Capabilities: []string{"draft"}})
	require.NoError(t, m.InitializeAgent(ctx, a.ID(), nil))
	require.NoError(t, m.InitializeAgent(ctx, b.ID(), nil))
	require.NoError(t, m.PauseAgent(b.ID()))

	assert.Equal(t, []*agent.Agent{a, b, c}, m.ListAgents())
	assert.Equal(t, []*agent.Agent{a}, m.AgentsByStatus(core.StatusIdle))
	assert.Equal(t, []*agent.Agent{c}, m.AgentsByType("writer"))

	stats := m.GetSystemStats()
	assert.Equal(t, 3, stats.TotalAgents)
	assert.Equal(t, map[core.Status]int{
		core.StatusIdle: 1, core.StatusPaused: 1, core.StatusInitializing: 1,
	}, stats.StatusDistribution)
	assert.Equal(t, map[string]int{"analyst": 2, "writer": 1}, stats.TypeDistribution)
	assert.Zero(t, stats.ActiveAgents)
}

func TestManager_HealthCheck(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.Catalog().Register(core.Capability{
		Name:    "fragile",
		Execute: func(context.Context, map[string]any, *core.Context) (any, error) { return nil, nil },
		Init:    func(context.Context, *core.Context) error { return errors.New("no token") },
	}))
	ok, _ := m.CreateAgent(analystConfig("ok"))
	bad, _ := m.CreateAgent(core.AgentConfig{Name: "bad", Type: "analyst", Capabilities: []string{"fragile"}})
	require.NoError(t, m.InitializeAgent(ctx, ok.ID(), nil))
	require.Error(t, m.InitializeAgent(ctx, bad.ID(), nil))

	report := m.HealthCheck()
	assert.False(t, report.Overall)
	assert.Equal(t, 2, report.AgentCount)
	assert.True(t, report.Agents[ok.ID()].Healthy)
	assert.False(t, report.Agents[bad.ID()].Healthy)
	assert.Equal(t, core.StatusError, report.Agents[bad.ID()].Status)
}

func TestManager_ErrorStatusEmitsEvent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.Catalog().Register(core.Capability{
		Name:    "fragile",
		Execute: func(context.Context, map[string]any, *core.Context) (any, error) { return nil, nil },
		Init:    func(context.Context, *core.Context) error { return errors.New("no token") },
	}))
	events, cancel := m.Subscribe()
	defer cancel()

	a, _ := m.CreateAgent(core.AgentConfig{Name: "bad", Type: "analyst", Capabilities: []string{"fragile"}})
	require.Error(t, m.InitializeAgent(ctx, a.ID(), nil))

	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == EventAgentError {
				assert.Equal(t, a.ID(), ev.AgentID)
				return
			}
		case <-timeout:
			t.Fatal("no agent.error event")
		}
	}
}

func TestManager_EmergencyStop(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	a, _ := m.CreateAgent(analystConfig("a"))
	b, _ := m.CreateAgent(analystConfig("b"))
	require.NoError(t, m.InitializeAgent(ctx, a.ID(), nil))
	require.NoError(t, m.StartAgent(ctx, a.ID()))

	assert.Equal(t, 2, m.EmergencyStop())
	assert.Equal(t, core.StatusTerminated, a.Status())
	assert.Equal(t, core.StatusTerminated, b.Status())
	assert.Empty(t, m.ListAgents())
	assert.Zero(t, m.EmergencyStop())

	_, err := m.Memory().Stats(a.ID())
	assert.ErrorIs(t, err, core.ErrMemoryNotInitialized)
}

func TestManager_SharedMemory(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	a, _ := m.CreateAgent(analystConfig("a"))
	b, _ := m.CreateAgent(analystConfig("b"))
	require.NoError(t, m.InitializeAgent(ctx, a.ID(), nil))
	require.NoError(t, m.InitializeAgent(ctx, b.ID(), nil))

	k, err := a.Remember(core.Knowledge{Kind: core.KnowledgeFact, Content: "the cluster runs in eu-west", Confidence: 0.9})
	require.NoError(t, err)
	shared, err := m.Memory().ShareKnowledge(ctx, a.ID(), k.ID)
	require.NoError(t, err)
	assert.NotEqual(t, k.ID, shared.ID)

	got, err := b.Recall(ctx, memory.Query{Keywords: []string{"cluster"}, IncludeGlobal: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, shared.ID, got[0].ID)
	assert.Equal(t, "shared_from_"+a.ID(), got[0].Source)
	assert.Contains(t, got[0].Tags, "shared")
	assert.Contains(t, got[0].Tags, "global")
	assert.Equal(t, k.Content, got[0].Content)
}
