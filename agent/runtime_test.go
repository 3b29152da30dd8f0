package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/agentcore/core"
	"github.com/GoCodeAlone/agentcore/memory"
)

func fastLoop() LoopConfig {
	return LoopConfig{
		IdleInterval:      10 * time.Millisecond,
		ActionInterval:    5 * time.Millisecond,
		ErrorBackoff:      10 * time.Millisecond,
		MaxActionFailures: 3,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func summarizer(calls *atomic.Int32) core.Capability {
	return core.Capability{
		Name:        "summarize",
		Description: "Summarize text",
		Execute: func(context.Context, map[string]any, *core.Context) (any, error) {
			if calls != nil {
				calls.Add(1)
			}
			return "summary", nil
		},
	}
}

func newTestAgent(t *testing.T, mutate ...func(*Config)) *Agent {
	t.Helper()
	cfg := Config{
		Agent: core.AgentConfig{
			Name:         "worker",
			Type:         "analyst",
			Capabilities: []string{"summarize"},
		},
		Capabilities: []core.Capability{summarizer(nil)},
		Loop:         fastLoop(),
		Logger:       quietLogger(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Terminate() })
	return a
}

func initialize(t *testing.T, a *Agent, c *core.Context) {
	t.Helper()
	if c == nil {
		c = &core.Context{ActorID: "user-1"}
	}
	require.NoError(t, a.Initialize(context.Background(), c))
}

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New(Config{Agent: core.AgentConfig{Type: "t", Capabilities: []string{"x"}}})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = New(Config{
		Agent:        core.AgentConfig{Name: "n", Type: "t", Capabilities: []string{"x"}},
		Capabilities: []core.Capability{{Name: "x"}},
	})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = New(Config{
		Agent:        core.AgentConfig{Name: "n", Type: "t", Capabilities: []string{"summarize"}},
		Capabilities: []core.Capability{summarizer(nil), summarizer(nil)},
	})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestAgent_Lifecycle(t *testing.T) {
	ctx := context.Background()
	a := newTestAgent(t)
	assert.Equal(t, core.StatusInitializing, a.Status())
	assert.ErrorIs(t, a.Start(ctx), core.ErrInvalidState)

	initialize(t, a, nil)
	assert.Equal(t, core.StatusIdle, a.Status())
	assert.ErrorIs(t, a.Initialize(ctx, nil), core.ErrInvalidState)

	require.NoError(t, a.Start(ctx))
	assert.ErrorIs(t, a.Start(ctx), core.ErrInvalidState)
	assert.False(t, a.Info().StartedAt.IsZero())

	require.NoError(t, a.Pause())
	assert.Equal(t, core.StatusPaused, a.Status())
	require.NoError(t, a.Pause())

	require.NoError(t, a.Resume(ctx))
	assert.Equal(t, core.StatusIdle, a.Status())
	assert.ErrorIs(t, a.Resume(ctx), core.ErrInvalidState)

	require.NoError(t, a.Terminate())
	assert.Equal(t, core.StatusTerminated, a.Status())
	require.NoError(t, a.Terminate())
	assert.ErrorIs(t, a.Pause(), core.ErrInvalidState)
	assert.ErrorIs(t, a.Resume(ctx), core.ErrInvalidState)
	_, err := a.Execute(ctx, core.NewAction("summarize", "", nil))
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestAgent_InitializeMergesConfig(t *testing.T) {
	a := newTestAgent(t, func(c *Config) {
		c.Agent.Resources = []core.Resource{{Kind: core.ResourceDatabase, Name: "orders-db"}}
		c.Agent.Constraints = []core.Constraint{{
			Kind: core.ConstraintSafety, Description: "always",
			Rule: func(core.Action, *core.Context) bool { return true },
		}}
	})
	initialize(t, a, &core.Context{
		ActorID:   "user-1",
		Resources: []core.Resource{{Kind: core.ResourceAPI, Name: "search"}},
	})

	c := a.Context()
	assert.True(t, c.HasResource("search"))
	assert.True(t, c.HasResource("orders-db"))
	assert.Len(t, c.Constraints, 1)
	assert.NotEmpty(t, c.SessionID)
}

func TestAgent_InitHookFailure(t *testing.T) {
	a := newTestAgent(t, func(c *Config) {
		c.Capabilities[0].Init = func(context.Context, *core.Context) error { return errors.New("no credentials") }
	})
	err := a.Initialize(context.Background(), &core.Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials")
	assert.Equal(t, core.StatusError, a.Status())
}

func TestAgent_ExecuteConstraintVeto(t *testing.T) {
	var calls atomic.Int32
	a := newTestAgent(t, func(c *Config) { c.Capabilities = []core.Capability{summarizer(&calls)} })
	initialize(t, a, &core.Context{Constraints: []core.Constraint{{
		Kind:        core.ConstraintPermission,
		Description: "summaries are disabled",
		Rule:        func(act core.Action, _ *core.Context) bool { return act.Type != "summarize" },
	}}})

	action := core.NewAction("summarize", "summarize it", nil)
	_, err := a.Execute(context.Background(), action)
	require.ErrorIs(t, err, core.ErrConstraintViolation)
	assert.Zero(t, calls.Load())
	assert.Equal(t, core.StatusIdle, a.Status())

	exps, err := a.Experiences()
	require.NoError(t, err)
	require.Len(t, exps, 1)
	assert.False(t, exps[0].Success)
	assert.Equal(t, action.ID, exps[0].Action.ID)
	require.Len(t, exps[0].LessonsLearned, 1)
	assert.Contains(t, exps[0].LessonsLearned[0], "Action summarize failed:")

	rules, err := a.Recall(context.Background(), memory.Query{Tags: []string{"failure"}})
	require.NoError(t, err)
	assert.Len(t, rules, 1)
	assert.Equal(t, int64(1), a.Metrics().ActionsFailed)
}

func TestAgent_ExecuteUnknownCapability(t *testing.T) {
	a := newTestAgent(t)
	initialize(t, a, nil)

	_, err := a.Execute(context.Background(), core.NewAction("deploy", "", nil))
	require.ErrorIs(t, err, core.ErrCapabilityNotFound)
	exps, _ := a.Experiences()
	require.Len(t, exps, 1)
	assert.False(t, exps[0].Success)
}

func TestAgent_ExecuteSuccessLearnsProcedure(t *testing.T) {
	var calls atomic.Int32
	a := newTestAgent(t, func(c *Config) { c.Capabilities = []core.Capability{summarizer(&calls)} })
	initialize(t, a, nil)

	got, err := a.Execute(context.Background(), core.NewAction("summarize", "", map[string]any{"text": "abc"}))
	require.NoError(t, err)
	assert.Equal(t, "summary", got)
	assert.Equal(t, int32(1), calls.Load())

	procs, err := a.Recall(context.Background(), memory.Query{Kind: core.KnowledgeProcedure, Tags: []string{"successful"}})
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, []string{"summarize", "successful"}, procs[0].Tags)
	assert.InDelta(t, 0.8, procs[0].Confidence, 1e-9)
	assert.Equal(t, "experience", procs[0].Source)
}

func TestAgent_CapabilityPanicIsContained(t *testing.T) {
	a := newTestAgent(t, func(c *Config) {
		c.Capabilities[0].Execute = func(context.Context, map[string]any, *core.Context) (any, error) {
			panic("boom")
		}
	})
	initialize(t, a, nil)

	_, err := a.Execute(context.Background(), core.NewAction("summarize", "", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, core.StatusIdle, a.Status())
}

func TestAgent_LoopCompletesGoal(t *testing.T) {
	a := newTestAgent(t, func(c *Config) {
		c.Agent.InitialGoals = []core.Goal{{ID: "g1", Description: "Summarize the document", Priority: 1, Status: core.GoalActive}}
	})
	initialize(t, a, nil)
	assert.Equal(t, 1, a.Metrics().ActiveGoals)

	require.NoError(t, a.Start(context.Background()))
	require.Eventually(t, func() bool { return a.Metrics().ActiveGoals == 0 }, 2*time.Second, 5*time.Millisecond)

	g, ok := a.Goal("g1")
	require.True(t, ok)
	assert.Equal(t, core.GoalCompleted, g.Status)
	assert.Equal(t, 1.0, g.Progress)

	m := a.Metrics()
	assert.Equal(t, int64(1), m.ActionsExecuted)
	assert.Equal(t, 1, m.ExperiencesCount)
	assert.Positive(t, m.LoopIterations)

	p, ok := a.CurrentPlan()
	require.True(t, ok)
	assert.Equal(t, core.PlanCompleted, p.Status)
}

func TestAgent_LoopFailsGoalAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	a := newTestAgent(t, func(c *Config) {
		c.Capabilities[0].Execute = func(context.Context, map[string]any, *core.Context) (any, error) {
			calls.Add(1)
			return nil, errors.New("upstream down")
		}
		c.Agent.InitialGoals = []core.Goal{{ID: "g1", Description: "summarize the logs"}}
	})
	initialize(t, a, nil)
	require.NoError(t, a.Start(context.Background()))

	require.Eventually(t, func() bool {
		g, _ := a.Goal("g1")
		return g.Status == core.GoalFailed
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return a.Status() == core.StatusIdle }, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(3), a.Metrics().ActionsFailed)
}

func TestAgent_LoopRecoversFromError(t *testing.T) {
	var calls atomic.Int32
	a := newTestAgent(t, func(c *Config) {
		c.Capabilities[0].Execute = func(context.Context, map[string]any, *core.Context) (any, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("transient")
			}
			return "ok", nil
		}
		c.Agent.InitialGoals = []core.Goal{{ID: "g1", Description: "summarize the logs"}}
	})
	initialize(t, a, nil)

	events, cancel := a.Streams().Status.Subscribe()
	defer cancel()
	require.NoError(t, a.Start(context.Background()))

	sawError := false
	deadline := time.After(2 * time.Second)
	for !sawError {
		select {
		case ev := <-events:
			sawError = ev.To == core.StatusError
		case <-deadline:
			t.Fatal("agent never entered error status")
		}
	}
	require.Eventually(t, func() bool {
		g, _ := a.Goal("g1")
		return g.Status == core.GoalCompleted
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAgent_GoalWithoutActionsFails(t *testing.T) {
	a := newTestAgent(t, func(c *Config) {
		c.Agent.InitialGoals = []core.Goal{{ID: "g1", Description: "deploy the service"}}
	})
	initialize(t, a, nil)

	_, err := a.Decide(context.Background())
	require.ErrorIs(t, err, core.ErrPlanExhausted)
	g, _ := a.Goal("g1")
	assert.Equal(t, core.GoalFailed, g.Status)
	assert.Equal(t, core.StatusIdle, a.Status())

	_, err = a.Decide(context.Background())
	assert.ErrorIs(t, err, core.ErrNoActiveGoal)
}

func TestAgent_PauseStopsLoop(t *testing.T) {
	ctx := context.Background()
	a := newTestAgent(t)
	initialize(t, a, nil)
	require.NoError(t, a.Start(ctx))
	require.Eventually(t, func() bool { return a.Metrics().LoopIterations > 0 }, time.Second, time.Millisecond)

	require.NoError(t, a.Pause())
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, a.Wait(waitCtx))

	n := a.Metrics().LoopIterations
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, n, a.Metrics().LoopIterations)

	require.NoError(t, a.Resume(ctx))
	require.Eventually(t, func() bool { return a.Metrics().LoopIterations > n }, time.Second, time.Millisecond)
}

func TestAgent_DecidePrefersUrgentGoal(t *testing.T) {
	a := newTestAgent(t, func(c *Config) {
		c.Agent.Capabilities = []string{"summarize", "translate"}
		c.Capabilities = append(c.Capabilities, core.Capability{
			Name: "translate",
			Execute: func(context.Context, map[string]any, *core.Context) (any, error) {
				return "translated", nil
			},
		})
	})
	initialize(t, a, nil)

	deadline := time.Now().Add(time.Hour)
	a.AddGoal(core.Goal{ID: "later", Description: "translate the text", Priority: 1})
	a.AddGoal(core.Goal{ID: "soon", Description: "summarize the report", Priority: 0.5, Deadline: &deadline})

	action, err := a.Decide(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "summarize", action.Type)
	assert.Equal(t, "soon", action.GoalID())
	assert.Equal(t, core.StatusIdle, a.Status())

	ordered := a.PrioritizeGoals()
	assert.Equal(t, "soon", ordered[0].ID)
	assert.Equal(t, "later", ordered[1].ID)
}

func TestAgent_DecideWithoutGoals(t *testing.T) {
	a := newTestAgent(t)
	initialize(t, a, nil)
	_, err := a.Decide(context.Background())
	assert.ErrorIs(t, err, core.ErrNoActiveGoal)
}

func TestAgent_StaleActionEarnsNoProgress(t *testing.T) {
	a := newTestAgent(t)
	initialize(t, a, nil)
	a.AddGoal(core.Goal{ID: "g1", Description: "summarize the report"})

	action, err := a.Decide(context.Background())
	require.NoError(t, err)

	_, err = a.Plan(context.Background(), core.Goal{ID: "g1", Description: "summarize the report"})
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), action)
	require.NoError(t, err)
	g, _ := a.Goal("g1")
	assert.Equal(t, core.GoalActive, g.Status)
	assert.Zero(t, g.Progress)
}

func TestAgent_RemoveGoalDropsPlan(t *testing.T) {
	a := newTestAgent(t)
	initialize(t, a, nil)
	a.AddGoal(core.Goal{ID: "g1", Description: "summarize the report"})
	_, err := a.Decide(context.Background())
	require.NoError(t, err)

	assert.True(t, a.RemoveGoal("g1"))
	assert.False(t, a.RemoveGoal("g1"))
	_, ok := a.CurrentPlan()
	assert.False(t, ok)
	assert.Empty(t, a.Goals())
}

func TestAgent_DraftPlanIsNotInstalled(t *testing.T) {
	ctx := context.Background()
	a := newTestAgent(t)
	_, err := a.DraftPlan(ctx, core.Goal{ID: "g0", Description: "summarize"})
	assert.ErrorIs(t, err, core.ErrInvalidState)

	initialize(t, a, nil)
	current, err := a.Plan(ctx, core.Goal{ID: "g1", Description: "summarize the report"})
	require.NoError(t, err)

	draft, err := a.DraftPlan(ctx, core.Goal{ID: "g2", Description: "summarize the notes"})
	require.NoError(t, err)
	assert.Equal(t, "g2", draft.GoalID)
	got, ok := a.CurrentPlan()
	require.True(t, ok)
	assert.Equal(t, current.ID, got.ID)

	require.NoError(t, a.AdoptPlan(draft))
	got, ok = a.CurrentPlan()
	require.True(t, ok)
	assert.Equal(t, draft.ID, got.ID)

	require.NoError(t, a.Terminate())
	assert.ErrorIs(t, a.AdoptPlan(current), core.ErrInvalidState)
}

func TestAgent_AddGoalDefaults(t *testing.T) {
	a := newTestAgent(t)
	g := a.AddGoal(core.Goal{Description: "x"})
	assert.NotEmpty(t, g.ID)
	assert.Equal(t, core.GoalActive, g.Status)

	pending := a.AddGoal(core.Goal{Description: "y", Status: core.GoalPending})
	assert.Equal(t, core.GoalPending, pending.Status)
	assert.Equal(t, 1, a.ActiveGoals())

	g.Description = "replaced"
	a.AddGoal(g)
	assert.Len(t, a.Goals(), 2)
}

func TestAgent_Evaluate(t *testing.T) {
	a := newTestAgent(t)
	initialize(t, a, nil)

	record := func(typ string, ok bool) {
		require.NoError(t, a.Learn(core.Experience{Action: core.NewAction(typ, "", nil), Success: ok}))
	}
	record("summarize", true)
	record("summarize", true)
	record("translate", false)

	best, err := a.Evaluate([]any{"translate", "summarize"})
	require.NoError(t, err)
	assert.Equal(t, "summarize", best)

	best, err = a.Evaluate([]any{"archive", "index"})
	require.NoError(t, err)
	assert.Equal(t, "archive", best)

	best, err = a.Evaluate(nil)
	require.NoError(t, err)
	assert.Nil(t, best)
	assert.Equal(t, core.StatusIdle, a.Status())
}

func TestAgent_Communicate(t *testing.T) {
	ctx := context.Background()
	sender := newTestAgent(t)
	receiver := newTestAgent(t)
	initialize(t, sender, nil)
	initialize(t, receiver, nil)

	events, cancel := sender.SubscribeMessages()
	defer cancel()

	msg, ack, err := sender.Communicate(ctx, map[string]any{"text": "hello"}, receiver)
	require.NoError(t, err)
	assert.Equal(t, receiver.ID(), msg.To)
	assert.Equal(t, core.KindNotification, msg.Kind)
	assert.Equal(t, 1, msg.Priority)
	assert.True(t, ack.Acknowledged)
	assert.Equal(t, int64(1), receiver.Metrics().MessagesReceived)

	ev := <-events
	assert.True(t, ev.Outbound)
	assert.Equal(t, msg.ID, ev.Message.ID)

	msg, ack, err = sender.Communicate(ctx, "anyone?", nil)
	require.NoError(t, err)
	assert.True(t, msg.IsBroadcast())
	assert.Equal(t, core.Ack{}, ack)
	assert.Equal(t, core.StatusIdle, sender.Status())
}

func TestAgent_ReceiveMessage(t *testing.T) {
	ctx := context.Background()
	a := newTestAgent(t)
	initialize(t, a, nil)

	ack, err := a.ReceiveMessage(ctx, core.NewMessage("x", a.ID(), core.KindRequest, nil, 1))
	require.NoError(t, err)
	assert.True(t, ack.Handled)
	assert.Equal(t, "Request processed", ack.Response)

	ack, err = a.ReceiveMessage(ctx, core.NewMessage("x", a.ID(), core.KindCoordination, nil, 1))
	require.NoError(t, err)
	assert.True(t, ack.Coordinated)

	ack, err = a.ReceiveMessage(ctx, core.NewMessage("x", a.ID(), core.KindResponse, nil, 1))
	require.NoError(t, err)
	assert.Equal(t, core.Ack{Acknowledged: true}, ack)

	require.NoError(t, a.Terminate())
	_, err = a.ReceiveMessage(ctx, core.NewMessage("x", a.ID(), core.KindRequest, nil, 1))
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestAgent_PerceiveFeedsMemory(t *testing.T) {
	a := newTestAgent(t)
	var resources []core.Resource
	for i := range 30 {
		resources = append(resources, core.Resource{
			Kind: core.ResourceAPI,
			Name: fmt.Sprintf("api-%d", i),
			Probe: func(context.Context) (any, error) {
				if i == 7 {
					return nil, errors.New("timeout")
				}
				return i, nil
			},
		})
	}
	initialize(t, a, &core.Context{Resources: resources})

	for range 5 {
		got, err := a.Perceive(context.Background())
		require.NoError(t, err)
		assert.Len(t, got, 29)
	}

	working, err := a.memory.Working(a.ID())
	require.NoError(t, err)
	assert.Len(t, working, memory.WorkingCapacity)

	short, err := a.memory.ShortTerm(a.ID())
	require.NoError(t, err)
	assert.Len(t, short["current_perceptions"], 29)
}

func TestAgent_MemoryPassThrough(t *testing.T) {
	a := newTestAgent(t)
	_, err := a.Remember(core.Knowledge{Kind: core.KnowledgeFact, Content: "x"})
	require.ErrorIs(t, err, core.ErrMemoryNotInitialized)

	initialize(t, a, nil)
	_, err = a.Remember(core.Knowledge{Kind: core.KnowledgeFact, Content: "the sky is blue", Confidence: 0.2})
	require.NoError(t, err)
	_, err = a.Remember(core.Knowledge{Kind: core.KnowledgeFact, Content: "water boils at 100C at sea level", Confidence: 0.9})
	require.NoError(t, err)

	n, err := a.Forget(memory.ForgetCriteria{ConfidenceThreshold: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := a.Recall(context.Background(), memory.Query{Keywords: []string{"water"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestAgent_StreamsAndLogs(t *testing.T) {
	a := newTestAgent(t)
	status, cancelStatus := a.Streams().Status.Subscribe()
	defer cancelStatus()
	goals, _ := a.Streams().Goals.Subscribe()

	initialize(t, a, nil)
	ev := <-status
	assert.Equal(t, core.StatusInitializing, ev.From)
	assert.Equal(t, core.StatusIdle, ev.To)
	assert.Equal(t, a.ID(), ev.AgentID)

	a.AddGoal(core.Goal{ID: "g", Description: "x"})
	assert.Equal(t, GoalAdded, (<-goals).Change)

	require.NoError(t, a.Terminate())
	_, open := <-goals
	assert.False(t, open)

	var messages []string
	for _, e := range a.Logs() {
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "agent initialized")
	assert.Contains(t, messages, "agent terminated")
}
