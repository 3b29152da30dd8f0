package planning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/agentcore/core"
)

func capability(name, desc string, params map[string]any) core.Capability {
	return core.Capability{Name: name, Description: desc, Parameters: params}
}

func TestKeywords(t *testing.T) {
	assert.Equal(t, []string{"summarize", "document"}, Keywords("Summarize the Document."))
	assert.Empty(t, Keywords("a an the and for this"))
	assert.Equal(t, []string{"école"}, Keywords("ÉCOLE"))
}

func TestRelevant_RanksByOverlap(t *testing.T) {
	caps := []core.Capability{
		capability("deploy", "Deploy services to production", nil),
		capability("summarize", "Condense text", nil),
		capability("report", "Summarize documents into a report", nil),
	}
	assert.Equal(t, 1, Relevance("summarize the document", "summarize Condense text"))
	assert.Equal(t, 2, Relevance("summarize the document", "report Summarize documents into a report"))

	got := Relevant("summarize the document", caps)
	require.Len(t, got, 2)
	assert.Equal(t, "report", got[0].Name)
	assert.Equal(t, "summarize", got[1].Name)
}

func TestComplexity(t *testing.T) {
	assert.Equal(t, 1, Complexity(core.Goal{Description: "summarize the document"}))
	assert.Equal(t, 4, Complexity(core.Goal{
		Description: "ship it",
		Subgoals:    []core.Goal{{}, {}, {}},
	}))
	assert.Equal(t, 10, Complexity(core.Goal{
		Description: "analyze integrate coordinate optimize synthesize multiple complex comprehensive advanced strategic plans",
	}))
}

func TestAssessRisk(t *testing.T) {
	read := core.Action{Type: "read_file", Parameters: map[string]any{"path": "/tmp/x"}}
	write := core.Action{Type: "write_file", Parameters: map[string]any{}}
	assert.InDelta(t, 0.15, AssessRisk([]core.Action{read}, nil), 1e-9)
	assert.InDelta(t, 0.4, AssessRisk([]core.Action{write}, nil), 1e-9)

	veto := &core.Context{Constraints: []core.Constraint{{
		Kind:        core.ConstraintSafety,
		Description: "no writes",
		Rule:        func(a core.Action, _ *core.Context) bool { return a.Type != "write_file" },
	}}}
	assert.InDelta(t, 0.9, AssessRisk([]core.Action{write}, veto), 1e-9)
	assert.Equal(t, 1.0, AssessRisk([]core.Action{write, write}, veto))
}

func TestEstimateDuration(t *testing.T) {
	actions := []core.Action{
		{Type: "analyze_logs", Parameters: map[string]any{"a": 1}},
		{Type: "generate_report"},
		{Type: "notify"},
	}
	assert.Equal(t, (5+1+10)*time.Second+(5+15)*time.Second+5*time.Second, EstimateDuration(actions))
}

func TestEngine_AtomicGoal(t *testing.T) {
	e := NewEngine(nil)
	goal := core.Goal{ID: "g1", Description: "summarize the document"}
	caps := []core.Capability{
		capability("summarize", "Summarize text", nil),
		capability("deploy", "Deploy services", nil),
	}

	plan, err := e.Plan(context.Background(), goal, caps, &core.Context{})
	require.NoError(t, err)
	assert.Equal(t, "g1", plan.GoalID)
	assert.Equal(t, core.PlanDraft, plan.Status)
	require.Len(t, plan.Actions, 1)

	a := plan.Actions[0]
	assert.Equal(t, "summarize", a.Type)
	assert.Equal(t, "g1", a.GoalID())
	assert.Equal(t, "summarize the document", a.Parameters["goal_context"])
	assert.Contains(t, a.ExpectedOutcome, "summarize the document")
	assert.InDelta(t, 0.2, plan.RiskAssessment, 1e-9)
	assert.Equal(t, 7*time.Second, plan.EstimatedDuration)
}

func TestEngine_SkipsCapabilitiesMissingResources(t *testing.T) {
	e := NewEngine(nil)
	goal := core.Goal{ID: "g", Description: "query the database"}
	caps := []core.Capability{
		capability("query", "Query records", map[string]any{"required_resources": []string{"orders-db"}}),
	}

	plan, err := e.Plan(context.Background(), goal, caps, &core.Context{})
	require.NoError(t, err)
	assert.Empty(t, plan.Actions)

	withDB := &core.Context{Resources: []core.Resource{{Kind: core.ResourceDatabase, Name: "orders-db"}}}
	plan, err = e.Plan(context.Background(), goal, caps, withDB)
	require.NoError(t, err)
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, []string{"Resource orders-db must be available"}, plan.Actions[0].Preconditions)
}

func TestEngine_PrependsAuthentication(t *testing.T) {
	e := NewEngine(nil)
	goal := core.Goal{ID: "g", Description: "fetch invoices and email invoices"}
	caps := []core.Capability{
		capability("fetch", "Fetch invoices from billing", map[string]any{"requires_auth": true}),
		capability("email", "Email invoices", map[string]any{"requires_auth": true}),
	}
	plan, err := e.Plan(context.Background(), goal, caps, &core.Context{ActorID: "user-1"})
	require.NoError(t, err)
	require.Len(t, plan.Actions, 3)
	assert.Equal(t, "authenticate", plan.Actions[0].Type)
	assert.Equal(t, "user-1", plan.Actions[0].Parameters["context"])
	for _, a := range plan.Actions[1:] {
		assert.NotEqual(t, "authenticate", a.Type)
	}
}

func TestEngine_ExplicitSubgoals(t *testing.T) {
	e := NewEngine(nil)
	goal := core.Goal{
		ID:          "root",
		Description: "quarterly release",
		Subgoals: []core.Goal{
			{ID: "s1", Description: "compile binaries"},
			{ID: "s2", Description: "publish binaries"},
			{ID: "s3", Description: "announce release"},
		},
	}
	caps := []core.Capability{
		capability("compile", "Compile code", nil),
		capability("publish", "Publish artifacts", nil),
		capability("announce", "Announce news", nil),
	}
	plan, err := e.Plan(context.Background(), goal, caps, &core.Context{})
	require.NoError(t, err)
	require.Len(t, plan.Actions, 3)

	subgoals := map[string]string{}
	for _, a := range plan.Actions {
		assert.Equal(t, "root", a.GoalID())
		subgoals[a.Type] = a.Parameters["subgoal_id"].(string)
	}
	assert.Equal(t, map[string]string{"compile": "s1", "publish": "s2", "announce": "s3"}, subgoals)
}

func TestEngine_AutoSubgoals(t *testing.T) {
	goal := core.Goal{
		ID:          "g",
		Description: "research and analyze the market to build a comprehensive strategic report",
	}
	require.Greater(t, Complexity(goal), DecomposeThreshold)

	subs := autoSubgoals(goal)
	require.Len(t, subs, 4)
	for _, s := range subs {
		assert.Contains(t, s.Description, goal.Description)
		assert.Equal(t, core.GoalPending, s.Status)
	}

	e := NewEngine(nil)
	plan, err := e.Plan(context.Background(), goal, []core.Capability{capability("market", "Market research", nil)}, &core.Context{})
	require.NoError(t, err)
	assert.Len(t, plan.Actions, 4)
}

func TestSequence_ProvidersFirst(t *testing.T) {
	draft := core.Action{ID: "draft", Type: "draft", ExpectedOutcome: "report drafted", Preconditions: []string{"data loaded"}}
	review := core.Action{ID: "review", Type: "review", Preconditions: []string{"report drafted", "reviewer assigned"}}
	load := core.Action{ID: "load", Type: "load", Description: "ensures data loaded"}

	got := Sequence([]core.Action{review, draft, load})
	ids := make([]string, len(got))
	for i, a := range got {
		ids[i] = a.ID
	}
	assert.Equal(t, []string{"load", "draft", "review"}, ids)
}

func TestSequence_SelfAndCyclicPreconditions(t *testing.T) {
	a := core.Action{ID: "a", ExpectedOutcome: "x ready", Preconditions: []string{"y ready", "x ready"}}
	b := core.Action{ID: "b", ExpectedOutcome: "y ready", Preconditions: []string{"x ready"}}
	got := Sequence([]core.Action{a, b})
	assert.Len(t, got, 2)
}

func TestEngine_Alternatives(t *testing.T) {
	e := NewEngine(nil)
	goal := core.Goal{ID: "g", Description: "summarize the document", SuccessCriteria: []string{"summary exists"}}
	caps := []core.Capability{
		capability("summarize", "Summarize text", nil),
		capability("translate", "Translate text", nil),
		capability("archive", "Archive files", nil),
	}
	plan, err := e.Plan(context.Background(), goal, caps, &core.Context{})
	require.NoError(t, err)
	require.Len(t, plan.Alternatives, 2)

	simple := plan.Alternatives[0]
	require.Len(t, simple.Actions, 2)
	assert.InDelta(t, AssessRisk(simple.Actions, nil)*0.7, simple.RiskAssessment, 1e-9)

	full := plan.Alternatives[1]
	require.Len(t, full.Actions, 3)
	assert.Equal(t, "prepare", full.Actions[0].Type)
	assert.Equal(t, "validate", full.Actions[2].Type)
	assert.LessOrEqual(t, full.RiskAssessment, 1.0)
	assert.InDelta(t, min(1, AssessRisk(full.Actions, nil)*1.2), full.RiskAssessment, 1e-9)

	e.SkipAlternatives = true
	plan, _ = e.Plan(context.Background(), goal, caps, &core.Context{})
	assert.Empty(t, plan.Alternatives)
}

func TestEngine_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEngine(nil).Plan(ctx, core.Goal{Description: "x"}, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDirect(t *testing.T) {
	goal := core.Goal{ID: "g", Description: "Summarize the document then translate it"}
	caps := []core.Capability{
		capability("summarize", "", map[string]any{"style": "brief"}),
		capability("translate", "", nil),
		capability("deploy", "", nil),
	}
	plan, err := Direct{}.Plan(context.Background(), goal, caps, nil)
	require.NoError(t, err)
	require.Len(t, plan.Actions, 2)
	assert.Equal(t, 2*DirectActionDuration, plan.EstimatedDuration)
	assert.Equal(t, "brief", plan.Actions[0].Parameters["style"])
	assert.Equal(t, "g", plan.Actions[1].GoalID())
	assert.Equal(t, AssessRisk(plan.Actions, nil), plan.RiskAssessment)

	// Parameters are copied, not shared with the capability.
	plan.Actions[0].Parameters["style"] = "long"
	assert.Equal(t, "brief", caps[0].Parameters["style"])
}
