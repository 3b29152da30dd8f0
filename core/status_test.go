package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusInitializing, StatusIdle, true},
		{StatusInitializing, StatusPlanning, false},
		{StatusIdle, StatusPlanning, true},
		{StatusPlanning, StatusExecuting, true},
		{StatusExecuting, StatusLearning, true},
		{StatusLearning, StatusIdle, true},
		{StatusExecuting, StatusPaused, true},
		{StatusPaused, StatusIdle, false},
		{StatusPaused, StatusTerminated, true},
		{StatusPaused, StatusError, false},
		{StatusIdle, StatusError, true},
		{StatusError, StatusIdle, true},
		{StatusError, StatusExecuting, false},
		{StatusTerminated, StatusIdle, false},
		{StatusTerminated, StatusTerminated, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestGoal_Urgency(t *testing.T) {
	now := time.Now()
	soon := now.Add(10 * time.Second)
	late := now.Add(time.Hour)
	overdue := now.Add(-time.Minute)

	noDeadline := Goal{Priority: 9}
	urgent := Goal{Priority: 1, Deadline: &soon}
	relaxed := Goal{Priority: 1, Deadline: &late}
	missed := Goal{Priority: 1, Deadline: &overdue}

	assert.Zero(t, noDeadline.Urgency(now))
	assert.True(t, MoreUrgent(urgent, relaxed, now))
	assert.True(t, MoreUrgent(missed, urgent, now))
	assert.True(t, MoreUrgent(relaxed, noDeadline, now))
	assert.True(t, MoreUrgent(Goal{Priority: 5}, Goal{Priority: 2}, now), "ties break on priority")
}

func TestAgentConfig_Validate(t *testing.T) {
	valid := AgentConfig{Name: "a", Type: "worker", Capabilities: []string{"summarize"}}
	require.NoError(t, valid.Validate())

	cases := map[string]AgentConfig{
		"no name":          {Type: "worker", Capabilities: []string{"x"}},
		"no type":          {Name: "a", Capabilities: []string{"x"}},
		"no capabilities":  {Name: "a", Type: "worker"},
		"bad constraint":   {Name: "a", Type: "worker", Capabilities: []string{"x"}, Constraints: []Constraint{{Kind: "bogus"}}},
		"unnamed resource": {Name: "a", Type: "worker", Capabilities: []string{"x"}, Resources: []Resource{{Kind: ResourceAPI}}},
	}
	for name, cfg := range cases {
		err := cfg.Validate()
		assert.ErrorIs(t, err, ErrInvalidConfig, name)
	}
}

func TestAgentConfig_CloneIsIndependent(t *testing.T) {
	cfg := AgentConfig{Name: "a", Type: "t", Capabilities: []string{"x"}, MemoryConfig: &MemoryConfig{EpisodicMemoryLimit: 5}}
	cp := cfg.Clone()
	cp.Capabilities[0] = "y"
	cp.MemoryConfig.EpisodicMemoryLimit = 9
	assert.Equal(t, "x", cfg.Capabilities[0])
	assert.Equal(t, 5, cfg.MemoryConfig.EpisodicMemoryLimit)
}
