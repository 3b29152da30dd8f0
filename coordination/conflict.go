package coordination

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/GoCodeAlone/agentcore/core"
)

// ConflictKind classifies a conflict between agents.
type ConflictKind string

const (
	ConflictResource   ConflictKind = "resource"
	ConflictGoal       ConflictKind = "goal"
	ConflictPriority   ConflictKind = "priority"
	ConflictCapability ConflictKind = "capability"
)

// ConflictStatus is the state of a conflict.
type ConflictStatus string

const (
	ConflictPending   ConflictStatus = "pending"
	ConflictResolving ConflictStatus = "resolving"
	ConflictResolved  ConflictStatus = "resolved"
)

// ConflictRequest describes an incompatibility to resolve.
type ConflictRequest struct {
	Kind           ConflictKind `json:"type"`
	Description    string       `json:"description"`
	InvolvedAgents []string     `json:"involved_agents"`
}

// Conflict is a recorded conflict and, once resolved, its resolution.
type Conflict struct {
	ID                 string         `json:"id"`
	Kind               ConflictKind   `json:"type"`
	Description        string         `json:"description"`
	InvolvedAgents     []string       `json:"involved_agents"`
	ProposedResolution *Resolution    `json:"proposed_resolution,omitempty"`
	Status             ConflictStatus `json:"status"`
	CreatedAt          time.Time      `json:"created_at"`
}

func (c *Conflict) clone() *Conflict {
	out := *c
	out.InvolvedAgents = slices.Clone(c.InvolvedAgents)
	if c.ProposedResolution != nil {
		r := c.ProposedResolution.clone()
		out.ProposedResolution = &r
	}
	return &out
}

// AgentPriority is one entry of a priority arbitration.
type AgentPriority struct {
	AgentID  string `json:"agent_id"`
	Priority int    `json:"priority"`
}

// Resolution is the outcome of a conflict strategy. Only the fields of the
// chosen strategy are set.
type Resolution struct {
	Type               string          `json:"type"`
	Solution           string          `json:"solution"`
	PriorityQueue      []string        `json:"priority_queue,omitempty"`
	PriorityOrder      []string        `json:"priority_order,omitempty"`
	NewPriorities      []AgentPriority `json:"new_priorities,omitempty"`
	SharingArrangement []string        `json:"sharing_arrangement,omitempty"`
	MediationResult    string          `json:"mediation_result,omitempty"`
}

func (r Resolution) clone() Resolution {
	r.PriorityQueue = slices.Clone(r.PriorityQueue)
	r.PriorityOrder = slices.Clone(r.PriorityOrder)
	r.NewPriorities = slices.Clone(r.NewPriorities)
	r.SharingArrangement = slices.Clone(r.SharingArrangement)
	return r
}

type strategy func(agents []string) Resolution

var strategies = map[ConflictKind]strategy{
	ConflictResource: func(agents []string) Resolution {
		queue := slices.Clone(agents)
		sort.Strings(queue)
		return Resolution{
			Type:          "resource_scheduling",
			Solution:      "Time-based resource sharing implemented",
			PriorityQueue: queue,
		}
	},
	ConflictGoal: func(agents []string) Resolution {
		return Resolution{
			Type:          "goal_prioritization",
			Solution:      "Goals prioritized based on urgency and importance",
			PriorityOrder: slices.Clone(agents),
		}
	},
	ConflictPriority: func(agents []string) Resolution {
		prios := make([]AgentPriority, len(agents))
		for i, id := range agents {
			prios[i] = AgentPriority{AgentID: id, Priority: i + 1}
		}
		return Resolution{
			Type:          "priority_arbitration",
			Solution:      "Priority levels adjusted based on system-wide optimization",
			NewPriorities: prios,
		}
	},
	ConflictCapability: func(agents []string) Resolution {
		return Resolution{
			Type:               "capability_sharing",
			Solution:           "Capabilities shared or delegated between agents",
			SharingArrangement: slices.Clone(agents),
		}
	},
}

func mediate([]string) Resolution {
	return Resolution{
		Type:            "generic_resolution",
		Solution:        "Conflict resolved through mediation",
		MediationResult: "Compromise reached between involved parties",
	}
}

// ResolveConflict records the conflict, applies the strategy for its kind,
// notifies each involved agent once and marks the conflict resolved.
// Unknown kinds are mediated.
func (s *Service) ResolveConflict(ctx context.Context, req ConflictRequest) (Resolution, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.logger.Info("resolving conflict", "kind", req.Kind, "description", req.Description)

	var involved []string
	for _, id := range req.InvolvedAgents {
		if id != "" && !slices.Contains(involved, id) {
			involved = append(involved, id)
		}
	}
	c := &Conflict{
		ID:             core.NewID(),
		Kind:           req.Kind,
		Description:    req.Description,
		InvolvedAgents: involved,
		Status:         ConflictResolving,
		CreatedAt:      time.Now(),
	}
	s.mu.Lock()
	s.conflicts[c.ID] = c
	s.mu.Unlock()

	resolve, ok := strategies[req.Kind]
	if !ok {
		resolve = mediate
	}
	res := resolve(involved)

	s.mu.Lock()
	c.Status = ConflictResolved
	c.ProposedResolution = &res
	snapshot := c.clone()
	s.mu.Unlock()

	for _, id := range involved {
		msg := core.NewMessage(core.CoordinatorID, id, core.KindNotification, map[string]any{
			"type":       "conflict_resolved",
			"conflict":   snapshot,
			"resolution": res.clone(),
		}, 2)
		s.send(ctx, msg)
	}

	s.conflictsResolved.Add(1)
	s.logger.Info("conflict resolved", "conflict_id", c.ID, "resolution", res.Type, "agents", len(involved))
	return res.clone(), nil
}

// Conflicts returns a copy of every recorded conflict ordered by creation
// time.
func (s *Service) Conflicts() []*Conflict {
	s.mu.RLock()
	out := make([]*Conflict, 0, len(s.conflicts))
	for _, c := range s.conflicts {
		out = append(out, c.clone())
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
