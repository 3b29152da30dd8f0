package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/GoCodeAlone/agentcore/agent"
	"github.com/GoCodeAlone/agentcore/coordination"
	"github.com/GoCodeAlone/agentcore/core"
	"github.com/GoCodeAlone/agentcore/lifecycle"
)

func statusColor(s core.Status, healthy bool) *color.Color {
	switch {
	case !healthy:
		return color.New(color.FgRed)
	case s == core.StatusPaused || s == core.StatusTerminated:
		return color.New(color.FgYellow)
	case s.IsActive():
		return color.New(color.FgCyan)
	}
	return color.New(color.FgGreen)
}

// renderHealth prints one row per agent in registry order.
func renderHealth(w io.Writer, report lifecycle.HealthReport, agents []*agent.Agent) {
	cyan := color.New(color.FgCyan)
	overall := color.New(color.FgGreen).Sprint("healthy")
	if !report.Overall {
		overall = color.New(color.FgRed).Sprint("degraded")
	}
	cyan.Fprintf(w, "Agents: %d  ", report.AgentCount)
	fmt.Fprintf(w, "overall %s at %s\n", overall, report.Timestamp.Format(time.RFC3339))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID\tSTATUS\tGOALS\tACTIONS\tFAILED\tMESSAGES\tUPTIME")
	for _, a := range agents {
		h, ok := report.Agents[a.ID()]
		if !ok {
			continue
		}
		m := h.Metrics
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%d\t%s\n",
			a.Name(), shortID(a.ID()), statusColor(h.Status, h.Healthy).Sprint(h.Status),
			m.ActiveGoals, m.GoalsCount, m.ActionsExecuted, m.ActionsFailed,
			m.MessagesReceived, m.Uptime.Truncate(time.Second))
	}
	_ = tw.Flush()
}

func renderCoordination(w io.Writer, st coordination.Stats) {
	green := color.New(color.FgGreen)
	green.Fprintf(w, "Coordination: ")
	fmt.Fprintf(w, "%d task(s) completed, %d active, %d team(s) formed, %d conflict(s) resolved, %d message(s)\n",
		st.TasksCompleted, st.ActiveTasks, st.TeamsFormed, st.ConflictsResolved, st.MessagesExchanged)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
