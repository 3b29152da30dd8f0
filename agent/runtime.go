package agent

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/GoCodeAlone/agentcore/core"
)

// Initialize binds the operational context, creates the memory partition
// and runs capability init hooks. Constraints and resources from the agent
// config are appended to those of c.
func (a *Agent) Initialize(ctx context.Context, c *core.Context) error {
	a.mu.RLock()
	status, bound := a.status, a.bound
	a.mu.RUnlock()
	if status != core.StatusInitializing || bound != nil {
		return fmt.Errorf("%w: initialize agent %s from %s", core.ErrInvalidState, a.id, status)
	}

	next := a.bindContext(c)
	a.memory.Initialize(a.id, a.cfg.MemoryConfig)
	for _, capability := range a.caps {
		if capability.Init == nil {
			continue
		}
		if err := capability.Init(ctx, next); err != nil {
			a.logger.Error("capability init failed", "capability", capability.Name, "error", err)
			a.setStatus(core.StatusError)
			return fmt.Errorf("agent %s: init capability %s: %w", a.id, capability.Name, err)
		}
	}

	a.mu.Lock()
	a.bound = next
	a.mu.Unlock()
	a.setStatus(core.StatusIdle)
	a.logger.Info("agent initialized", "type", a.cfg.Type, "capabilities", len(a.caps),
		"resources", len(next.Resources), "constraints", len(next.Constraints))
	return nil
}

func (a *Agent) bindContext(c *core.Context) *core.Context {
	out := &core.Context{}
	if c != nil {
		*out = *c
		out.Environment = maps.Clone(c.Environment)
		out.Constraints = append([]core.Constraint(nil), c.Constraints...)
		out.Resources = append([]core.Resource(nil), c.Resources...)
	}
	if out.SessionID == "" {
		out.SessionID = core.NewID()
	}
	out.Constraints = append(out.Constraints, a.cfg.Constraints...)
	for _, r := range a.cfg.Resources {
		if !out.HasResource(r.Name) {
			out.Resources = append(out.Resources, r)
		}
	}
	return out
}

// Start launches the autonomous loop. The agent must be idle with no loop
// running. The loop runs until ctx is done or the agent is paused or
// terminated.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.status != core.StatusIdle || a.bound == nil || a.loopStop != nil {
		status := a.status
		a.mu.Unlock()
		return fmt.Errorf("%w: start agent %s from %s", core.ErrInvalidState, a.id, status)
	}
	a.startedAt = time.Now()
	a.spawnLocked(ctx)
	a.mu.Unlock()

	a.logger.Info("agent started")
	return nil
}

// Pause stops the loop at its next checkpoint. An action in flight runs to
// completion. Pausing a paused agent is a no-op.
func (a *Agent) Pause() error {
	a.mu.Lock()
	from := a.status
	switch from {
	case core.StatusTerminated:
		a.mu.Unlock()
		return fmt.Errorf("%w: pause terminated agent %s", core.ErrInvalidState, a.id)
	case core.StatusPaused:
		a.mu.Unlock()
		return nil
	}
	a.status = core.StatusPaused
	a.stopLoopLocked()
	a.mu.Unlock()

	a.statusChanged(from, core.StatusPaused)
	a.logger.Info("agent paused")
	return nil
}

// Resume returns a paused agent to idle and starts a new loop.
func (a *Agent) Resume(ctx context.Context) error {
	a.mu.Lock()
	if a.status != core.StatusPaused {
		status := a.status
		a.mu.Unlock()
		return fmt.Errorf("%w: resume agent %s from %s", core.ErrInvalidState, a.id, status)
	}
	to := core.StatusIdle
	if a.bound == nil {
		to = core.StatusInitializing
	}
	a.status = to
	if to == core.StatusIdle {
		if a.startedAt.IsZero() {
			a.startedAt = time.Now()
		}
		a.spawnLocked(ctx)
	}
	a.mu.Unlock()

	a.statusChanged(core.StatusPaused, to)
	a.logger.Info("agent resumed")
	return nil
}

// Terminate stops the loop for good and closes every event stream. It is
// idempotent. An action in flight is not interrupted.
func (a *Agent) Terminate() error {
	a.mu.Lock()
	from := a.status
	if from == core.StatusTerminated {
		a.mu.Unlock()
		return nil
	}
	a.status = core.StatusTerminated
	a.stopLoopLocked()
	a.mu.Unlock()

	a.statusChanged(from, core.StatusTerminated)
	a.logger.Info("agent terminated")
	a.streams.close()
	return nil
}

// Wait blocks until the current loop, if any, has exited.
func (a *Agent) Wait(ctx context.Context) error {
	a.mu.RLock()
	done := a.loopDone
	a.mu.RUnlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) spawnLocked(ctx context.Context) {
	stop := make(chan struct{})
	done := make(chan struct{})
	a.loopStop, a.loopDone = stop, done
	go a.run(ctx, stop, done)
}

func (a *Agent) stopLoopLocked() {
	if a.loopStop != nil {
		close(a.loopStop)
		a.loopStop = nil
	}
}

// run is the autonomous loop: perceive, decide, execute, sleep.
func (a *Agent) run(ctx context.Context, stop chan struct{}, done chan struct{}) {
	defer close(done)
	defer func() {
		a.mu.Lock()
		if a.loopStop == stop {
			a.loopStop = nil
		}
		a.mu.Unlock()
	}()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		wait, faulted := a.iterate(ctx)

		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if faulted {
			a.setStatusIf(core.StatusError, core.StatusIdle)
		}
	}
}

// iterate runs one loop iteration and returns how long to sleep afterwards.
func (a *Agent) iterate(ctx context.Context) (wait time.Duration, faulted bool) {
	a.iterMu.Lock()
	defer a.iterMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			wait, faulted = a.fault(fmt.Errorf("loop panic: %v", r))
		}
	}()

	switch a.Status() {
	case core.StatusPaused, core.StatusTerminated:
		return 0, false
	}
	a.loopIterations.Add(1)
	defer a.publishMetrics()

	if _, err := a.Perceive(ctx); err != nil {
		return a.fault(err)
	}
	action, err := a.decide(ctx)
	switch {
	case errors.Is(err, core.ErrNoActiveGoal):
		return a.loopCfg.IdleInterval, false
	case errors.Is(err, core.ErrPlanExhausted):
		a.settle(core.StatusPlanning)
		a.logger.Info("goal has nothing left to execute", "reason", err)
		return a.loopCfg.ActionInterval, false
	case err != nil:
		return a.fault(err)
	}

	if _, err := a.execute(ctx, action); err != nil {
		return a.fault(err)
	}
	return a.loopCfg.ActionInterval, false
}

func (a *Agent) fault(err error) (time.Duration, bool) {
	a.logger.Error("loop iteration failed", "error", err)
	a.setStatus(core.StatusError)
	return a.loopCfg.ErrorBackoff, true
}
