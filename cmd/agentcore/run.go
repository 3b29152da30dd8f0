package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/GoCodeAlone/agentcore/config"
	"github.com/GoCodeAlone/agentcore/coordination"
	"github.com/GoCodeAlone/agentcore/core"
	"github.com/GoCodeAlone/agentcore/internal/version"
	"github.com/GoCodeAlone/agentcore/lifecycle"
	"github.com/GoCodeAlone/agentcore/memory"
	"github.com/GoCodeAlone/agentcore/task"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	var (
		duration    time.Duration
		statusEvery time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create, start and coordinate the configured agents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.Logging)
			logger.Info("starting agentcore", "version", version.Version, "commit", version.Commit)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			return run(ctx, cfg, cmd.OutOrStdout(), logger, statusEvery)
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().DurationVar(&statusEvery, "status-interval", 30*time.Second, "how often to print the health table (0 disables)")
	return cmd
}

// system is everything run wires together.
type system struct {
	lifecycle    *lifecycle.Manager
	coordination *coordination.Service
	closePool    func() error
}

func (s *system) shutdown(logger *slog.Logger) {
	n := s.lifecycle.EmergencyStop()
	logger.Info("agents stopped", "count", n)
	if err := errors.Join(s.coordination.Close(), s.closePool()); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func openPool(ctx context.Context, cfg config.MemoryConfig) (memory.GlobalPool, func() error, error) {
	if cfg.GlobalPool != config.PoolRedis {
		return memory.NewInMemoryPool(), func() error { return nil }, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	return memory.NewRedisPool(rdb, cfg.RedisKey), rdb.Close, nil
}

func openStore(cfg config.CoordinationConfig) (task.Store, error) {
	if cfg.TaskStore != config.StoreSQLite {
		return task.NewMemoryStore(), nil
	}
	return task.NewSQLiteStore(cfg.DatabasePath)
}

// build wires the shared memory, the lifecycle manager and the coordination
// service, then creates, initializes and registers every configured agent.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*system, error) {
	pool, closePool, err := openPool(ctx, cfg.Memory)
	if err != nil {
		return nil, err
	}
	store, err := openStore(cfg.Coordination)
	if err != nil {
		_ = closePool()
		return nil, fmt.Errorf("open task store: %w", err)
	}

	sys := &system{
		lifecycle: lifecycle.NewManager(lifecycle.Options{
			Catalog: lifecycle.NewCatalog(),
			Memory:  memory.NewManager(memory.WithGlobalPool(pool), memory.WithLogger(logger)),
			Loop:    cfg.Runtime.LoopConfig(),
			Logger:  logger,
		}),
		coordination: coordination.NewService(nil, store, logger),
		closePool:    closePool,
	}

	host, _ := os.Hostname()
	now := time.Now()
	for _, ac := range cfg.Agents {
		a, err := sys.lifecycle.CreateAgent(ac.ToAgentConfig(now))
		if err != nil {
			sys.shutdown(logger)
			return nil, fmt.Errorf("create agent %s: %w", ac.Name, err)
		}
		c := &core.Context{
			ActorID:     "agentcore",
			Environment: map[string]any{"host": host},
		}
		if err := sys.lifecycle.InitializeAgent(ctx, a.ID(), c); err != nil {
			sys.shutdown(logger)
			return nil, fmt.Errorf("initialize agent %s: %w", ac.Name, err)
		}
		sys.coordination.RegisterAgent(a)
	}
	return sys, nil
}

func (s *system) participants() []coordination.Participant {
	agents := s.lifecycle.ListAgents()
	out := make([]coordination.Participant, len(agents))
	for i, a := range agents {
		out[i] = a
	}
	return out
}

// negotiateStartupTasks offers each configured task to every agent. A task
// nobody can take is logged and skipped.
func (s *system) negotiateStartupTasks(ctx context.Context, tasks []config.TaskConfig, logger *slog.Logger) {
	for _, tc := range tasks {
		req := coordination.TaskRequest{Description: tc.Description, Priority: tc.Priority}
		if tc.DeadlineIn.Duration > 0 {
			d := time.Now().Add(tc.DeadlineIn.Duration)
			req.Deadline = &d
		}
		selected, err := s.coordination.Negotiate(ctx, s.participants(), req)
		if err != nil {
			logger.Warn("startup task not assigned", "description", tc.Description, "error", err)
			continue
		}
		ids := make([]string, len(selected))
		for i, p := range selected {
			ids[i] = p.ID()
		}
		logger.Info("startup task assigned", "description", tc.Description, "agents", ids)
	}
}

func run(ctx context.Context, cfg *config.Config, out io.Writer, logger *slog.Logger, statusEvery time.Duration) error {
	sys, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sys.shutdown(logger)

	events, cancel := sys.lifecycle.Subscribe()
	defer cancel()
	go func() {
		for ev := range events {
			logger.Debug("lifecycle event", "type", ev.Type, "agent_id", ev.AgentID, "status", ev.Status)
		}
	}()

	sys.negotiateStartupTasks(ctx, cfg.Coordination.Tasks, logger)
	for _, a := range sys.lifecycle.ListAgents() {
		if err := sys.lifecycle.StartAgent(ctx, a.ID()); err != nil {
			return fmt.Errorf("start agent %s: %w", a.Name(), err)
		}
	}
	logger.Info("agents running", "count", len(cfg.Agents))

	var tick <-chan time.Time
	if statusEvery > 0 {
		ticker := time.NewTicker(statusEvery)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			renderHealth(out, sys.lifecycle.HealthCheck(), sys.lifecycle.ListAgents())
			renderCoordination(out, sys.coordination.GetCoordinationStats())
			return nil
		case <-tick:
			renderHealth(out, sys.lifecycle.HealthCheck(), sys.lifecycle.ListAgents())
		}
	}
}
