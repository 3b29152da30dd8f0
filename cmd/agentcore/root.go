package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/GoCodeAlone/agentcore/config"
	"github.com/GoCodeAlone/agentcore/internal/version"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("AGENTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "agentcore",
		Short:         "Run and coordinate autonomous agents",
		Long:          "agentcore creates the agents described in a YAML or TOML config, runs their control loops and coordinates work between them.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "path to a .yaml or .toml config file (defaults when empty)")
	flags.String("log-level", "", "override logging.level")
	flags.String("redis-addr", "", "override memory.redis_addr and use the redis pool")
	_ = v.BindPFlags(flags)

	rootCmd.AddCommand(
		newRunCmd(v),
		newValidateCmd(v),
		newVersionCmd(),
	)
	return rootCmd
}

// loadConfig reads the configured file, or the defaults when none is set,
// and applies flag and AGENTCORE_* overrides.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path := v.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if lvl := v.GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if addr := v.GetString("redis-addr"); addr != "" {
		cfg.Memory.GlobalPool = config.PoolRedis
		cfg.Memory.RedisAddr = addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		},
	}
}

func newValidateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and print a summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "configuration OK: %d agent(s), %d startup task(s)\n",
				len(cfg.Agents), len(cfg.Coordination.Tasks))
			fmt.Fprintf(out, "  global pool: %s\n", cfg.Memory.GlobalPool)
			fmt.Fprintf(out, "  task store:  %s\n", cfg.Coordination.TaskStore)
			for _, a := range cfg.Agents {
				fmt.Fprintf(out, "  - %s (%s): %s\n", a.Name, a.Type, strings.Join(a.Capabilities, ", "))
			}
			return nil
		},
	}
}
