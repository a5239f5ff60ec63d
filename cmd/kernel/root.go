package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"authkernel/internal/kernel"
	"authkernel/internal/platform/config"
	"authkernel/internal/platform/logger"
)

// app carries what the persistent pre-run resolved for the subcommands.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "kernel",
		Short:         "Deterministic authority kernel",
		Long:          `Replays authority event logs, records the result stream and verifies state hash chains.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML configuration file (default: built-in defaults)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format: text or json")

	root.AddCommand(newReplayCmd(a))
	root.AddCommand(newVerifyCmd(a))
	return root
}

// load resolves configuration as defaults, then file, then AKERNEL_*
// environment, then flags.
func (a *app) load(cmd *cobra.Command) error {
	cfg := config.DefaultConfig()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg, err := config.FromEnv(cfg)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg
	a.logger = logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	return nil
}

// kernelOptions are the settings every kernel in this process shares. They
// are part of the replay contract.
func (a *app) kernelOptions() []kernel.Option {
	return []kernel.Option{
		kernel.WithGasSchedule(a.cfg.Kernel.Gas.Schedule()),
		kernel.WithScopedResolution(a.cfg.Kernel.AllowScopedResolution),
		kernel.WithLogger(a.logger),
	}
}
