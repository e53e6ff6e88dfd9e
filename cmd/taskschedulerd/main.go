package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"taskscheduler/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		addr          string
		stateDir      string
		logLevel      string
		mode          string
		storeDriver   string
		useUTC        bool
		shutdownGrace time.Duration
	)

	command := &cobra.Command{
		Use:           "taskschedulerd",
		Short:         "Home Assistant task scheduler",
		Long:          "Runs interval, cron, one-shot and sun-relative tasks against the Home Assistant Supervisor.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			// Flags take precedence over the environment.
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Server.Addr = addr
			}
			if flags.Changed("state-dir") {
				cfg.Store.StateDir = stateDir
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if flags.Changed("mode") {
				cfg.Mode = mode
			}
			if flags.Changed("store") {
				cfg.Store.Driver = storeDriver
			}
			if flags.Changed("use-utc") {
				cfg.UseUTC = useUTC
			}
			if flags.Changed("shutdown-grace") {
				cfg.ShutdownGrace = shutdownGrace
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := command.Flags()
	flags.StringVar(&addr, "addr", "", "HTTP listen address (overrides TASKSCHED_ADDR)")
	flags.StringVar(&stateDir, "state-dir", "", "Directory holding tasks.json or tasks.sqlite")
	flags.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&mode, "mode", "", "Run mode: http, mcp or both")
	flags.StringVar(&storeDriver, "store", "", "Task store driver: json or sqlite")
	flags.BoolVar(&useUTC, "use-utc", false, "Use UTC for cron evaluation instead of system local time")
	flags.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")

	return command
}
