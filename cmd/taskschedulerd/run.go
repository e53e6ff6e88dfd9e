package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"taskscheduler/internal/api"
	"taskscheduler/internal/config"
	"taskscheduler/internal/core"
	"taskscheduler/internal/logging"
	taskmcp "taskscheduler/internal/mcp"
	"taskscheduler/internal/metrics"
	"taskscheduler/internal/notify"
	"taskscheduler/internal/store"
	"taskscheduler/internal/supervisor"
)

func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	// stdout carries the MCP protocol in mcp and both modes.
	var logOut io.Writer = os.Stdout
	if cfg.Mode != config.ModeHTTP {
		logOut = os.Stderr
	}
	logger := logging.NewWithWriter(logOut, cfg.Log.Level, cfg.Log.Format)
	location := cfg.Location()
	metrics.Register()

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.StateDir, store.Options{
		Location: location,
		Logger:   logger.With().Str("component", "store").Logger(),
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	client := supervisor.New(supervisor.Config{
		BaseURL:   cfg.Supervisor.URL,
		Token:     cfg.Supervisor.Token,
		Timeout:   cfg.Supervisor.Timeout,
		RateLimit: cfg.Supervisor.RateLimit,
		Burst:     cfg.Supervisor.Burst,
	}, logger)

	notifier, err := buildNotifier(cfg, client)
	if err != nil {
		return err
	}

	state := core.NewState(cfg.Store.HistoryLimit)
	dispatcher := core.NewDispatcher(state, client, st, notifier, logger)
	solar := core.NewSolarContext(client, cfg.Solar.SunEntity, logger)
	scheduler := core.NewScheduler(state, dispatcher, solar, logger, location, core.Timing{
		PollInterval: cfg.Solar.PollInterval,
		Tolerance:    cfg.Solar.Tolerance,
		Cooldown:     cfg.Solar.Cooldown,
		RefreshSpec:  cfg.Solar.RefreshSpec,
	})

	if err := scheduler.Load(ctx, st); err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	logger.Info().
		Str("mode", cfg.Mode).
		Str("store", cfg.Store.Driver).
		Str("state_dir", cfg.Store.StateDir).
		Msg("task scheduler running")

	var runErr error
	switch cfg.Mode {
	case config.ModeMCP:
		runErr = runMCPMode(ctx, cancel, scheduler, logger, location)
	case config.ModeBoth:
		runErr = runServers(ctx, cfg, scheduler, client, logger, location, true)
	default:
		runErr = runServers(ctx, cfg, scheduler, client, logger, location, false)
	}

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(cfg.ShutdownGrace):
		logger.Warn().Msg("scheduler stop timed out")
	}
	dispatcher.Persist(context.Background())
	logger.Info().Msg("shutdown complete")
	return runErr
}

func buildNotifier(cfg *config.Config, executor core.ActionExecutor) (core.Notifier, error) {
	var notifiers []notify.Notifier
	if cfg.Notification.Bark.Enabled {
		bark, err := notify.NewBarkNotifier(cfg.Notification.Bark.URL)
		if err != nil {
			return nil, fmt.Errorf("bark notifier: %w", err)
		}
		notifiers = append(notifiers, bark)
	}
	if cfg.Notification.Persistent {
		notifiers = append(notifiers, notify.NewPersistentNotifier(executor))
	}
	if len(notifiers) == 0 {
		return nil, nil
	}
	return notify.NewMultiNotifier(notifiers...), nil
}

// runMCPMode serves MCP over stdio until stdin closes or a signal arrives.
func runMCPMode(ctx context.Context, cancel context.CancelFunc, scheduler *core.Scheduler, logger zerolog.Logger, location *time.Location) error {
	mcpServer := taskmcp.NewMCPServer(scheduler, logger, location)
	mcpErr := make(chan error, 1)
	go func() {
		mcpErr <- mcpServer.Run()
	}()
	select {
	case <-ctx.Done():
		logger.Info().Msg("received signal, shutting down")
		return nil
	case err := <-mcpErr:
		cancel()
		if err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	}
}

// runServers serves HTTP and, with withMCP, MCP over stdio and /mcp as well.
func runServers(ctx context.Context, cfg *config.Config, scheduler *core.Scheduler, client *supervisor.Client, logger zerolog.Logger, location *time.Location, withMCP bool) error {
	var (
		mcpHandler http.Handler
		mcpErr     = make(chan error, 1)
	)
	if withMCP {
		mcpServer := taskmcp.NewMCPServer(scheduler, logger, location)
		mcpHandler = mcpServer.HTTPHandler()
		go func() {
			if err := mcpServer.Run(); err != nil {
				mcpErr <- err
			}
		}()
	}

	server := api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, scheduler, client, mcpHandler, logger, location)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("received signal, shutting down")
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	case err := <-mcpErr:
		runErr = fmt.Errorf("mcp server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	return runErr
}
