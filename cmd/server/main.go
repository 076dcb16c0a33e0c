// Package main is the entry point for the stealth trading engine. The
// process wires the engine through the DI container, registers the
// trading-day schedules, exposes the HTTP surface and then waits for a
// shutdown signal.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tkomnos/stealthtrader/internal/config"
	"github.com/tkomnos/stealthtrader/internal/di"
	"github.com/tkomnos/stealthtrader/internal/domain"
	"github.com/tkomnos/stealthtrader/internal/server"
	"github.com/tkomnos/stealthtrader/pkg/logger"
)

// Exit codes. Signal-driven shutdown re-raises the signal so the shell
// sees the conventional 128+N status.
const (
	exitConfigInvalid = 2
	exitStartupError  = 3
)

// shutdownDeadline bounds the final monitor pass and the HTTP drain.
const shutdownDeadline = 20 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Error().Err(err).Msg("Failed to load configuration")
		if errors.Is(err, config.ErrInvalid) {
			os.Exit(exitConfigInvalid)
		}
		os.Exit(exitStartupError)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().
		Str("strategy_mode", cfg.StrategyMode).
		Str("system_mode", cfg.SystemMode).
		Str("broker_env", cfg.BrokerEnv).
		Msg("Starting stealth trader")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to wire dependencies")
		os.Exit(exitStartupError)
	}

	warnOnExpiredToken(container, cfg, log)
	restoreSnapshot(container, cfg, log)

	if err := di.RegisterJobs(context.Background(), container, cfg, log); err != nil {
		log.Error().Err(err).Msg("Failed to register scheduled jobs")
		container.Close()
		os.Exit(exitStartupError)
	}

	if container.TokenFeed != nil {
		if err := container.TokenFeed.Start(); err != nil {
			log.Warn().Err(err).Msg("Token feed failed to start, continuing without it")
		}
	}

	srv := server.New(server.Config{
		Log:       log,
		Config:    cfg,
		Container: container,
		Port:      cfg.Port,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	container.Scheduler.Start()
	log.Info().Int("port", cfg.Port).Msg("Engine running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var received os.Signal
	select {
	case received = <-sigCh:
		log.Info().Str("signal", received.String()).Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
			container.Close()
			os.Exit(exitStartupError)
		}
		container.Close()
		return
	}

	shutdown(container, cfg, srv, log)
	container.Close()

	// Re-raise so the exit status follows signal conventions (130/143).
	signal.Reset(syscall.SIGINT, syscall.SIGTERM)
	if sig, ok := received.(syscall.Signal); ok {
		_ = syscall.Kill(syscall.Getpid(), sig)
	}
}

// warnOnExpiredToken surfaces a dead broker session at startup. The
// engine still runs; the executor keeps every order simulated until
// fresh tokens arrive.
func warnOnExpiredToken(c *di.Container, cfg *config.Config, log zerolog.Logger) {
	state := c.TokenManager.State()
	if cfg.SystemMode == config.SystemFullTrading &&
		(state == domain.TokenExpired || state == domain.TokenAbsent) {
		log.Warn().
			Str("token_state", string(state)).
			Msg("No usable broker token, orders will be simulated until tokens arrive")
	}
}

// restoreSnapshot reloads open positions persisted at the last
// shutdown. Best-effort: a failed restore starts with an empty book.
func restoreSnapshot(c *di.Container, cfg *config.Config, log zerolog.Logger) {
	if !cfg.SnapshotRestore {
		return
	}
	count, err := c.Monitor.RestoreSnapshot(cfg.SnapshotPath())
	if err != nil {
		log.Warn().Err(err).Msg("Failed to restore position snapshot")
		return
	}
	if count > 0 {
		log.Info().Int("positions", count).Msg("Restored open positions from snapshot")
	}
}

// shutdown drains the engine: no new passes, one final monitor pass,
// snapshot the book, then stop the HTTP server.
func shutdown(c *di.Container, cfg *config.Config, srv *server.Server, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()

	c.Scheduler.Stop()

	if c.Monitor.OpenCount() > 0 {
		if cfg.CloseOnShutdown {
			log.Info().Msg("Closing all open positions before exit")
			c.Monitor.CloseAll(ctx, domain.ExitShutdown)
		} else {
			c.Monitor.Tick(ctx)
		}
	}

	if cfg.SnapshotRestore {
		if err := c.Monitor.SaveSnapshot(cfg.SnapshotPath()); err != nil {
			log.Warn().Err(err).Msg("Failed to save position snapshot")
		}
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("Shutdown complete")
}
