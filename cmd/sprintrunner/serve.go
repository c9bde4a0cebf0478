package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sprintrunner/internal/sprintbus"
	"sprintrunner/internal/sprinthttp"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator dashboard HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	registerConfigFlags(cmd)
	return cmd
}

// runServe implements process startup end to end: finalize any lingering
// running batch, start the heartbeat, bind the listener, serve until
// signalled, then cancel the heartbeat and close every subsystem.
func runServe(ctx context.Context, cfg runtimeConfig) error {
	sys, err := buildSystem(ctx, cfg)
	if err != nil {
		return err
	}
	logger := sys.logFactory.GetLogger("HTTP")

	if active, ok, err := sys.store.ActiveBatch(ctx); err != nil {
		sys.close(ctx)
		return fmt.Errorf("check for stale running batch: %w", err)
	} else if ok {
		if _, err := sys.store.ForceFinalizeStaleRunning(ctx, time.Now().UnixMilli()); err != nil {
			sys.close(ctx)
			return fmt.Errorf("finalize stale batch %d: %w", active.ID, err)
		}
		logger.Warn("finalized stale running batch %d left over from a previous process", active.ID)
	}

	heartbeatInterval := time.Duration(sys.settings.Get().WebsocketHeartbeatSeconds) * time.Second
	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	go sprintbus.RunHeartbeat(heartbeatCtx, sys.bus, heartbeatInterval)

	router := sprinthttp.NewRouter(sprinthttp.RouterDeps{
		Orchestrator: sys.orchestrator,
		Store:        sys.store,
		Bus:          sys.bus,
		Hub:          sys.hub,
		Manifest:     sys.manifest,
		Settings:     sys.settings,
		Logger:       logger,
		Metrics:      sys.metrics,
		Registry:     sys.registry,
		ProjectRoot:  cfg.ProjectRoot,
		ArtifactsDir: sys.orchestrator.ImplementationArtifactsDir(),
		DashboardDir: cfg.DashboardDir,
	}, sprinthttp.RouterConfig{Environment: cfg.Environment})

	srv := &http.Server{Addr: cfg.BindAddr, Handler: router}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening on %s", cfg.BindAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	select {
	case <-sigCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			cancelHeartbeat()
			sys.close(ctx)
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown: %v", err)
	}

	cancelHeartbeat()
	sys.bus.CloseAll()
	return sys.close(shutdownCtx)
}
