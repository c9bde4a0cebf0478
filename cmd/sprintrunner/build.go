package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"sprintrunner/internal/manifest"
	"sprintrunner/internal/orchestrator"
	"sprintrunner/internal/sprintbus"
	"sprintrunner/internal/sprintlog"
	"sprintrunner/internal/sprintmetrics"
	"sprintrunner/internal/sprintsettings"
	"sprintrunner/internal/sprintstore"
	"sprintrunner/internal/sprinttrace"
	"sprintrunner/internal/subagent"
)

// system bundles every long-lived subsystem the serve command needs to
// start and stop in order. Built once at boot, torn down once at shutdown.
type system struct {
	logFactory   *sprintlog.Factory
	registry     *prometheus.Registry
	metrics      *sprintmetrics.Metrics
	tracerClose  func(context.Context) error
	meterClose   func(context.Context) error
	store        *sprintstore.Store
	bus          *sprintbus.Bus
	hub          *sprintbus.Hub
	manifest     *manifest.Manifest
	settings     *sprintsettings.Store
	orchestrator *orchestrator.Orchestrator
}

// buildSystem wires every subsystem from cfg. Callers are responsible for
// calling system.close when done.
func buildSystem(ctx context.Context, cfg runtimeConfig) (*system, error) {
	logFactory := sprintlog.NewFactory(os.Stderr)

	store, err := sprintstore.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := sprintmetrics.MustNewMetrics(registry)

	tracerProvider, err := sprinttrace.NewTracerProvider(ctx, sprinttrace.Config{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "sprintrunner",
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build tracer provider: %w", err)
	}
	meterProvider, err := sprinttrace.NewMeterProvider(registry)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build meter provider: %w", err)
	}
	instruments, err := sprinttrace.NewInstruments(meterProvider)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build instruments: %w", err)
	}
	tracer := sprinttrace.NewTracer(tracerProvider)

	bus := sprintbus.New(logFactory.GetLogger("EventBus"))
	hub := sprintbus.NewHub(bus, store, logFactory.GetLogger("EventBus"))
	m := manifest.New(cfg.ManifestPath)
	settingsStore := sprintsettings.NewStore(
		filepath.Join(cfg.ProjectRoot, "sprintrunner-settings.json"),
		logFactory.GetLogger("StateStore"),
	)
	runner := subagent.NewRunner(subagent.Config{}, logFactory.GetLogger("SubagentRunner"))

	orch, err := orchestrator.New(orchestrator.Dependencies{
		Store:       store,
		Bus:         bus,
		Manifest:    m,
		Runner:      runner,
		Settings:    settingsStore,
		Logger:      logFactory.GetLogger("Orchestrator"),
		Metrics:     metrics,
		Tracer:      tracer,
		Instruments: instruments,
		ProjectRoot: cfg.ProjectRoot,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	return &system{
		logFactory:   logFactory,
		registry:     registry,
		metrics:      metrics,
		tracerClose:  tracerProvider.Shutdown,
		meterClose:   meterProvider.Shutdown,
		store:        store,
		bus:          bus,
		hub:          hub,
		manifest:     m,
		settings:     settingsStore,
		orchestrator: orch,
	}, nil
}

// close shuts every subsystem down in reverse dependency order, collecting
// (not short-circuiting on) the first error from each step.
func (s *system) close(ctx context.Context) error {
	var errs []error
	if err := s.tracerClose(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
	}
	if err := s.meterClose(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
