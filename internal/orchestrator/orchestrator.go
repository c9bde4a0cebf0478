// Package orchestrator implements the state machine that drives one sprint
// batch end to end: it selects stories from the sprint
// manifest, drives each through a fixed phase sequence via the subagent
// runner, persists every observable step to the state store, and broadcasts
// progress over the event bus.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	"sprintrunner/internal/manifest"
	"sprintrunner/internal/sprintbus"
	"sprintrunner/internal/sprintlog"
	"sprintrunner/internal/sprintmetrics"
	"sprintrunner/internal/sprintsettings"
	"sprintrunner/internal/sprintstore"
	"sprintrunner/internal/sprinttrace"
	"sprintrunner/internal/subagent"
)

// State is one value of the orchestrator's coarse state machine. Run moves
// idle → starting → running → idle; Stop does not change the state.
// StateWaitingChild and StateStopping are named but never entered: the state
// stays running while a child process runs and while a stop is pending.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateWaitingChild
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateWaitingChild:
		return "waiting"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Runner is the subset of subagent.Runner the orchestrator depends on. An
// interface so tests can substitute a stub that never spawns a real child
// process.
type Runner interface {
	Execute(ctx context.Context, req subagent.Request, onRecord subagent.RecordHandler) (*subagent.Result, error)
}

// Dependencies wires every collaborator the orchestrator needs. Store, Bus,
// Manifest, and Runner are required; Settings, Logger, Metrics, and Tracer are
// optional and fall back to safe defaults when nil.
type Dependencies struct {
	Store       *sprintstore.Store
	Bus         *sprintbus.Bus
	Manifest    *manifest.Manifest
	Runner      Runner
	Settings    *sprintsettings.Store
	Logger      *sprintlog.Logger
	Metrics     *sprintmetrics.Metrics
	Tracer      *sprinttrace.Tracer
	Instruments *sprinttrace.Instruments
	ProjectRoot string
}

// Orchestrator drives one batch at a time. A process is expected to hold at
// most one live Orchestrator.
type Orchestrator struct {
	deps Dependencies

	mu                sync.Mutex
	state             State
	stopRequested     bool
	cyclesCompleted   int
	maxCycles         int
	currentBatchID    int64
	currentStoryKeys  []string
	techSpecNeeded    bool
	techSpecDecisions map[string]string
	errorHistory      map[string][]string

	bgMu      sync.Mutex
	bgCancels []context.CancelFunc
	bgWG      sync.WaitGroup
}

// New validates dependencies and returns an idle Orchestrator.
func New(deps Dependencies) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("orchestrator: Store dependency is required")
	}
	if deps.Bus == nil {
		return nil, fmt.Errorf("orchestrator: Bus dependency is required")
	}
	if deps.Manifest == nil {
		return nil, fmt.Errorf("orchestrator: Manifest dependency is required")
	}
	if deps.Runner == nil {
		return nil, fmt.Errorf("orchestrator: Runner dependency is required")
	}
	if deps.ProjectRoot == "" {
		deps.ProjectRoot = "."
	}
	return &Orchestrator{
		deps:              deps,
		state:             StateIdle,
		techSpecDecisions: make(map[string]string),
		errorHistory:      make(map[string][]string),
	}, nil
}

func (o *Orchestrator) settings() sprintsettings.Settings {
	if o.deps.Settings == nil {
		return sprintsettings.Defaults()
	}
	return o.deps.Settings.Get()
}

func (o *Orchestrator) log() *sprintlog.Logger { return o.deps.Logger }

// tracer returns the configured Tracer, or a no-op one when Dependencies
// didn't supply one.
func (o *Orchestrator) tracer() *sprinttrace.Tracer {
	if o.deps.Tracer == nil {
		return sprinttrace.Noop()
	}
	return o.deps.Tracer
}

func (o *Orchestrator) startCycleSpan(ctx context.Context, cycleNumber int) (context.Context, oteltrace.Span) {
	return o.tracer().StartCycle(ctx, cycleNumber)
}

func (o *Orchestrator) startPhaseSpan(ctx context.Context, phase string, storyKeys []string) (context.Context, oteltrace.Span) {
	return o.tracer().StartPhase(ctx, phase, storyKeys)
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// State reports the orchestrator's current coarse state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// StatusSnapshot is a point-in-time read of the orchestrator's progress,
// shaped for the HTTP status endpoints.
type StatusSnapshot struct {
	Status          string   `json:"status"`
	BatchID         int64    `json:"batch_id,omitempty"`
	CyclesCompleted int      `json:"cycles_completed"`
	MaxCycles       int      `json:"max_cycles,omitempty"`
	CurrentStories  []string `json:"current_stories,omitempty"`
}

// Status reports a snapshot of the orchestrator's current progress.
func (o *Orchestrator) Status() StatusSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	stories := make([]string, len(o.currentStoryKeys))
	copy(stories, o.currentStoryKeys)
	return StatusSnapshot{
		Status:          o.state.String(),
		BatchID:         o.currentBatchID,
		CyclesCompleted: o.cyclesCompleted,
		MaxCycles:       o.maxCycles,
		CurrentStories:  stories,
	}
}

// IsRunning reports whether a batch is currently starting, running, or
// waiting on a child process.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == StateStarting || o.state == StateRunning || o.state == StateWaitingChild
}

func (o *Orchestrator) shouldStop() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopRequested
}

// BatchMode selects between a fixed number of cycles and "run until no
// stories remain".
type BatchMode string

const (
	BatchModeFixed BatchMode = "fixed"
	BatchModeAll   BatchMode = "all"
)

// Run drives one full batch lifecycle: open a
// batch row, run Step 0 and the context copy, loop cycles until stopped or
// out of work, then finalize. It returns once the batch has fully ended.
func (o *Orchestrator) Run(ctx context.Context, mode BatchMode, maxCycles int) error {
	o.setState(StateStarting)

	effectiveMax := maxCycles
	if mode == BatchModeAll {
		effectiveMax = 999
	}

	batch, err := o.deps.Store.CreateBatch(ctx, time.Now().UnixMilli(), effectiveMax)
	if err != nil {
		o.setState(StateIdle)
		return fmt.Errorf("create batch: %w", err)
	}

	o.mu.Lock()
	o.currentBatchID = batch.ID
	o.stopRequested = false
	o.cyclesCompleted = 0
	o.maxCycles = maxCycles
	o.mu.Unlock()

	var maxCyclesPayload any
	if mode == BatchModeFixed {
		maxCyclesPayload = maxCycles
	}
	o.emit(ctx, sprintbus.EventBatchStart, map[string]any{
		"batch_id":   batch.ID,
		"max_cycles": maxCyclesPayload,
	})
	o.deps.Metrics.ObserveBatch("started")

	o.runContextCheck(ctx)

	if !o.copyProjectContext(ctx) {
		o.emit(ctx, sprintbus.EventBatchWarning, map[string]any{
			"batch_id":     batch.ID,
			"message":      "Project context not available - proceeding without context",
			"warning_type": "context_copy_failed",
		})
	}

	o.setState(StateRunning)

	finalStatus := "completed"
	for !o.shouldStop() {
		more, err := o.runCycle(ctx)
		if err != nil {
			o.log().Error("cycle failed: %v", err)
			finalStatus = "error"
			break
		}
		if !more {
			finalStatus = "all_done"
			break
		}
		if mode == BatchModeFixed {
			o.mu.Lock()
			done := o.cyclesCompleted >= maxCycles
			o.mu.Unlock()
			if done {
				finalStatus = "completed"
				o.emit(ctx, sprintbus.EventBatchEnd, map[string]any{
					"batch_id":         batch.ID,
					"cycles_completed": o.cyclesCompleted,
					"status":           "completed",
				})
				break
			}
		}
	}
	if o.shouldStop() {
		finalStatus = "stopped"
	}

	o.waitBackground()

	o.mu.Lock()
	cycles := o.cyclesCompleted
	o.mu.Unlock()

	dbStatus := sprintstore.BatchStatusCompleted
	if o.shouldStop() {
		dbStatus = sprintstore.BatchStatusStopped
	}
	if err := o.deps.Store.UpdateBatch(ctx, batch.ID, map[string]any{
		"ended_at":         time.Now().UnixMilli(),
		"cycles_completed": cycles,
		"status":           dbStatus,
	}); err != nil {
		o.log().Error("finalize batch: %v", err)
	}
	o.deps.Metrics.ObserveBatch(finalStatus)

	o.setState(StateIdle)
	return nil
}

// Stop requests graceful shutdown: it flips the stop flag, cancels every
// tracked background task, and emits batch:end with status "stopped".
// In-flight synchronous children are allowed to complete; the main loop
// re-checks the flag at the next cycle boundary.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	o.stopRequested = true
	batchID := o.currentBatchID
	o.mu.Unlock()

	o.bgMu.Lock()
	for _, cancel := range o.bgCancels {
		cancel()
	}
	o.bgMu.Unlock()

	o.emit(ctx, sprintbus.EventBatchEnd, map[string]any{
		"batch_id":         batchID,
		"cycles_completed": o.cyclesCompletedSnapshot(),
		"status":           "stopped",
	})
}

func (o *Orchestrator) cyclesCompletedSnapshot() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cyclesCompleted
}

// emit stamps and broadcasts an event through the bus; a nil bus is never
// expected (validated in New) but the helper exists so call sites stay terse.
func (o *Orchestrator) emit(_ context.Context, eventType string, payload map[string]any) {
	o.deps.Bus.Emit(eventType, payload)
}

// spawnBackground launches fn in a tracked, cancellable goroutine so Stop
// can cancel every outstanding background task.
func (o *Orchestrator) spawnBackground(ctx context.Context, fn func(ctx context.Context)) {
	bgCtx, cancel := context.WithCancel(ctx)
	o.bgMu.Lock()
	o.bgCancels = append(o.bgCancels, cancel)
	o.bgMu.Unlock()

	o.bgWG.Add(1)
	go func() {
		defer o.bgWG.Done()
		defer cancel()
		fn(bgCtx)
	}()
}

func (o *Orchestrator) waitBackground() {
	o.bgWG.Wait()
}
