package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sprintrunner/internal/sprintbus"
	"sprintrunner/internal/sprintstore"
)

// contextFreshness classifies the project-context document's age.
type contextFreshness int

const (
	contextMissing contextFreshness = iota
	contextExpired
	contextFresh
)

func (o *Orchestrator) currentBatchIDSnapshot() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentBatchID
}

func (o *Orchestrator) projectContextFreshness() contextFreshness {
	info, err := os.Stat(o.projectContextPath())
	if err != nil {
		return contextMissing
	}
	maxAge := time.Duration(o.settings().ProjectContextMaxAgeHours) * time.Hour
	if time.Since(info.ModTime()) > maxAge {
		return contextExpired
	}
	return contextFresh
}

// runContextCheck implements Step 0: missing context is
// generated synchronously; expired context is refreshed in the background
// so the main loop proceeds without waiting; fresh context is a no-op.
func (o *Orchestrator) runContextCheck(ctx context.Context) {
	switch o.projectContextFreshness() {
	case contextMissing:
		o.createProjectContext(ctx)
	case contextExpired:
		o.refreshProjectContextBackground(ctx)
	default:
		o.emit(ctx, sprintbus.EventContextFresh, map[string]any{
			"story_key":    "context",
			"context_type": "project-context",
			"message":      "Project context is fresh, skipping regeneration",
		})
	}
}

func (o *Orchestrator) generateContextPrompt() string {
	return "AUTONOMOUS MODE - Generate fresh project context.\n\n" +
		"Run the workflow that produces _bmad-output/planning-artifacts/project-context.md " +
		"for the current repository, then exit."
}

// createProjectContext blocks until the context-generation subagent
// completes, since the main loop has no context to inject for any child
// spawned before this returns.
func (o *Orchestrator) createProjectContext(ctx context.Context) {
	o.emit(ctx, sprintbus.EventContextCreate, map[string]any{
		"story_key": "context", "context_type": "project-context", "status": "starting",
	})

	_, err := o.spawnSubagent(ctx, spawnRequest{
		Prompt:      o.generateContextPrompt(),
		CommandName: "generate-project-context",
		TaskID:      "context",
	})
	if err != nil {
		o.emit(ctx, sprintbus.EventContextError, map[string]any{
			"story_key": "context", "context_type": "project-context", "error": err.Error(),
		})
		return
	}
	o.emit(ctx, sprintbus.EventContextCreate, map[string]any{
		"story_key": "context", "context_type": "project-context", "status": "complete",
	})
}

// refreshProjectContextBackground returns immediately, tracking the refresh
// as a BackgroundTask so the main loop is never blocked by a merely-stale
// context document.
func (o *Orchestrator) refreshProjectContextBackground(ctx context.Context) {
	bt, err := o.deps.Store.CreateBackgroundTask(ctx, o.currentBatchIDSnapshot(), "system", "project-context-refresh", time.Now().UnixMilli())
	if err != nil {
		o.log().Error("create background task: %v", err)
		return
	}

	o.emit(ctx, sprintbus.EventContextRefresh, map[string]any{
		"story_key": "context", "context_type": "project-context", "task_id": bt.ID, "status": "started",
	})
	if o.deps.Instruments != nil {
		o.deps.Instruments.ContextRefreshes.Add(ctx, 1)
	}

	o.spawnBackground(ctx, func(bgCtx context.Context) {
		_, err := o.spawnSubagent(bgCtx, spawnRequest{
			Prompt:      o.generateContextPrompt(),
			CommandName: "generate-project-context",
			TaskID:      "context",
		})
		status := sprintstore.BackgroundTaskStatusCompleted
		if err != nil {
			status = sprintstore.BackgroundTaskStatusFailed
		}
		if updErr := o.deps.Store.UpdateBackgroundTask(bgCtx, bt.ID, map[string]any{
			"status": status, "completed_at": time.Now().UnixMilli(),
		}); updErr != nil {
			o.log().Error("update background task: %v", updErr)
		}
		if err != nil {
			o.emit(bgCtx, sprintbus.EventContextError, map[string]any{
				"story_key": "context", "context_type": "project-context", "task_id": bt.ID, "error": err.Error(),
			})
			return
		}
		o.emit(bgCtx, sprintbus.EventContextComplete, map[string]any{
			"story_key": "context", "context_type": "project-context", "task_id": bt.ID, "status": "completed",
		})
	})
}

// copyProjectContext freezes a single snapshot of the project context for
// the whole batch: every subagent spawned during this batch
// sees byte-identical content, even if project-context.md changes mid-batch.
func (o *Orchestrator) copyProjectContext(ctx context.Context) bool {
	source := o.projectContextPath()
	dest := o.sprintProjectContextPath()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		o.emit(ctx, sprintbus.EventContextCopyFailed, map[string]any{
			"source":  source,
			"reason":  fmt.Sprintf("failed to create destination directory: %v", err),
			"message": "Could not create directory for sprint-project-context.md",
		})
		return false
	}

	content, err := os.ReadFile(source)
	if err != nil {
		reason := fmt.Sprintf("failed to read source file: %v", err)
		message := "Could not read project-context.md"
		if errors.Is(err, os.ErrNotExist) {
			reason = "Source file does not exist"
			message = "project-context.md not found - agents will not have project context"
		}
		o.emit(ctx, sprintbus.EventContextCopyFailed, map[string]any{
			"source": source, "reason": reason, "message": message,
		})
		return false
	}

	if err := os.WriteFile(dest, content, 0o644); err != nil {
		o.emit(ctx, sprintbus.EventContextCopyFailed, map[string]any{
			"source":  source,
			"reason":  fmt.Sprintf("failed to write destination file: %v", err),
			"message": "Could not write sprint-project-context.md",
		})
		return false
	}

	o.emit(ctx, sprintbus.EventContextCopied, map[string]any{
		"source": source, "destination": dest, "message": "Project context copied for sprint batch",
	})
	return true
}
