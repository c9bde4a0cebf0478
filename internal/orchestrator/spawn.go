package orchestrator

import (
	"context"
	"time"

	"sprintrunner/internal/sprintbus"
	"sprintrunner/internal/sprintstore"
	"sprintrunner/internal/subagent"
)

// spawnRequest describes one subagent invocation the orchestrator wants to
// make. StoryKey, when set, causes a Command row to be created and updated
// around the call so story_is_blocked has history to evaluate.
type spawnRequest struct {
	Prompt      string
	CommandName string
	TaskID      string
	Model       string
	Injection   string
	StoryKey    string
}

// spawnSubagent runs one subagent invocation through the Runner dependency,
// tracking it as a Command when it belongs to a story, recording metrics,
// and routing every CSV status line the runner extracts through the event
// bus and state store.
func (o *Orchestrator) spawnSubagent(ctx context.Context, req spawnRequest) (*subagent.Result, error) {
	var cmdID int64
	trackAsCommand := req.StoryKey != ""
	if trackAsCommand {
		if story, err := o.deps.Store.StoryByKey(ctx, o.currentBatchIDSnapshot(), req.StoryKey); err == nil {
			cmd, err := o.deps.Store.CreateCommand(ctx, story.ID, req.CommandName, req.TaskID, time.Now().UnixMilli())
			if err != nil {
				o.log().Warn("create command row for %s: %v", req.CommandName, err)
			} else {
				cmdID = cmd.ID
			}
		}
	}

	start := time.Now()
	result, err := o.deps.Runner.Execute(ctx, subagent.Request{
		Prompt:           req.Prompt,
		Model:            req.Model,
		ContextInjection: req.Injection,
		WorkingDir:       o.deps.ProjectRoot,
	}, func(rec subagent.CSVRecord) {
		o.handleRecord(ctx, rec)
	})
	elapsed := time.Since(start).Seconds()

	status := sprintstore.CommandStatusCompleted
	if err != nil || (result != nil && result.ExitCode != 0) {
		status = sprintstore.CommandStatusFailed
	}
	o.deps.Metrics.ObserveCommand(req.CommandName, status, elapsed)

	if cmdID != 0 {
		if updErr := o.deps.Store.UpdateCommand(ctx, cmdID, map[string]any{
			"status": status, "ended_at": time.Now().UnixMilli(),
		}); updErr != nil {
			o.log().Warn("update command row %d: %v", cmdID, updErr)
		}
	}

	return result, err
}

// handleRecord persists and broadcasts one accepted CSV status line:
// "start" becomes command:start, anything else becomes command:end.
func (o *Orchestrator) handleRecord(ctx context.Context, rec subagent.CSVRecord) {
	eventType := sprintbus.EventCommandEnd
	if rec.Status == "start" {
		eventType = sprintbus.EventCommandStart
	}

	if _, err := o.deps.Store.AppendEvent(ctx, sprintstore.Event{
		BatchID:   o.currentBatchIDSnapshot(),
		Timestamp: rec.Timestamp.UnixMilli(),
		EventType: eventType,
		EpicID:    rec.EpicID,
		StoryKey:  rec.StoryID,
		Command:   rec.Command,
		TaskID:    rec.TaskID,
		Status:    rec.Status,
		Message:   rec.Message,
	}); err != nil {
		o.log().Warn("append event: %v", err)
	}

	o.emit(ctx, eventType, map[string]any{
		"story_key": rec.StoryID,
		"command":   rec.Command,
		"task_id":   rec.TaskID,
		"status":    rec.Status,
		"message":   rec.Message,
	})
}
