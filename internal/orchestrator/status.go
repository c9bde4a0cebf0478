package orchestrator

import (
	"context"
	"time"

	"sprintrunner/internal/sprintbus"
	"sprintrunner/internal/sprintstore"
)

// updateSprintStatus writes a story's new manifest status, emits
// story:status with the old/new pair, and mirrors the transition onto the
// Story row — ended_at is only set when the story reaches a terminal
// status.
func (o *Orchestrator) updateSprintStatus(ctx context.Context, storyKey, newStatus string) error {
	oldStatus, err := o.deps.Manifest.UpdateStatus(storyKey, newStatus)
	if err != nil {
		return err
	}

	o.emit(ctx, sprintbus.EventStoryStatus, map[string]any{
		"story_key":  storyKey,
		"old_status": oldStatus,
		"new_status": newStatus,
	})

	story, err := o.deps.Store.StoryByKey(ctx, o.currentBatchIDSnapshot(), storyKey)
	if err != nil {
		o.log().Warn("update sprint status: story row not found for %s: %v", storyKey, err)
		return nil
	}

	fields := map[string]any{"status": dbStoryStatus(newStatus)}
	if newStatus == "done" || newStatus == "blocked" {
		fields["ended_at"] = time.Now().UnixMilli()
	}
	if err := o.deps.Store.UpdateStory(ctx, story.ID, fields); err != nil {
		o.log().Warn("update story row for %s: %v", storyKey, err)
	}
	return nil
}

// dbStoryStatus maps a manifest status string onto the state store's
// narrower Story status enum.
func dbStoryStatus(manifestStatus string) string {
	switch manifestStatus {
	case "done":
		return sprintstore.StoryStatusDone
	case "blocked":
		return sprintstore.StoryStatusBlocked
	case "in-progress":
		return sprintstore.StoryStatusInProgress
	default:
		return sprintstore.StoryStatusPending
	}
}
