package sprintstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenIsIdempotentAcrossCalls(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.CreateBatch(ctx, 1000, 2)
	require.NoError(t, err)

	// Re-running migrate against the already-initialized schema must not
	// error (CREATE TABLE IF NOT EXISTS, additive column check).
	require.NoError(t, store.migrate())
}

func TestBatchLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	b, err := store.CreateBatch(ctx, 1000, 3)
	require.NoError(t, err)
	require.Equal(t, BatchStatusRunning, b.Status)

	active, ok, err := store.ActiveBatch(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, b.ID, active.ID)

	require.NoError(t, store.UpdateBatch(ctx, b.ID, map[string]any{"cycles_completed": 1}))
	got, err := store.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.CyclesCompleted)

	require.NoError(t, store.UpdateBatch(ctx, b.ID, map[string]any{"status": BatchStatusCompleted, "ended_at": int64(2000)}))
	_, ok, err = store.ActiveBatch(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdateBatchRejectsUnknownField(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	b, err := store.CreateBatch(ctx, 1000, 2)
	require.NoError(t, err)

	err = store.UpdateBatch(ctx, b.ID, map[string]any{"max_cycles": 10})
	require.Error(t, err)
	var wlErr *WhitelistError
	require.ErrorAs(t, err, &wlErr)
}

func TestForceFinalizeStaleRunning(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.CreateBatch(ctx, 1000, 2)
	require.NoError(t, err)
	_, err = store.CreateBatch(ctx, 1500, 2)
	require.NoError(t, err)

	n, err := store.ForceFinalizeStaleRunning(ctx, 9999)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	_, ok, err := store.ActiveBatch(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoryLifecycleAndUniqueness(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	b, err := store.CreateBatch(ctx, 1000, 2)
	require.NoError(t, err)

	st, err := store.CreateStory(ctx, b.ID, "STORY-1", "EPIC-1")
	require.NoError(t, err)
	require.Equal(t, StoryStatusPending, st.Status)

	_, err = store.CreateStory(ctx, b.ID, "STORY-1", "EPIC-1")
	require.Error(t, err, "duplicate (batch_id, story_key) must be rejected")

	require.NoError(t, store.UpdateStory(ctx, st.ID, map[string]any{"status": StoryStatusInProgress, "started_at": int64(1010)}))

	err = store.UpdateStory(ctx, st.ID, map[string]any{"status": StoryStatusDone})
	require.Error(t, err, "terminal status without ended_at must be rejected")

	require.NoError(t, store.UpdateStory(ctx, st.ID, map[string]any{"status": StoryStatusDone, "ended_at": int64(1050)}))

	got, err := store.StoryByKey(ctx, b.ID, "STORY-1")
	require.NoError(t, err)
	require.Equal(t, StoryStatusDone, got.Status)
	require.NotNil(t, got.EndedAt)
}

func TestUpdateStoryRejectsInvalidStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	b, _ := store.CreateBatch(ctx, 1000, 2)
	st, _ := store.CreateStory(ctx, b.ID, "STORY-1", "EPIC-1")

	err := store.UpdateStory(ctx, st.ID, map[string]any{"status": "nonsense"})
	require.Error(t, err)
}

func TestStoriesOfBatchOrdering(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	b, _ := store.CreateBatch(ctx, 1000, 2)

	_, err := store.CreateStory(ctx, b.ID, "STORY-1", "EPIC-1")
	require.NoError(t, err)
	_, err = store.CreateStory(ctx, b.ID, "STORY-2", "EPIC-1")
	require.NoError(t, err)

	stories, err := store.StoriesOfBatch(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, stories, 2)
	require.Equal(t, "STORY-1", stories[0].StoryKey)
	require.Equal(t, "STORY-2", stories[1].StoryKey)
}

func TestStoryIsBlockedRequiresThreeConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	b, _ := store.CreateBatch(ctx, 1000, 2)
	st, _ := store.CreateStory(ctx, b.ID, "STORY-1", "EPIC-1")

	blocked, err := store.StoryIsBlocked(ctx, st.ID)
	require.NoError(t, err)
	require.False(t, blocked, "no commands yet")

	c1, err := store.CreateCommand(ctx, st.ID, "dev", "task-1", 1000)
	require.NoError(t, err)
	require.NoError(t, store.UpdateCommand(ctx, c1.ID, map[string]any{"status": CommandStatusFailed, "ended_at": int64(1010)}))

	blocked, err = store.StoryIsBlocked(ctx, st.ID)
	require.NoError(t, err)
	require.False(t, blocked, "one failure is not enough")

	c2, err := store.CreateCommand(ctx, st.ID, "dev", "task-2", 1020)
	require.NoError(t, err)
	require.NoError(t, store.UpdateCommand(ctx, c2.ID, map[string]any{"status": CommandStatusFailed, "ended_at": int64(1030)}))

	c3, err := store.CreateCommand(ctx, st.ID, "dev", "task-3", 1040)
	require.NoError(t, err)
	require.NoError(t, store.UpdateCommand(ctx, c3.ID, map[string]any{"status": CommandStatusFailed, "ended_at": int64(1050)}))

	blocked, err = store.StoryIsBlocked(ctx, st.ID)
	require.NoError(t, err)
	require.True(t, blocked, "three consecutive failures must block the story")
}

func TestStoryIsBlockedResetsOnIntermediateSuccess(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	b, _ := store.CreateBatch(ctx, 1000, 2)
	st, _ := store.CreateStory(ctx, b.ID, "STORY-1", "EPIC-1")

	c1, _ := store.CreateCommand(ctx, st.ID, "dev", "task-1", 1000)
	require.NoError(t, store.UpdateCommand(ctx, c1.ID, map[string]any{"status": CommandStatusFailed, "ended_at": int64(1010)}))
	c2, _ := store.CreateCommand(ctx, st.ID, "dev", "task-2", 1020)
	require.NoError(t, store.UpdateCommand(ctx, c2.ID, map[string]any{"status": CommandStatusCompleted, "ended_at": int64(1030)}))
	c3, _ := store.CreateCommand(ctx, st.ID, "dev", "task-3", 1040)
	require.NoError(t, store.UpdateCommand(ctx, c3.ID, map[string]any{"status": CommandStatusFailed, "ended_at": int64(1050)}))

	blocked, err := store.StoryIsBlocked(ctx, st.ID)
	require.NoError(t, err)
	require.False(t, blocked, "a success in the most recent window must reset the streak")
}

func TestCommandsOfStoryMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	b, _ := store.CreateBatch(ctx, 1000, 2)
	st, _ := store.CreateStory(ctx, b.ID, "STORY-1", "EPIC-1")

	_, err := store.CreateCommand(ctx, st.ID, "dev", "task-1", 1000)
	require.NoError(t, err)
	_, err = store.CreateCommand(ctx, st.ID, "code-review", "task-2", 1100)
	require.NoError(t, err)

	cmds, err := store.CommandsOfStory(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	require.Equal(t, "code-review", cmds[0].Command)
}

func TestUpdateCommandRejectsUnknownField(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	b, _ := store.CreateBatch(ctx, 1000, 2)
	st, _ := store.CreateStory(ctx, b.ID, "STORY-1", "EPIC-1")
	c, _ := store.CreateCommand(ctx, st.ID, "dev", "task-1", 1000)

	err := store.UpdateCommand(ctx, c.ID, map[string]any{"started_at": int64(999)})
	require.Error(t, err)
}

func TestAppendEventAndEventsOfBatchPagination(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	b, _ := store.CreateBatch(ctx, 1000, 2)

	first, err := store.AppendEvent(ctx, Event{BatchID: b.ID, Timestamp: 1000, EventType: "batch_started"})
	require.NoError(t, err)
	_, err = store.AppendEvent(ctx, Event{BatchID: b.ID, Timestamp: 1010, EventType: "story_selected", StoryKey: "STORY-1"})
	require.NoError(t, err)

	all, err := store.EventsOfBatch(ctx, b.ID, 0, 50)
	require.NoError(t, err)
	require.Len(t, all, 2)

	after := first.ID
	rest, err := store.EventsOfBatch(ctx, b.ID, after, 50)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, "story_selected", rest[0].EventType)
}

func TestBackgroundTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	b, _ := store.CreateBatch(ctx, 1000, 2)

	bt, err := store.CreateBackgroundTask(ctx, b.ID, "STORY-1", "archive", 1000)
	require.NoError(t, err)
	require.Equal(t, BackgroundTaskStatusRunning, bt.Status)

	pending, err := store.PendingBackground(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, store.UpdateBackgroundTask(ctx, bt.ID, map[string]any{
		"status":       BackgroundTaskStatusCompleted,
		"completed_at": int64(1100),
	}))

	pending, err = store.PendingBackground(ctx, b.ID)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestPayloadJSONColumnExistsAfterMigration(t *testing.T) {
	store := newTestStore(t)
	has, err := store.hasColumn("events", "payload_json")
	require.NoError(t, err)
	require.True(t, has)
}
