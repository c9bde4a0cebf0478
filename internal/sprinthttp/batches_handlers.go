package sprinthttp

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sergi/go-diff/diffmatchpatch"

	"sprintrunner/internal/orchestrator"
	"sprintrunner/internal/sprintstore"
)

// batchView adds a derived duration to the raw store row; EndedAt is nil
// while a batch is still running, in which case DurationSeconds is omitted.
type batchView struct {
	sprintstore.Batch
	DurationSeconds *int64 `json:"duration_seconds,omitempty"`
}

func withDuration(b sprintstore.Batch) batchView {
	v := batchView{Batch: b}
	if b.EndedAt != nil {
		d := (*b.EndedAt - b.StartedAt) / 1000
		v.DurationSeconds = &d
	}
	return v
}

func (s *Server) handleListBatches(c *gin.Context) {
	ctx := c.Request.Context()

	limit := s.deps.Settings.Get().DefaultBatchListLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	offset := 0
	if raw := c.Query("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}

	batches, err := s.deps.Store.ListBatches(ctx, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total, err := s.deps.Store.CountBatches(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	views := make([]batchView, 0, len(batches))
	for _, b := range batches {
		views = append(views, withDuration(b))
	}
	c.JSON(http.StatusOK, gin.H{"batches": views, "total": total})
}

type storyView struct {
	sprintstore.Story
	Commands []sprintstore.Command `json:"commands"`
}

func (s *Server) handleBatchDetail(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch id"})
		return
	}

	ctx := c.Request.Context()
	batch, err := s.deps.Store.GetBatch(ctx, id)
	if errors.Is(err, sprintstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	stories, err := s.deps.Store.StoriesOfBatch(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	storyViews := make([]storyView, 0, len(stories))
	doneCount, blockedCount := 0, 0
	for _, st := range stories {
		commands, err := s.deps.Store.CommandsOfStory(ctx, st.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		storyViews = append(storyViews, storyView{Story: st, Commands: commands})
		switch st.Status {
		case sprintstore.StoryStatusDone:
			doneCount++
		case sprintstore.StoryStatusBlocked:
			blockedCount++
		}
	}

	stats := gin.H{
		"story_count":   len(stories),
		"done_count":    doneCount,
		"blocked_count": blockedCount,
	}
	if drift := s.contextDrift(); drift != "" {
		stats["context_drift"] = drift
	}

	c.JSON(http.StatusOK, gin.H{"batch": withDuration(batch), "stories": storyViews, "stats": stats})
}

// contextDrift compares the live project-context document against the
// batch's frozen snapshot and returns a unified-diff-style patch when they
// differ, or "" when either file is unavailable or they're identical.
func (s *Server) contextDrift() string {
	live, err := os.ReadFile(orchestrator.ProjectContextPath(s.deps.ProjectRoot))
	if err != nil {
		return ""
	}
	frozen, err := os.ReadFile(orchestrator.SprintProjectContextPath(s.deps.ProjectRoot))
	if err != nil {
		return ""
	}
	if string(live) == string(frozen) {
		return ""
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(frozen), string(live), false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	patches := dmp.PatchMake(string(frozen), diffs)
	return dmp.PatchToText(patches)
}
