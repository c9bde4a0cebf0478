package sprinthttp

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sprintrunner/internal/orchestrator"
)

type startRequest struct {
	BatchSize any `json:"batch_size"`
}

// handleOrchestratorStart starts one batch in the background; the HTTP
// request returns as soon as the run goroutine is launched, before the batch
// row is created and long before the batch ends.
func (s *Server) handleOrchestratorStart(c *gin.Context) {
	if s.deps.Orchestrator.IsRunning() {
		c.JSON(http.StatusConflict, gin.H{"error": "orchestrator already running"})
		return
	}

	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mode := orchestrator.BatchModeFixed
	maxCycles := s.deps.Settings.Get().DefaultMaxCycles
	switch v := req.BatchSize.(type) {
	case nil:
	case string:
		if v != "all" {
			c.JSON(http.StatusBadRequest, gin.H{"error": `batch_size must be a positive integer or "all"`})
			return
		}
		mode = orchestrator.BatchModeAll
	case float64:
		if v < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "batch_size must be >= 1"})
			return
		}
		maxCycles = int(v)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": `batch_size must be a positive integer or "all"`})
		return
	}

	go func() {
		if err := s.deps.Orchestrator.Run(context.Background(), mode, maxCycles); err != nil {
			s.log().Error("orchestrator run: %v", err)
		}
	}()

	c.JSON(http.StatusOK, gin.H{"status": "started", "batch_size": req.BatchSize})
}

// handleOrchestratorStop requests graceful shutdown of a running batch, or
// forcibly finalizes a stale "running" row left by an earlier crash.
func (s *Server) handleOrchestratorStop(c *gin.Context) {
	ctx := c.Request.Context()

	if s.deps.Orchestrator.IsRunning() {
		s.deps.Orchestrator.Stop(ctx)
		c.JSON(http.StatusOK, gin.H{"status": "stopping"})
		return
	}

	active, ok, err := s.deps.Store.ActiveBatch(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "idle"})
		return
	}

	if _, err := s.deps.Store.ForceFinalizeStaleRunning(ctx, time.Now().UnixMilli()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleaned", "batch_id": active.ID})
}

func (s *Server) handleOrchestratorStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Orchestrator.Status())
}

// handleWebsocket blocks for the lifetime of one connection; the gauge
// update after it returns reflects the subscriber count once this peer has
// been removed.
func (s *Server) handleWebsocket(c *gin.Context) {
	s.deps.Hub.ServeWebsocket(c.Writer, c.Request, s.deps.Orchestrator.Status().BatchID)
	if s.deps.Metrics != nil {
		s.deps.Metrics.SetWebsocketClients(s.deps.Bus.SubscriberCount())
	}
}
