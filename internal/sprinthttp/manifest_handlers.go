package sprinthttp

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"sprintrunner/internal/activitylog"
)

func (s *Server) handleSprintStatus(c *gin.Context) {
	entries, err := s.deps.Manifest.DevelopmentStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := make(map[string]string, len(entries))
	for _, e := range entries {
		status[e.Key] = e.Status
	}
	c.JSON(http.StatusOK, gin.H{"development_status": status})
}

// handleOrchestratorActivity serves the parsed + raw orchestrator.csv
// activity log. A missing file is not an error — the orchestrator may not
// have run yet — it just yields an empty activity list.
func (s *Server) handleOrchestratorActivity(c *gin.Context) {
	path := filepath.Join(s.deps.ArtifactsDir, "orchestrator.csv")
	raw, err := os.ReadFile(path)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"activities": []activitylog.Record{}, "raw": ""})
		return
	}
	activities := activitylog.Parse(string(raw), time.Now().Unix())
	c.JSON(http.StatusOK, gin.H{"activities": activities, "raw": string(raw)})
}
