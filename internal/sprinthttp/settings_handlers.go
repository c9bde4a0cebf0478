package sprinthttp

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Settings.Get())
}

// handlePutSettings applies a partial settings update. Every value must be a
// JSON number; unknown keys or out-of-range values fail the whole update
// with no side effects.
func (s *Server) handlePutSettings(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kvs := make(map[string]int, len(body))
	for key, raw := range body {
		n, ok := raw.(float64)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("setting %q must be a number", key)})
			return
		}
		kvs[key] = int(n)
	}

	updated, err := s.deps.Settings.Update(kvs)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, updated)
}
