package sprinthttp

import (
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	storyIDPattern      = regexp.MustCompile(`^\d+[a-zA-Z]?-\d+`)
	storySectionPattern = regexp.MustCompile(`(?ms)^##\s+Story[^\n]*\n(.*?)(?:^##\s|\z)`)
	boldPattern         = regexp.MustCompile(`\*\*([^*]+)\*\*`)
)

var storyDescriptionSkipFiles = map[string]bool{
	"orchestrator.md":    true,
	"sprint-status.yaml": true,
	"index.md":           true,
}

const maxStoryDescriptionLength = 500

func extractStoryID(filename string) (string, bool) {
	if !strings.HasSuffix(filename, ".md") {
		return "", false
	}
	id := strings.TrimSuffix(filename, ".md")
	if !storyIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

// extractDescription pulls the text between a "## Story" heading and the
// next "##" heading, flattening markdown bold and newlines.
func extractDescription(content string) string {
	match := storySectionPattern.FindStringSubmatch(content)
	if match == nil {
		return ""
	}
	desc := strings.TrimSpace(match[1])
	desc = boldPattern.ReplaceAllString(desc, "$1")
	desc = strings.Join(strings.Fields(desc), " ")
	if len(desc) > maxStoryDescriptionLength {
		desc = desc[:maxStoryDescriptionLength]
	}
	return desc
}

// handleStoryDescriptions scans the implementation-artifacts directory for
// story files and extracts a short description from each, keyed by story ID.
func (s *Server) handleStoryDescriptions(c *gin.Context) {
	descriptions := make(map[string]string)

	entries, err := os.ReadDir(s.deps.ArtifactsDir)
	if err != nil {
		c.JSON(http.StatusOK, descriptions)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, "tech-spec-") || storyDescriptionSkipFiles[name] {
			continue
		}
		storyID, ok := extractStoryID(name)
		if !ok {
			continue
		}
		content, err := os.ReadFile(filepath.Join(s.deps.ArtifactsDir, name))
		if err != nil {
			continue
		}
		if desc := extractDescription(string(content)); desc != "" {
			descriptions[storyID] = desc
		}
	}

	c.JSON(http.StatusOK, descriptions)
}
