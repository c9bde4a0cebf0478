package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sprintrunner/internal/sprintbus"
)

// cleanupBatchFiles moves every file in the implementation-artifacts
// directory whose name contains (case-insensitively) any of storyKeys into
// a sibling archive directory. Per-file failures are
// non-fatal; the overall outcome always ends with cleanup:complete.
func (o *Orchestrator) cleanupBatchFiles(ctx context.Context, storyKeys []string) int {
	implDir := o.implementationArtifactsDir()
	archiveDir := o.archivedArtifactsDir()

	if len(storyKeys) == 0 {
		o.emit(ctx, sprintbus.EventCleanupComplete, map[string]any{
			"files_moved": 0,
			"story_keys":  []string{},
			"message":     "Cleanup complete: 0 files archived (no story keys provided)",
		})
		return 0
	}

	entries, err := os.ReadDir(implDir)
	if err != nil {
		o.emit(ctx, sprintbus.EventCleanupComplete, map[string]any{
			"files_moved": 0,
			"story_keys":  storyKeys,
			"message":     "Cleanup complete: 0 files archived (source directory missing)",
		})
		return 0
	}

	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		o.emit(ctx, sprintbus.EventCleanupError, map[string]any{
			"error":   "Failed to create archive directory: " + err.Error(),
			"message": "Cannot proceed with cleanup",
		})
		o.emit(ctx, sprintbus.EventCleanupComplete, map[string]any{
			"files_moved": 0,
			"story_keys":  storyKeys,
			"message":     "Cleanup complete: 0 files archived (archive directory creation failed)",
		})
		return 0
	}

	matched := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		nameLower := strings.ToLower(entry.Name())
		for _, key := range storyKeys {
			if strings.Contains(nameLower, strings.ToLower(key)) {
				matched[entry.Name()] = true
				break
			}
		}
	}

	names := make([]string, 0, len(matched))
	for name := range matched {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})

	filesMoved := 0
	for _, name := range names {
		source := filepath.Join(implDir, name)
		dest := filepath.Join(archiveDir, name)
		if err := moveFile(source, dest); err != nil {
			o.emit(ctx, sprintbus.EventCleanupFileError, map[string]any{
				"file": source, "error": err.Error(), "message": "Failed to move " + name,
			})
			continue
		}
		filesMoved++
		o.emit(ctx, sprintbus.EventCleanupFileMoved, map[string]any{
			"source": source, "destination": dest, "file_name": name,
		})
	}

	o.emit(ctx, sprintbus.EventCleanupComplete, map[string]any{
		"files_moved": filesMoved,
		"story_keys":  storyKeys,
		"message":     fmt.Sprintf("Cleanup complete: %d files archived", filesMoved),
	})
	return filesMoved
}

// moveFile renames source to dest, falling back to a copy-then-remove when
// the rename fails across filesystem boundaries (Go has no shutil.move
// equivalent in the standard library).
func moveFile(source, dest string) error {
	if err := os.Rename(source, dest); err == nil {
		return nil
	}
	content, err := os.ReadFile(source)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dest, content, 0o644); err != nil {
		return err
	}
	return os.Remove(source)
}
