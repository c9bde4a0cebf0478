package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"sprintrunner/internal/sprintbus"
)

// injectionOptions controls which file categories build goes into the
// context-injection envelope for one subagent invocation.
type injectionOptions struct {
	IncludeProjectContext bool
	IncludeDiscovery      bool
	IncludeTechSpec       bool
	AdditionalFiles       []string
}

type injectedFile struct {
	relPath string
	content string
}

func sortByBasenameLower(paths []string) {
	sort.Slice(paths, func(i, j int) bool {
		return strings.ToLower(filepath.Base(paths[i])) < strings.ToLower(filepath.Base(paths[j]))
	})
}

// buildInjection assembles the deterministic XML context-injection blob for
// one subagent call: project context, then story/discovery/tech-spec files
// (each category sorted case-insensitively by filename), then any explicit
// extra files. Each file appears at most once; unreadable or non-UTF-8
// files are skipped silently.
func (o *Orchestrator) buildInjection(ctx context.Context, commandName string, storyKeys []string, opts injectionOptions) (string, error) {
	var files []injectedFile
	seen := make(map[string]bool)

	addFile := func(path string) {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			return
		}
		rel, err := filepath.Rel(o.deps.ProjectRoot, path)
		if err != nil {
			rel = path
		}
		if seen[rel] {
			return
		}
		content, err := os.ReadFile(path)
		if err != nil || !utf8.Valid(content) {
			return
		}
		seen[rel] = true
		files = append(files, injectedFile{relPath: rel, content: string(content)})
	}

	if opts.IncludeProjectContext {
		addFile(o.sprintProjectContextPath())
	}

	var storyPaths, discoveryPaths, techSpecPaths []string
	if entries, err := os.ReadDir(o.implementationArtifactsDir()); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			nameLower := strings.ToLower(entry.Name())
			matched := false
			for _, key := range storyKeys {
				if strings.Contains(nameLower, strings.ToLower(key)) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
			full := filepath.Join(o.implementationArtifactsDir(), entry.Name())
			switch {
			case strings.Contains(nameLower, "discovery"):
				discoveryPaths = append(discoveryPaths, full)
			case strings.Contains(nameLower, "tech-spec"):
				techSpecPaths = append(techSpecPaths, full)
			default:
				storyPaths = append(storyPaths, full)
			}
		}
	}
	sortByBasenameLower(storyPaths)
	sortByBasenameLower(discoveryPaths)
	sortByBasenameLower(techSpecPaths)

	for _, p := range storyPaths {
		addFile(p)
	}
	if opts.IncludeDiscovery {
		for _, p := range discoveryPaths {
			addFile(p)
		}
	}
	if opts.IncludeTechSpec {
		for _, p := range techSpecPaths {
			addFile(p)
		}
	}
	for _, extra := range opts.AdditionalFiles {
		path := extra
		if !filepath.IsAbs(path) {
			path = filepath.Join(o.deps.ProjectRoot, extra)
		}
		addFile(path)
	}

	if len(files) == 0 {
		o.emit(ctx, sprintbus.EventInjectionEmpty, map[string]any{
			"command":    commandName,
			"story_keys": storyKeys,
			"message":    "No files matched for injection - check story keys and file paths",
		})
	}

	var b strings.Builder
	b.WriteString(`<file_injections rule="DO NOT read these files - content already provided">`)
	for _, f := range files {
		b.WriteByte('\n')
		b.WriteString(`  <file path="`)
		b.WriteString(strings.ReplaceAll(f.relPath, `"`, "&quot;"))
		b.WriteString(`">`)
		b.WriteByte('\n')
		b.WriteString(f.content)
		b.WriteByte('\n')
		b.WriteString(`  </file>`)
	}
	b.WriteByte('\n')
	b.WriteString(`</file_injections>`)

	return o.checkInjectionSize(ctx, commandName, b.String())
}

// checkInjectionSize enforces the warning/error byte thresholds from
// Settings. A blob over the error threshold is
// rejected outright; the enclosing phase must not proceed.
func (o *Orchestrator) checkInjectionSize(ctx context.Context, commandName, blob string) (string, error) {
	size := len(blob)
	settings := o.settings()
	errThreshold := settings.InjectionErrorKB * 1024
	warnThreshold := settings.InjectionWarningKB * 1024

	if size > errThreshold {
		return "", fmt.Errorf("injection size (%d bytes) exceeds maximum (%d bytes) for command %q", size, errThreshold, commandName)
	}
	if size > warnThreshold {
		o.emit(ctx, sprintbus.EventInjectionWarning, map[string]any{
			"command":         commandName,
			"size_bytes":      size,
			"threshold_bytes": warnThreshold,
			"message":         fmt.Sprintf("Injection size (%d bytes) exceeds warning threshold", size),
		})
	}
	return blob, nil
}

// captureGitStatus runs `git status` with a bounded timeout for injection
// into the commit phase.
func (o *Orchestrator) captureGitStatus(ctx context.Context) string {
	gitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(gitCtx, "git", "status")
	cmd.Dir = o.deps.ProjectRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Sprintf("error running git status: %v\n%s", err, out)
	}
	return string(out)
}
