package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"sprintrunner/internal/manifest"
	"sprintrunner/internal/sprintbus"
)

// runCycle runs one orchestration cycle end to end: select
// stories, conditionally run the create-story/review/tech-spec prefix for
// the first selected story's "backlog" status, then unconditionally run
// dev + code-review for every selected story, then commit whichever
// stories ended the cycle "done". Returns false once no stories remain.
func (o *Orchestrator) runCycle(ctx context.Context) (bool, error) {
	storyKeys, err := o.deps.Manifest.SelectStories()
	if err != nil {
		return false, fmt.Errorf("select stories: %w", err)
	}
	if len(storyKeys) == 0 {
		o.emit(ctx, sprintbus.EventBatchEnd, map[string]any{
			"batch_id":         o.currentBatchIDSnapshot(),
			"cycles_completed": o.cyclesCompletedSnapshot(),
			"status":           "all_done",
		})
		return false, nil
	}

	o.mu.Lock()
	o.currentStoryKeys = storyKeys
	cycleNumber := o.cyclesCompleted + 1
	o.mu.Unlock()

	ctx, cycleSpan := o.startCycleSpan(ctx, cycleNumber)
	defer cycleSpan.End()

	o.emit(ctx, sprintbus.EventCycleStart, map[string]any{
		"cycle_number": cycleNumber,
		"story_keys":   storyKeys,
	})

	for _, key := range storyKeys {
		if _, err := o.deps.Store.CreateStory(ctx, o.currentBatchIDSnapshot(), key, o.deps.Manifest.EpicID(key)); err != nil {
			o.log().Warn("register story %s: %v", key, err)
		}
	}

	currentStatus, err := o.deps.Manifest.Status(storyKeys[0])
	if err != nil {
		currentStatus = manifest.StatusBacklog
	}

	if currentStatus == manifest.StatusBacklog {
		if err := o.executeCreateStoryPhase(ctx, storyKeys); err != nil {
			cycleSpan.RecordError(err)
			return false, fmt.Errorf("create-story phase: %w", err)
		}
		o.executeStoryReviewPhase(ctx, storyKeys)

		o.mu.Lock()
		techSpecNeeded := o.techSpecNeeded
		o.mu.Unlock()
		if techSpecNeeded {
			if err := o.executeTechSpecPhase(ctx, storyKeys); err != nil {
				cycleSpan.RecordError(err)
				return false, fmt.Errorf("tech-spec phase: %w", err)
			}
			o.executeTechSpecReviewPhase(ctx, storyKeys)
		}
	}

	for _, key := range storyKeys {
		if o.shouldStop() {
			break
		}
		o.executeDevPhase(ctx, key)
	}

	var completed []string
	for _, key := range storyKeys {
		status, err := o.deps.Manifest.Status(key)
		if err == nil && status == manifest.StatusDone {
			completed = append(completed, key)
		}
	}
	if len(completed) > 0 {
		o.executeBatchCommit(ctx, completed)
	}

	o.mu.Lock()
	o.cyclesCompleted++
	cycles := o.cyclesCompleted
	o.mu.Unlock()

	o.emit(ctx, sprintbus.EventCycleEnd, map[string]any{
		"cycle_number":      cycles,
		"completed_stories": completed,
	})
	o.deps.Metrics.ObserveCycle()

	return true, nil
}

// executeCreateStoryPhase runs Step 2: sprint-create-story and
// sprint-create-story-discovery spawn concurrently, then the create-story
// stdout is parsed for per-story tech-spec decisions.
func (o *Orchestrator) executeCreateStoryPhase(ctx context.Context, storyKeys []string) (err error) {
	ctx, span := o.startPhaseSpan(ctx, "create-story", storyKeys)
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	epicID := o.deps.Manifest.EpicID(storyKeys[0])
	prompt := fmt.Sprintf("Story keys: %s\nEpic ID: %s", strings.Join(storyKeys, ","), epicID)

	createInjection, err := o.buildInjection(ctx, "sprint-create-story", storyKeys, injectionOptions{IncludeProjectContext: true})
	if err != nil {
		return err
	}
	discoveryInjection, err := o.buildInjection(ctx, "sprint-create-story-discovery", storyKeys, injectionOptions{IncludeProjectContext: true})
	if err != nil {
		return err
	}

	var createResult string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result, err := o.spawnSubagent(gctx, spawnRequest{
			Prompt:      prompt,
			CommandName: "sprint-create-story",
			TaskID:      storyKeys[0],
			Injection:   createInjection,
			StoryKey:    storyKeys[0],
		})
		if err != nil {
			return err
		}
		if result != nil {
			createResult = result.Stdout
		}
		return nil
	})
	g.Go(func() error {
		_, err := o.spawnSubagent(gctx, spawnRequest{
			Prompt:      prompt,
			CommandName: "sprint-create-story-discovery",
			TaskID:      storyKeys[0],
			Injection:   discoveryInjection,
			StoryKey:    storyKeys[0],
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	decisions := parseTechSpecDecisions(createResult, storyKeys)
	needed := false
	for _, d := range decisions {
		if d == "REQUIRED" {
			needed = true
		}
	}

	o.mu.Lock()
	o.techSpecDecisions = decisions
	o.techSpecNeeded = needed
	o.mu.Unlock()

	return nil
}

// executeStoryReviewPhase runs Step 2b: a blocking review
// call, plus a fire-and-forget background "chain" on the cheap model when
// the review flags a critical issue.
func (o *Orchestrator) executeStoryReviewPhase(ctx context.Context, storyKeys []string) {
	ctx, span := o.startPhaseSpan(ctx, "story-review", storyKeys)
	defer span.End()

	epicID := o.deps.Manifest.EpicID(storyKeys[0])
	injection, err := o.buildInjection(ctx, "sprint-story-review", storyKeys, injectionOptions{IncludeProjectContext: true, IncludeDiscovery: true})
	if err != nil {
		o.log().Warn("story review injection: %v", err)
		return
	}
	prompt := fmt.Sprintf("Story keys: %s\nEpic ID: %s\nReview attempt: 1", strings.Join(storyKeys, ","), epicID)

	result, err := o.spawnSubagent(ctx, spawnRequest{
		Prompt:      prompt,
		CommandName: "sprint-story-review",
		TaskID:      storyKeys[0],
		Injection:   injection,
		StoryKey:    storyKeys[0],
	})
	if err != nil || result == nil {
		return
	}

	if hasCriticalIssues(result.Stdout) {
		chainPrompt := fmt.Sprintf("Story keys: %s\nEpic ID: %s\nReview attempt: 2\nBackground chain: true", strings.Join(storyKeys, ","), epicID)
		o.spawnBackground(ctx, func(bgCtx context.Context) {
			o.runBackgroundChain(bgCtx, "sprint-story-review-chain", storyKeys, chainPrompt, injection)
		})
	}
}

// executeTechSpecPhase runs Step 3: a single blocking call to
// sprint-create-tech-spec.
func (o *Orchestrator) executeTechSpecPhase(ctx context.Context, storyKeys []string) (err error) {
	ctx, span := o.startPhaseSpan(ctx, "tech-spec", storyKeys)
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	epicID := o.deps.Manifest.EpicID(storyKeys[0])
	injection, err := o.buildInjection(ctx, "sprint-create-tech-spec", storyKeys, injectionOptions{IncludeProjectContext: true, IncludeDiscovery: true})
	if err != nil {
		return err
	}
	prompt := fmt.Sprintf("Story keys: %s\nEpic ID: %s", strings.Join(storyKeys, ","), epicID)

	_, err = o.spawnSubagent(ctx, spawnRequest{
		Prompt:      prompt,
		CommandName: "sprint-create-tech-spec",
		TaskID:      storyKeys[0],
		Injection:   injection,
		StoryKey:    storyKeys[0],
	})
	return err
}

// executeTechSpecReviewPhase runs Step 3b: mirrors the story
// review phase's blocking-call-plus-background-chain shape, with the
// tech-spec file additionally injected.
func (o *Orchestrator) executeTechSpecReviewPhase(ctx context.Context, storyKeys []string) {
	ctx, span := o.startPhaseSpan(ctx, "tech-spec-review", storyKeys)
	defer span.End()

	epicID := o.deps.Manifest.EpicID(storyKeys[0])
	injection, err := o.buildInjection(ctx, "sprint-tech-spec-review", storyKeys, injectionOptions{IncludeProjectContext: true, IncludeDiscovery: true, IncludeTechSpec: true})
	if err != nil {
		o.log().Warn("tech-spec review injection: %v", err)
		return
	}
	prompt := fmt.Sprintf("Story keys: %s\nEpic ID: %s\nReview attempt: 1", strings.Join(storyKeys, ","), epicID)

	result, err := o.spawnSubagent(ctx, spawnRequest{
		Prompt:      prompt,
		CommandName: "sprint-tech-spec-review",
		TaskID:      storyKeys[0],
		Injection:   injection,
		StoryKey:    storyKeys[0],
	})
	if err != nil || result == nil {
		return
	}

	if hasCriticalIssues(result.Stdout) {
		chainPrompt := fmt.Sprintf("Story keys: %s\nEpic ID: %s\nReview attempt: 2\nBackground chain: true", strings.Join(storyKeys, ","), epicID)
		o.spawnBackground(ctx, func(bgCtx context.Context) {
			o.runBackgroundChain(bgCtx, "sprint-tech-spec-review-chain", storyKeys, chainPrompt, injection)
		})
	}
}

// runBackgroundChain spawns a fire-and-forget review chain on the cheap
// model, logging its outcome as background:complete/error but never
// feeding its stdout back into any decision (decided Open Question: review
// chain output is advisory-only).
func (o *Orchestrator) runBackgroundChain(ctx context.Context, commandName string, storyKeys []string, prompt, injection string) {
	_, err := o.spawnSubagent(ctx, spawnRequest{
		Prompt:      prompt,
		CommandName: commandName,
		TaskID:      storyKeys[0],
		Model:       "haiku",
		Injection:   injection,
		StoryKey:    storyKeys[0],
	})
	if err != nil {
		o.emit(ctx, sprintbus.EventBackgroundError, map[string]any{
			"command": commandName, "story_keys": storyKeys, "error": err.Error(),
		})
		return
	}
	o.emit(ctx, sprintbus.EventBackgroundComplete, map[string]any{
		"command": commandName, "story_keys": storyKeys,
	})
}

// executeDevPhase runs Step 4 for a single story: flip the
// manifest to in-progress, run sprint-dev-story once, then the
// code-review retry/escalation loop.
func (o *Orchestrator) executeDevPhase(ctx context.Context, storyKey string) {
	ctx, span := o.startPhaseSpan(ctx, "dev", []string{storyKey})
	defer span.End()

	if err := o.updateSprintStatus(ctx, storyKey, "in-progress"); err != nil {
		o.log().Warn("update status to in-progress for %s: %v", storyKey, err)
	}
	epicID := o.deps.Manifest.EpicID(storyKey)

	injection, err := o.buildInjection(ctx, "sprint-dev-story", []string{storyKey}, injectionOptions{IncludeProjectContext: true, IncludeDiscovery: true, IncludeTechSpec: true})
	if err != nil {
		o.log().Warn("dev phase injection: %v", err)
		return
	}
	prompt := fmt.Sprintf("Story key: %s\nEpic ID: %s", storyKey, epicID)

	if _, err := o.spawnSubagent(ctx, spawnRequest{
		Prompt:      prompt,
		CommandName: "sprint-dev-story",
		TaskID:      storyKey,
		Injection:   injection,
		StoryKey:    storyKey,
	}); err != nil {
		o.log().Warn("dev-story for %s: %v", storyKey, err)
	}

	o.executeCodeReviewLoop(ctx, storyKey)
}

// executeCodeReviewLoop runs sprint-code-review until a clean pass, a
// convergence-to-blocked, or the "escape hatch" that, from the third
// attempt on, accepts any non-critical severity.
func (o *Orchestrator) executeCodeReviewLoop(ctx context.Context, storyKey string) string {
	ctx, span := o.startPhaseSpan(ctx, "code-review", []string{storyKey})
	defer span.End()

	epicID := o.deps.Manifest.EpicID(storyKey)
	settings := o.settings()
	var history []severity

	for attempt := 1; attempt <= settings.MaxCodeReviewAttempts; attempt++ {
		model := ""
		if attempt >= settings.HaikuAfterReview {
			model = "haiku"
		}

		injection, err := o.buildInjection(ctx, "sprint-code-review", []string{storyKey}, injectionOptions{IncludeProjectContext: true, IncludeDiscovery: true, IncludeTechSpec: true})
		if err != nil {
			o.log().Warn("code review injection for %s: %v", storyKey, err)
			o.markBlocked(ctx, storyKey)
			return "blocked"
		}
		prompt := fmt.Sprintf("Story key: %s\nEpic ID: %s\nReview attempt: %d", storyKey, epicID, attempt)

		result, err := o.spawnSubagent(ctx, spawnRequest{
			Prompt:      prompt,
			CommandName: fmt.Sprintf("sprint-code-review-%d", attempt),
			TaskID:      storyKey,
			Model:       model,
			Injection:   injection,
			StoryKey:    storyKey,
		})
		if err != nil || result == nil {
			o.markBlocked(ctx, storyKey)
			return "blocked"
		}

		sev := parseHighestSeverity(result.Stdout)
		history = append(history, sev)

		o.mu.Lock()
		o.errorHistory[storyKey] = append(o.errorHistory[storyKey], string(sev))
		o.mu.Unlock()

		if sev == severityZero {
			o.markDone(ctx, storyKey)
			return "done"
		}

		if attempt >= 3 {
			if sameLastThree(history) {
				o.markBlocked(ctx, storyKey)
				return "blocked"
			}
			if sev != severityCritical {
				o.markDone(ctx, storyKey)
				return "done"
			}
		}
	}

	o.markBlocked(ctx, storyKey)
	return "blocked"
}

func (o *Orchestrator) markDone(ctx context.Context, storyKey string) {
	if err := o.updateSprintStatus(ctx, storyKey, manifest.StatusDone); err != nil {
		o.log().Warn("mark %s done: %v", storyKey, err)
	}
}

func (o *Orchestrator) markBlocked(ctx context.Context, storyKey string) {
	if err := o.updateSprintStatus(ctx, storyKey, manifest.StatusBlocked); err != nil {
		o.log().Warn("mark %s blocked: %v", storyKey, err)
	}
}

// executeBatchCommit runs Step 4c: a single sprint-commit
// call over every story that finished this cycle "done", with the
// story-files injection extended by a captured git status block, followed
// by archival of the completed stories' artifacts.
func (o *Orchestrator) executeBatchCommit(ctx context.Context, completedStories []string) {
	ctx, span := o.startPhaseSpan(ctx, "batch-commit", completedStories)
	defer span.End()

	epicID := o.deps.Manifest.EpicID(completedStories[0])

	injection, err := o.buildInjection(ctx, "sprint-commit", completedStories, injectionOptions{})
	if err != nil {
		o.log().Warn("batch commit injection: %v", err)
		return
	}

	gitStatus := o.captureGitStatus(ctx)
	gitStatusXML := fmt.Sprintf("<git_status>\n  <instruction>This is the result of `git status` executed immediately before spawning this agent. Use this to understand the current state of the working directory and what files need to be committed.</instruction>\n  <output>\n%s\n  </output>\n</git_status>", gitStatus)

	fullInjection, err := o.checkInjectionSize(ctx, "sprint-commit", injection+"\n"+gitStatusXML)
	if err != nil {
		o.log().Error("batch commit injection size: %v", err)
		return
	}

	prompt := fmt.Sprintf("Story keys: %s\nEpic ID: %s", strings.Join(completedStories, ","), epicID)
	if _, err := o.spawnSubagent(ctx, spawnRequest{
		Prompt:      prompt,
		CommandName: "sprint-commit",
		TaskID:      completedStories[0],
		Injection:   fullInjection,
		StoryKey:    completedStories[0],
	}); err != nil {
		o.log().Warn("batch commit: %v", err)
		return
	}

	o.cleanupBatchFiles(ctx, completedStories)
}
