package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"sprintrunner/internal/manifest"
	"sprintrunner/internal/sprintbus"
	"sprintrunner/internal/sprintmetrics"
	"sprintrunner/internal/sprintstore"
	"sprintrunner/internal/subagent"

	"github.com/prometheus/client_golang/prometheus"
)

// stubRunner is a Runner that never spawns a real child process. Responses
// are consumed round-robin from stdouts; once exhausted the last entry
// repeats.
type stubRunner struct {
	mu      sync.Mutex
	stdouts []string
	calls   int
	err     error
}

func (s *stubRunner) Execute(ctx context.Context, req subagent.Request, onRecord subagent.RecordHandler) (*subagent.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	idx := s.calls
	if idx >= len(s.stdouts) {
		idx = len(s.stdouts) - 1
	}
	s.calls++
	return &subagent.Result{Stdout: s.stdouts[idx], ExitCode: 0}, nil
}

func writeManifest(t *testing.T, body string) (string, *manifest.Manifest) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sprint-status.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return dir, manifest.New(path)
}

func newTestOrchestrator(t *testing.T, projectRoot string, m *manifest.Manifest, runner Runner) (*Orchestrator, int64) {
	t.Helper()
	store, err := sprintstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := sprintbus.New(nil)
	metrics := sprintmetrics.MustNewMetrics(prometheus.NewRegistry())

	o, err := New(Dependencies{
		Store:       store,
		Bus:         bus,
		Manifest:    m,
		Runner:      runner,
		Metrics:     metrics,
		ProjectRoot: projectRoot,
	})
	require.NoError(t, err)

	batch, err := store.CreateBatch(context.Background(), 1000, 5)
	require.NoError(t, err)
	o.currentBatchID = batch.ID

	story, err := store.CreateStory(context.Background(), batch.ID, "1-1", "1")
	require.NoError(t, err)
	return o, story.ID
}

func TestCodeReviewLoopZeroIssuesMarksDone(t *testing.T) {
	root, m := writeManifest(t, "development_status:\n  1-1: review\n")
	runner := &stubRunner{stdouts: []string{"Some notes.\nZERO ISSUES\n"}}
	o, _ := newTestOrchestrator(t, root, m, runner)

	outcome := o.executeCodeReviewLoop(context.Background(), "1-1")
	require.Equal(t, "done", outcome)

	status, err := m.Status("1-1")
	require.NoError(t, err)
	require.Equal(t, "done", status)
}

func TestCodeReviewLoopEscapeHatchAcceptsNonCriticalAtAttemptThree(t *testing.T) {
	root, m := writeManifest(t, "development_status:\n  1-1: review\n")
	runner := &stubRunner{stdouts: []string{
		"HIGHEST SEVERITY: HIGH\n",
		"HIGHEST SEVERITY: HIGH\n",
		"HIGHEST SEVERITY: MEDIUM\n",
	}}
	o, _ := newTestOrchestrator(t, root, m, runner)

	outcome := o.executeCodeReviewLoop(context.Background(), "1-1")
	require.Equal(t, "done", outcome)
	require.Equal(t, 3, runner.calls)
}

func TestCodeReviewLoopBlocksOnThreeIdenticalCriticalAttempts(t *testing.T) {
	root, m := writeManifest(t, "development_status:\n  1-1: review\n")
	runner := &stubRunner{stdouts: []string{
		"HIGHEST SEVERITY: CRITICAL\n",
		"HIGHEST SEVERITY: CRITICAL\n",
		"HIGHEST SEVERITY: CRITICAL\n",
	}}
	o, _ := newTestOrchestrator(t, root, m, runner)

	outcome := o.executeCodeReviewLoop(context.Background(), "1-1")
	require.Equal(t, "blocked", outcome)

	status, err := m.Status("1-1")
	require.NoError(t, err)
	require.Equal(t, "blocked", status)
}

func TestCodeReviewLoopContinuesOnCriticalWithVaryingHistory(t *testing.T) {
	root, m := writeManifest(t, "development_status:\n  1-1: review\n")
	runner := &stubRunner{stdouts: []string{
		"HIGHEST SEVERITY: CRITICAL\n",
		"HIGHEST SEVERITY: HIGH\n",
		"HIGHEST SEVERITY: CRITICAL\n",
		"ZERO ISSUES\n",
	}}
	o, _ := newTestOrchestrator(t, root, m, runner)

	outcome := o.executeCodeReviewLoop(context.Background(), "1-1")
	require.Equal(t, "done", outcome)
	require.Equal(t, 4, runner.calls)
}

func TestParseTechSpecDecisionsPairsInOrderAndDefaultsUnpaired(t *testing.T) {
	stdout := "[TECH-SPEC-DECISION: SKIP]\nsome text\n[tech-spec-decision: required]\n"
	decisions := parseTechSpecDecisions(stdout, []string{"1-1", "1-2", "1-3"})
	require.Equal(t, "SKIP", decisions["1-1"])
	require.Equal(t, "REQUIRED", decisions["1-2"])
	require.Equal(t, "REQUIRED", decisions["1-3"])
}

func TestHasCriticalIssuesRecognizesBothMarkerFormats(t *testing.T) {
	require.True(t, hasCriticalIssues("prefix HIGHEST SEVERITY: CRITICAL suffix"))
	require.True(t, hasCriticalIssues("prefix [CRITICAL-ISSUES-FOUND: YES] suffix"))
	require.False(t, hasCriticalIssues("HIGHEST SEVERITY: LOW"))
}

func TestSameLastThreeRequiresAtLeastThreeEntries(t *testing.T) {
	require.False(t, sameLastThree([]severity{severityCritical, severityCritical}))
	require.True(t, sameLastThree([]severity{severityHigh, severityCritical, severityCritical, severityCritical}))
	require.False(t, sameLastThree([]severity{severityCritical, severityHigh, severityCritical}))
}

func TestStopIsIdempotent(t *testing.T) {
	root, m := writeManifest(t, "development_status:\n  1-1: backlog\n")
	runner := &stubRunner{stdouts: []string{"ok"}}
	o, _ := newTestOrchestrator(t, root, m, runner)

	ctx := context.Background()
	require.NotPanics(t, func() {
		o.Stop(ctx)
		o.Stop(ctx)
	})
	require.True(t, o.shouldStop())
}

func TestBuildInjectionEmptyBundleStillReturnsEnvelope(t *testing.T) {
	root, m := writeManifest(t, "development_status:\n  1-1: backlog\n")
	runner := &stubRunner{stdouts: []string{"ok"}}
	o, _ := newTestOrchestrator(t, root, m, runner)

	blob, err := o.buildInjection(context.Background(), "sprint-commit", []string{"1-1"}, injectionOptions{})
	require.NoError(t, err)
	require.Contains(t, blob, "<file_injections")
	require.Contains(t, blob, `rule="DO NOT read these files - content already provided"`)
}

func TestCheckInjectionSizeRejectsOverErrorThreshold(t *testing.T) {
	root, m := writeManifest(t, "development_status:\n  1-1: backlog\n")
	runner := &stubRunner{stdouts: []string{"ok"}}
	o, _ := newTestOrchestrator(t, root, m, runner)

	huge := make([]byte, 200*1024)
	for i := range huge {
		huge[i] = 'a'
	}
	_, err := o.checkInjectionSize(context.Background(), "sprint-commit", string(huge))
	require.Error(t, err)
}
