package sprinthttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"sprintrunner/internal/manifest"
	"sprintrunner/internal/orchestrator"
	"sprintrunner/internal/sprintbus"
	"sprintrunner/internal/sprintsettings"
	"sprintrunner/internal/sprintstore"
	"sprintrunner/internal/subagent"
)

type nopRunner struct{}

func (nopRunner) Execute(_ context.Context, _ subagent.Request, _ subagent.RecordHandler) (*subagent.Result, error) {
	return &subagent.Result{}, nil
}

func testDeps(t *testing.T) RouterDeps {
	t.Helper()

	store, err := sprintstore.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := sprintbus.New(nil)
	hub := sprintbus.NewHub(bus, store, nil)

	settingsStore := sprintsettings.NewStore(filepath.Join(t.TempDir(), "settings.json"), nil)

	manifestPath := filepath.Join(t.TempDir(), "sprint-status.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte("development_status:\n  1-1: backlog\n"), 0o644))
	m := manifest.New(manifestPath)

	orch, err := orchestrator.New(orchestrator.Dependencies{
		Store:    store,
		Bus:      bus,
		Manifest: m,
		Runner:   nopRunner{},
	})
	require.NoError(t, err)

	return RouterDeps{
		Orchestrator: orch,
		Store:        store,
		Bus:          bus,
		Hub:          hub,
		Manifest:     m,
		Settings:     settingsStore,
		ArtifactsDir: t.TempDir(),
	}
}

func TestOrchestratorStatusReportsIdleWhenNothingIsRunning(t *testing.T) {
	router := NewRouter(testDeps(t), RouterConfig{Environment: "development"})

	req := httptest.NewRequest(http.MethodGet, "/api/orchestrator/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"idle"`)
}

func TestOrchestratorStopWhenIdleWithNoStaleBatchReturnsIdle(t *testing.T) {
	router := NewRouter(testDeps(t), RouterConfig{Environment: "development"})

	req := httptest.NewRequest(http.MethodPost, "/api/orchestrator/stop", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"idle"`)
}

func TestSettingsRoundTrip(t *testing.T) {
	router := NewRouter(testDeps(t), RouterConfig{Environment: "development"})

	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"default_max_cycles"`)
}

func TestPreflightRequestReturnsOK(t *testing.T) {
	router := NewRouter(testDeps(t), RouterConfig{Environment: "development"})

	req := httptest.NewRequest(http.MethodOptions, "/api/settings", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestStoryDescriptionsReturnsEmptyMapWhenArtifactsDirMissing(t *testing.T) {
	deps := testDeps(t)
	deps.ArtifactsDir = filepath.Join(deps.ArtifactsDir, "does-not-exist")
	router := NewRouter(deps, RouterConfig{Environment: "development"})

	req := httptest.NewRequest(http.MethodGet, "/story-descriptions.json", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, "{}", w.Body.String())
}
