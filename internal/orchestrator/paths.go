package orchestrator

import "path/filepath"

// ProjectContextPath returns the live project-context document's path under
// root. Exported so the HTTP surface can compare it against a batch's frozen
// snapshot without holding an Orchestrator.
func ProjectContextPath(root string) string {
	return filepath.Join(root, "_bmad-output", "planning-artifacts", "project-context.md")
}

// SprintProjectContextPath returns the per-batch frozen snapshot's path
// under root.
func SprintProjectContextPath(root string) string {
	return filepath.Join(root, "_bmad-output", "planning-artifacts", "sprint-project-context.md")
}

func (o *Orchestrator) projectContextPath() string {
	return ProjectContextPath(o.deps.ProjectRoot)
}

func (o *Orchestrator) sprintProjectContextPath() string {
	return SprintProjectContextPath(o.deps.ProjectRoot)
}

// ImplementationArtifactsDir returns the directory holding per-story
// implementation artifacts (story, tech-spec, and review files), for
// callers outside the package that need to scan it directly (the HTTP
// story-descriptions endpoint).
func (o *Orchestrator) ImplementationArtifactsDir() string {
	return o.implementationArtifactsDir()
}

func (o *Orchestrator) implementationArtifactsDir() string {
	return filepath.Join(o.deps.ProjectRoot, "_bmad-output", "implementation-artifacts")
}

func (o *Orchestrator) archivedArtifactsDir() string {
	return filepath.Join(o.deps.ProjectRoot, "_bmad-output", "archived-artifacts")
}
