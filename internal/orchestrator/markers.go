package orchestrator

import (
	"regexp"
	"strings"
)

// severity is the parsed outcome of one code-review attempt.
type severity string

const (
	severityZero     severity = "ZERO"
	severityCritical severity = "CRITICAL"
	severityHigh     severity = "HIGH"
	severityMedium   severity = "MEDIUM"
	severityLow      severity = "LOW"
	severityUnknown  severity = "UNKNOWN"
)

// hasCriticalIssues reports whether stdout contains either of the two
// marker formats a review command may use: code-review and story/tech-spec
// review use different conventions.
func hasCriticalIssues(stdout string) bool {
	return strings.Contains(stdout, "HIGHEST SEVERITY: CRITICAL") ||
		strings.Contains(stdout, "[CRITICAL-ISSUES-FOUND: YES]")
}

// parseHighestSeverity extracts the code-review loop's severity marker.
func parseHighestSeverity(stdout string) severity {
	switch {
	case strings.Contains(stdout, "ZERO ISSUES"):
		return severityZero
	case strings.Contains(stdout, "HIGHEST SEVERITY: CRITICAL"):
		return severityCritical
	case strings.Contains(stdout, "HIGHEST SEVERITY: HIGH"):
		return severityHigh
	case strings.Contains(stdout, "HIGHEST SEVERITY: MEDIUM"):
		return severityMedium
	case strings.Contains(stdout, "HIGHEST SEVERITY: LOW"):
		return severityLow
	default:
		return severityUnknown
	}
}

// sameLastThree reports whether the most recent three entries of history
// are identical, the escalation signal for marking a story blocked.
func sameLastThree(history []severity) bool {
	n := len(history)
	if n < 3 {
		return false
	}
	return history[n-1] == history[n-2] && history[n-2] == history[n-3]
}

var techSpecDecisionPattern = regexp.MustCompile(`(?i)\[TECH-SPEC-DECISION:\s*(REQUIRED|SKIP)\]`)

// parseTechSpecDecisions pairs the i-th decision marker found in stdout with
// the i-th story key, defaulting unpaired stories to REQUIRED.
func parseTechSpecDecisions(stdout string, storyKeys []string) map[string]string {
	matches := techSpecDecisionPattern.FindAllStringSubmatch(stdout, -1)
	decisions := make(map[string]string, len(storyKeys))
	for i, key := range storyKeys {
		if i < len(matches) {
			decisions[key] = strings.ToUpper(matches[i][1])
		} else {
			decisions[key] = "REQUIRED"
		}
	}
	return decisions
}
