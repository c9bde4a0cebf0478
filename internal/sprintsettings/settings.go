// Package sprintsettings implements the process-wide typed settings
// singleton: lazily loaded, persisted as indented JSON, with a
// closed whitelist of updatable fields.
package sprintsettings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"sprintrunner/internal/sprintlog"
)

// Settings holds every configurable sprint-runner tunable.
type Settings struct {
	ProjectContextMaxAgeHours int `json:"project_context_max_age_hours"`
	InjectionWarningKB        int `json:"injection_warning_kb"`
	InjectionErrorKB          int `json:"injection_error_kb"`
	DefaultMaxCycles          int `json:"default_max_cycles"`
	MaxCodeReviewAttempts     int `json:"max_code_review_attempts"`
	HaikuAfterReview          int `json:"haiku_after_review"`
	ServerPort                int `json:"server_port"`
	WebsocketHeartbeatSeconds int `json:"websocket_heartbeat_seconds"`
	DefaultBatchListLimit     int `json:"default_batch_list_limit"`
}

// Defaults returns the factory-default Settings.
func Defaults() Settings {
	return Settings{
		ProjectContextMaxAgeHours: 24,
		InjectionWarningKB:        100,
		InjectionErrorKB:          150,
		DefaultMaxCycles:          2,
		MaxCodeReviewAttempts:     10,
		HaikuAfterReview:          2,
		ServerPort:                8080,
		WebsocketHeartbeatSeconds: 30,
		DefaultBatchListLimit:     20,
	}
}

// fieldIndex reflects the known, updatable integer fields by JSON key. Kept
// as an explicit table (not reflection) so the whitelist is easy to audit.
var fieldIndex = map[string]func(*Settings) *int{
	"project_context_max_age_hours": func(s *Settings) *int { return &s.ProjectContextMaxAgeHours },
	"injection_warning_kb":          func(s *Settings) *int { return &s.InjectionWarningKB },
	"injection_error_kb":            func(s *Settings) *int { return &s.InjectionErrorKB },
	"default_max_cycles":            func(s *Settings) *int { return &s.DefaultMaxCycles },
	"max_code_review_attempts":      func(s *Settings) *int { return &s.MaxCodeReviewAttempts },
	"haiku_after_review":            func(s *Settings) *int { return &s.HaikuAfterReview },
	"server_port":                   func(s *Settings) *int { return &s.ServerPort },
	"websocket_heartbeat_seconds":   func(s *Settings) *int { return &s.WebsocketHeartbeatSeconds },
	"default_batch_list_limit":      func(s *Settings) *int { return &s.DefaultBatchListLimit },
}

// FromMap builds Settings from a raw key/value map, ignoring unknown keys
// (mirrors the original Settings.from_dict: tolerant on load).
func FromMap(data map[string]any) Settings {
	s := Defaults()
	for key, fn := range fieldIndex {
		raw, ok := data[key]
		if !ok {
			continue
		}
		if n, ok := asInt(raw); ok {
			*fn(&s) = n
		}
	}
	return s
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

// ValidationError reports a rejected update field or value.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("setting %q: %s", e.Field, e.Msg)
}

func validate(key string, value int) error {
	if value < 0 {
		return &ValidationError{Field: key, Msg: fmt.Sprintf("must be non-negative, got %d", value)}
	}
	switch key {
	case "server_port":
		if value < 1 || value > 65535 {
			return &ValidationError{Field: key, Msg: fmt.Sprintf("must be 1-65535, got %d", value)}
		}
	case "injection_warning_kb":
		if value < 1 {
			return &ValidationError{Field: key, Msg: "must be at least 1"}
		}
	case "injection_error_kb":
		if value < 1 {
			return &ValidationError{Field: key, Msg: "must be at least 1"}
		}
	}
	return nil
}

// Store is the lazily-loaded, JSON-persisted Settings singleton.
// Unlike callers of Get, the Store itself does cache the loaded value
// in-process; Get is cheap and safe to call on every access.
type Store struct {
	path   string
	logger *sprintlog.Logger

	mu      sync.Mutex
	loaded  bool
	current Settings
}

// NewStore returns a Store persisting to path.
func NewStore(path string, logger *sprintlog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Get returns the current settings, loading from disk on first access.
// Parse or IO failures fall back to Defaults() with a logged warning.
func (s *Store) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.current
	}
	s.current = s.load()
	s.loaded = true
	return s.current
}

func (s *Store) load() Settings {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) && s.logger != nil {
			s.logger.Warn("could not read settings file %s: %v. Using defaults.", s.path, err)
		}
		return Defaults()
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Defaults()
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		if s.logger != nil {
			s.logger.Warn("corrupt settings file %s: %v. Using defaults. Consider removing or fixing it.", s.path, err)
		}
		return Defaults()
	}
	return FromMap(raw)
}

func (s *Store) save(settings Settings) error {
	encoded, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure settings directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, append(encoded, '\n'), 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Update applies a partial set of field updates, validating each against
// type/range rules. Any unknown key fails the whole update with no side
// effects.
func (s *Store) Update(kvs map[string]int) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.current = s.load()
		s.loaded = true
	}

	for key := range kvs {
		if _, ok := fieldIndex[key]; !ok {
			return s.current, fmt.Errorf("unknown setting: %s", key)
		}
	}
	for key, value := range kvs {
		if err := validate(key, value); err != nil {
			return s.current, err
		}
	}

	next := s.current
	for key, value := range kvs {
		*fieldIndex[key](&next) = value
	}
	if next.InjectionWarningKB >= next.InjectionErrorKB {
		return s.current, &ValidationError{Field: "injection_warning_kb", Msg: fmt.Sprintf("must be less than injection_error_kb (%d), got %d", next.InjectionErrorKB, next.InjectionWarningKB)}
	}
	if err := s.save(next); err != nil {
		return s.current, err
	}
	s.current = next
	return s.current, nil
}

// Reset restores and persists factory defaults.
func (s *Store) Reset() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defaults := Defaults()
	if err := s.save(defaults); err != nil {
		return s.current, err
	}
	s.current = defaults
	s.loaded = true
	return s.current, nil
}
