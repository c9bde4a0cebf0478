// Package sprintlog provides the per-component colored logger used across
// the orchestrator process.
package sprintlog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/fatih/color"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Config configures a single component logger.
type Config struct {
	ComponentName string
	Color         color.Attribute
	EnabledLevels []Level
	Output        io.Writer
}

// Logger writes leveled, colored, component-tagged lines.
//
// Warn and Error always emit regardless of the configured enabled-level set;
// Debug and Info are gated by EnabledLevels.
type Logger struct {
	name    string
	paint   func(format string, a ...interface{}) string
	enabled map[Level]bool
	mu      sync.Mutex
	std     *log.Logger
}

// NewComponentLogger builds a Logger for one named subsystem.
func NewComponentLogger(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	enabled := make(map[Level]bool, len(cfg.EnabledLevels))
	for _, lvl := range cfg.EnabledLevels {
		enabled[lvl] = true
	}
	c := color.New(cfg.Color)
	return &Logger{
		name:    cfg.ComponentName,
		paint:   c.SprintfFunc(),
		enabled: enabled,
		std:     log.New(out, "", log.LstdFlags),
	}
}

func (l *Logger) emit(level Level, format string, args ...interface{}) {
	if l == nil {
		return
	}
	if level != LevelWarn && level != LevelError && !l.enabled[level] {
		return
	}
	msg := fmt.Sprintf(format, args...)
	line := l.paint("[%s] %-5s %s", l.name, level, msg)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.std.Print(line)
}

func (l *Logger) Debug(format string, args ...interface{}) { l.emit(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.emit(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.emit(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.emit(LevelError, format, args...) }

// Factory hands out named singleton loggers so subsystems share one instance.
type Factory struct {
	mu      sync.Mutex
	loggers map[string]*Logger
	output  io.Writer
}

// NewFactory creates a Factory writing every component's output to w
// (os.Stderr if nil).
func NewFactory(w io.Writer) *Factory {
	return &Factory{loggers: make(map[string]*Logger), output: w}
}

// defaultPalette assigns a stable color per well-known component name so the
// same subsystem always prints in the same color across a process lifetime.
var defaultPalette = map[string]color.Attribute{
	"Orchestrator":  color.FgMagenta,
	"SubagentRunner": color.FgCyan,
	"EventBus":      color.FgYellow,
	"StateStore":    color.FgGreen,
	"HTTP":          color.FgBlue,
}

// GetLogger returns (creating if needed) the named component logger.
func (f *Factory) GetLogger(component string) *Logger {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.loggers[component]; ok {
		return existing
	}
	col, ok := defaultPalette[component]
	if !ok {
		col = color.FgWhite
	}
	logger := NewComponentLogger(Config{
		ComponentName: component,
		Color:         col,
		EnabledLevels: []Level{LevelDebug, LevelInfo, LevelWarn, LevelError},
		Output:        f.output,
	})
	f.loggers[component] = logger
	return logger
}
