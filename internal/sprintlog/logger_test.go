package sprintlog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
)

func TestLoggerRespectsEnabledLevels(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger := NewComponentLogger(Config{
		ComponentName: "TEST",
		Color:         color.FgRed,
		EnabledLevels: []Level{LevelInfo, LevelError},
		Output:        &buf,
	})

	logger.Debug("hidden %s", "debug")
	logger.Info("visible %s", "info")
	logger.Warn("always %s", "warn")
	logger.Error("always %s", "error")

	out := buf.String()
	require.NotContains(t, out, "hidden debug")
	require.Contains(t, out, "visible info")
	require.Contains(t, out, "always warn")
	require.Contains(t, out, "always error")
}

func TestFactoryReturnsSingletonPerComponent(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	factory := NewFactory(&buf)

	first := factory.GetLogger("Orchestrator")
	second := factory.GetLogger("Orchestrator")
	require.Same(t, first, second)

	third := factory.GetLogger("EventBus")
	require.NotSame(t, first, third)
}

func TestLoggerTagsComponentName(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger := NewComponentLogger(Config{
		ComponentName: "StateStore",
		EnabledLevels: []Level{LevelInfo},
		Output:        &buf,
	})
	logger.Info("hello")
	require.True(t, strings.Contains(buf.String(), "StateStore"))
}
