package subagent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProcessStderrTailCapturesOutput(t *testing.T) {
	proc := NewProcess(ProcessConfig{
		Command: "bash",
		Args:    []string{"-c", "echo err 1>&2; exit 2"},
	})
	require.NoError(t, proc.Start(context.Background()))
	require.Error(t, proc.Wait())
	require.Eventually(t, func() bool {
		return strings.Contains(proc.StderrTail(), "err")
	}, time.Second, 10*time.Millisecond)
}

func TestProcessWritesStdinAndReadsStdout(t *testing.T) {
	proc := NewProcess(ProcessConfig{
		Command: "bash",
		Args:    []string{"-c", "cat"},
	})
	require.NoError(t, proc.Start(context.Background()))
	require.NoError(t, proc.Write([]byte("hello\n")))
	require.NoError(t, proc.CloseStdin())
	require.NoError(t, proc.Wait())
}

func TestProcessStopEscalatesToKillOnUnresponsiveChild(t *testing.T) {
	proc := NewProcess(ProcessConfig{
		Command: "bash",
		Args:    []string{"-c", "trap '' TERM; sleep 30"},
	})
	require.NoError(t, proc.Start(context.Background()))
	require.NoError(t, proc.Stop())
}
