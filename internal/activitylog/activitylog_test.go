package activitylog

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

const fixedNow = 1_700_000_000

func TestParseAcceptsTimestampWithinWindow(t *testing.T) {
	line := fmt.Sprintf("%d,1-sr,1-1,sprint-dev-story,1-1,completed,\"all good\"", fixedNow+1800)
	records := Parse(line, fixedNow)
	require.Len(t, records, 1)
	require.Equal(t, "1-sr", records[0].EpicID)
	require.Equal(t, "completed", records[0].Status)
}

func TestParseRejectsTimestampTooFarInThePast(t *testing.T) {
	line := fmt.Sprintf("%d,1-sr,1-1,sprint-dev-story,1-1,completed,done", fixedNow-32_000_000)
	require.Empty(t, Parse(line, fixedNow))
}

func TestParseRejectsTimestampTooFarInTheFuture(t *testing.T) {
	line := fmt.Sprintf("%d,1-sr,1-1,sprint-dev-story,1-1,completed,done", fixedNow+7_200)
	require.Empty(t, Parse(line, fixedNow))
}

func TestParseSkipsMalformedLinesWithoutFailingTheRest(t *testing.T) {
	good := fmt.Sprintf("%d,1-sr,1-1,sprint-dev-story,1-1,completed,done", fixedNow)
	raw := "not,enough,fields\n" + good + "\ngarbage,line\n"
	records := Parse(raw, fixedNow)
	require.Len(t, records, 1)
	require.Equal(t, "sprint-dev-story", records[0].Command)
}
