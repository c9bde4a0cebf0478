package subagent

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildArgsOrdersModelBeforeInjection(t *testing.T) {
	args := buildArgs(Request{Model: "haiku", ContextInjection: "<context/>"})
	require.Equal(t, []string{"-p", "--output-format", "stream-json", "--model", "haiku", "--prompt-system-append", "<context/>"}, args)
}

func TestBuildArgsOmitsOptionalFlagsWhenEmpty(t *testing.T) {
	args := buildArgs(Request{})
	require.Equal(t, []string{"-p", "--output-format", "stream-json"}, args)
}

func TestParseCSVRecordRequiresSevenFields(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	_, ok := parseCSVRecord("1700000000,EPIC-1,STORY-1,dev", now)
	require.False(t, ok)
}

func TestParseCSVRecordAcceptsWithinWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	line := "1700000000,EPIC-1,STORY-1,dev,task-1,start,beginning work"
	rec, ok := parseCSVRecord(line, now)
	require.True(t, ok)
	require.Equal(t, "EPIC-1", rec.EpicID)
	require.Equal(t, "start", rec.Status)
}

func TestParseCSVRecordRejectsTooOld(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tooOld := now.AddDate(-2, 0, 0).Unix()
	line := strconv.FormatInt(tooOld, 10) + ",EPIC-1,STORY-1,dev,task-1,start,msg"
	_, ok := parseCSVRecord(line, now)
	require.False(t, ok)
}

func TestParseCSVRecordRejectsTooFarInFuture(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tooFar := now.Add(2 * time.Hour).Unix()
	line := strconv.FormatInt(tooFar, 10) + ",EPIC-1,STORY-1,dev,task-1,start,msg"
	_, ok := parseCSVRecord(line, now)
	require.False(t, ok)
}

func TestParseCSVRecordAcceptsRFC3339Timestamp(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	line := now.Add(-time.Hour).Format(time.RFC3339) + ",EPIC-1,STORY-1,dev,task-1,end,done"
	_, ok := parseCSVRecord(line, now)
	require.True(t, ok)
}

func TestExtractTextConcatenatesAssistantBlocks(t *testing.T) {
	msg, err := ParseStreamMessage([]byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}]}}`))
	require.NoError(t, err)
	require.Equal(t, "hello world", msg.ExtractText())
}

func TestToolResultTextsExtractsStringContent(t *testing.T) {
	msg, err := ParseStreamMessage([]byte(`{"type":"user","message":{"content":[{"type":"tool_result","content":"1700000000,EPIC-1,STORY-1,dev,task-1,start,go"}]}}`))
	require.NoError(t, err)
	texts := msg.ToolResultTexts()
	require.Len(t, texts, 1)
	require.Contains(t, texts[0], "EPIC-1")
}

func TestParseStreamMessageSkipsMalformedLine(t *testing.T) {
	_, err := ParseStreamMessage([]byte("not json"))
	require.Error(t, err)
}
