// Package activitylog parses the orchestrator's CSV activity log — the
// pipeline's own on-disk audit trail of subagent invocations — and filters
// out-of-range timestamps before they're surfaced to a client.
package activitylog

import (
	"encoding/csv"
	"strconv"
	"strings"
)

// Record is one parsed activity line: timestamp,epic_id,story_id,command,task_id,status,message.
type Record struct {
	Timestamp int64  `json:"timestamp"`
	EpicID    string `json:"epic_id"`
	StoryID   string `json:"story_id"`
	Command   string `json:"command"`
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

const (
	maxPastSeconds   = 31_536_000
	maxFutureSeconds = 3_600
)

// Parse extracts every well-formed, in-range record from raw. A line is
// dropped (never fatal to the rest) when it has too few fields, an
// unparseable timestamp, or a timestamp outside
// [now-maxPastSeconds, now+maxFutureSeconds].
func Parse(raw string, now int64) []Record {
	var out []Record
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		row, err := csv.NewReader(strings.NewReader(line)).Read()
		if err != nil || len(row) < 7 {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
		if err != nil {
			continue
		}
		if ts < now-maxPastSeconds || ts > now+maxFutureSeconds {
			continue
		}
		out = append(out, Record{
			Timestamp: ts,
			EpicID:    row[1],
			StoryID:   row[2],
			Command:   row[3],
			TaskID:    row[4],
			Status:    row[5],
			Message:   row[6],
		})
	}
	return out
}
