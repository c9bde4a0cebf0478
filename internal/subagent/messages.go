package subagent

import (
	"encoding/json"
	"strings"
)

// StreamMessage represents a single line-delimited JSON record emitted by a
// subagent process.
type StreamMessage struct {
	Type string
	Raw  map[string]any
}

// ParseStreamMessage parses one output line into a StreamMessage. Malformed
// lines are reported as an error so the caller can skip them without
// failing the stream.
func ParseStreamMessage(line []byte) (StreamMessage, error) {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return StreamMessage{}, err
	}
	msgType, _ := raw["type"].(string)
	return StreamMessage{Type: strings.TrimSpace(msgType), Raw: raw}, nil
}

// ExtractText returns assistant-type text for accumulation into the
// aggregate stdout returned to the caller.
func (m StreamMessage) ExtractText() string {
	if m.Raw == nil {
		return ""
	}
	if val, ok := m.Raw["result"].(string); ok {
		return val
	}
	if val, ok := m.Raw["output"].(string); ok {
		return val
	}
	if msg, ok := m.Raw["message"].(map[string]any); ok {
		return extractContentText(msg["content"])
	}
	if content, ok := m.Raw["content"]; ok {
		return extractContentText(content)
	}
	return ""
}

// ToolResultTexts returns every string-typed tool_result content block in
// this message, each a candidate source of CSV structured records.
func (m StreamMessage) ToolResultTexts() []string {
	if m.Raw == nil {
		return nil
	}
	msg, ok := m.Raw["message"].(map[string]any)
	if !ok {
		return nil
	}
	content, ok := msg["content"].([]any)
	if !ok {
		return nil
	}

	var out []string
	for _, item := range content {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if entryType, _ := entry["type"].(string); entryType != "tool_result" {
			continue
		}
		if text, ok := entry["content"].(string); ok {
			out = append(out, text)
		}
	}
	return out
}

func extractContentText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var sb strings.Builder
		for _, item := range v {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if entryType, _ := entry["type"].(string); entryType == "text" {
				if text, ok := entry["text"].(string); ok {
					sb.WriteString(text)
				}
			}
		}
		return sb.String()
	default:
		return ""
	}
}
