package archive

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	. "github.com/roelfdiedericks/clawvault/internal/logging"
)

// Export formats for operator consumption
const (
	FormatJSON     = "json"
	FormatJSONL    = "jsonl"
	FormatMarkdown = "markdown"
	FormatText     = "text"
	FormatCSV      = "csv"
)

// ExportSessionJSONL reconstructs a JSONL stream approximating the
// original event log. Synthetic events (tool_call, thinking_block,
// usage_stats) are omitted - they are already embedded in their parent
// message line. tool_result events are re-emitted under type "message".
func (s *Store) ExportSessionJSONL(ctx context.Context, sessionID string) (string, error) {
	events, err := s.SessionEvents(ctx, sessionID, EventFilter{})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, ev := range events {
		switch ev.EventType {
		case EventTypeToolCall, EventTypeThinkingBlock, EventTypeUsageStats:
			continue
		}

		line, err := reconstructLine(ev)
		if err != nil {
			L_warn("archive: export skipped malformed event", "id", ev.EventID, "error", err)
			continue
		}
		sb.Write(line)
		sb.WriteByte('\n')
	}

	return sb.String(), nil
}

// reconstructLine rebuilds one log line from the stored verbatim record,
// patching in the identity fields the consumer relies on.
func reconstructLine(ev *Event) ([]byte, error) {
	record := make(map[string]interface{})
	if len(ev.RawJSON) > 0 {
		if err := json.Unmarshal(ev.RawJSON, &record); err != nil {
			return nil, fmt.Errorf("unmarshal raw record: %w", err)
		}
	}

	switch ev.EventType {
	case EventTypeToolResult:
		record["type"] = "message"
	default:
		record["type"] = string(ev.EventType)
	}
	record["id"] = ev.EventID
	if _, ok := record["timestamp"]; !ok {
		record["timestamp"] = time.UnixMilli(ev.Timestamp).UTC().Format("2006-01-02T15:04:05.000Z")
	}
	if ev.ParentEventID != "" {
		if _, ok := record["parentId"]; !ok {
			record["parentId"] = ev.ParentEventID
		}
	}

	return json.Marshal(record)
}

// ExportSession renders a session's event stream in the requested
// operator format. JSONL delegates to ExportSessionJSONL (machine
// consumption); the rest are for humans and spreadsheets.
func (s *Store) ExportSession(ctx context.Context, sessionID, format string) (string, error) {
	if format == FormatJSONL {
		return s.ExportSessionJSONL(ctx, sessionID)
	}

	detail, err := s.GetSessionDetail(ctx, sessionID, EventFilter{IncludeThinking: true, IncludeUsage: true})
	if err != nil {
		return "", err
	}

	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(detail, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	case FormatMarkdown:
		return exportMarkdown(sessionID, detail), nil
	case FormatText:
		return exportText(sessionID, detail), nil
	case FormatCSV:
		return exportCSV(detail.Events)
	default:
		return "", fmt.Errorf("unknown export format: %s", format)
	}
}

func exportMarkdown(sessionID string, detail *SessionDetail) string {
	var sb strings.Builder

	title := sessionID
	if detail.Session != nil && detail.Session.Title != "" {
		title = detail.Session.Title
	}
	sb.WriteString("# Session " + title + "\n\n")

	if detail.Session != nil && detail.Session.Summary != "" {
		sb.WriteString(detail.Session.Summary + "\n\n")
	}

	sb.WriteString(fmt.Sprintf("- Events: %d\n- Messages: %d\n- Tool calls: %d\n- Errors: %d\n",
		detail.Stats.TotalEvents, detail.Stats.MessageCount,
		detail.Stats.ToolCallCount, detail.Stats.ErrorCount))
	if detail.Stats.TotalTokens > 0 {
		sb.WriteString(fmt.Sprintf("- Tokens: %d ($%.4f)\n", detail.Stats.TotalTokens, detail.Stats.TotalCost))
	}
	sb.WriteString("\n")

	for _, ev := range detail.Events {
		when := time.UnixMilli(ev.Timestamp).UTC().Format("15:04:05")
		switch ev.EventType {
		case EventTypeMessage, EventTypeToolResult:
			role := ev.Role
			if role == "" {
				role = string(ev.EventType)
			}
			sb.WriteString(fmt.Sprintf("## %s `%s`\n\n%s\n\n", role, when, eventText(ev)))
		case EventTypeToolCall:
			sb.WriteString(fmt.Sprintf("> tool call `%s` at %s\n\n", ev.ToolName, when))
		case EventTypeThinkingBlock:
			if ev.Thinking != nil && ev.Thinking.Content != "" {
				sb.WriteString("<details><summary>thinking</summary>\n\n" + ev.Thinking.Content + "\n\n</details>\n\n")
			}
		}
	}

	return sb.String()
}

func exportText(sessionID string, detail *SessionDetail) string {
	var sb strings.Builder
	sb.WriteString("Session " + sessionID + "\n")
	sb.WriteString(strings.Repeat("=", 8+len(sessionID)) + "\n\n")

	for _, ev := range detail.Events {
		when := time.UnixMilli(ev.Timestamp).UTC().Format("2006-01-02 15:04:05")
		label := ev.Role
		if label == "" {
			label = string(ev.EventType)
		}
		text := eventText(ev)
		if text == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("[%s] %s: %s\n", when, label, text))
	}

	return sb.String()
}

func exportCSV(events []*Event) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	if err := w.Write([]string{"event_id", "parent_event_id", "type", "role", "tool_name", "timestamp", "is_error", "size_bytes"}); err != nil {
		return "", err
	}
	for _, ev := range events {
		if err := w.Write([]string{
			ev.EventID, ev.ParentEventID, string(ev.EventType), ev.Role, ev.ToolName,
			strconv.FormatInt(ev.Timestamp, 10),
			strconv.FormatBool(ev.IsError),
			strconv.FormatInt(ev.SizeBytes, 10),
		}); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// eventText extracts the human-readable text from a message-shaped raw
// record, falling back to the JSON-encoded data payload for custom events.
func eventText(ev *Event) string {
	if len(ev.RawJSON) == 0 {
		return ""
	}

	var record struct {
		Message struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
		Data map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(ev.RawJSON, &record); err != nil {
		return ""
	}

	var parts []string
	for _, c := range record.Message.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}

	if ev.EventType == EventTypeCustom && record.Data != nil {
		data, _ := json.Marshal(record.Data)
		return string(data)
	}

	return ""
}
