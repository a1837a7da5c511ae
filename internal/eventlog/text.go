package eventlog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roelfdiedericks/clawvault/internal/archive"
)

// TextContent extracts the plain text from a raw message record,
// concatenating its text blocks.
func TextContent(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}

	var record MessageRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return ""
	}

	var parts []string
	for _, c := range record.Message.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Transcript renders a chronological plain-text transcript from message
// events, suitable as summarizer input.
func Transcript(events []*archive.Event) string {
	var sb strings.Builder
	for _, ev := range events {
		if ev.EventType != archive.EventTypeMessage {
			continue
		}
		text := TextContent(ev.RawJSON)
		if text == "" {
			continue
		}
		when := time.UnixMilli(ev.Timestamp).UTC().Format("15:04")
		role := ev.Role
		if role == "" {
			role = "unknown"
		}
		sb.WriteString(fmt.Sprintf("[%s] %s: %s\n", when, role, text))
	}
	return sb.String()
}
