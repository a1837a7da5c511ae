// Package summarize labels archived sessions with a short title and a
// few-sentence summary. The remote strategy is optional; callers always
// have the deterministic Local fallback.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SessionMeta is what a summarizer gets to work with besides the
// transcript itself.
type SessionMeta struct {
	SessionID     string
	EventCount    int
	MessageCount  int
	ToolCallCount int
	ErrorCount    int
	StartedAt     int64 // epoch ms
	EndedAt       int64 // epoch ms
	Model         string
}

// Summarizer produces a title and a 2-3 sentence summary for a session.
type Summarizer interface {
	Summarize(ctx context.Context, meta SessionMeta, transcript string) (title, summary string, err error)
}

// Local is the deterministic fallback strategy: title from the first
// user line, summary from counts and time range. Never fails.
type Local struct{}

// Summarize implements Summarizer without any external calls.
func (Local) Summarize(_ context.Context, meta SessionMeta, transcript string) (string, string, error) {
	title := firstUserLine(transcript)
	if title == "" {
		title = "Session " + shortID(meta.SessionID)
	}
	if len(title) > 80 {
		title = title[:77] + "..."
	}

	started := time.UnixMilli(meta.StartedAt).UTC().Format("2006-01-02 15:04")
	duration := time.Duration(meta.EndedAt-meta.StartedAt) * time.Millisecond

	summary := fmt.Sprintf("Session with %d events (%d messages, %d tool calls) starting %s, lasting %s.",
		meta.EventCount, meta.MessageCount, meta.ToolCallCount, started, duration.Round(time.Second))
	if meta.ErrorCount > 0 {
		summary += fmt.Sprintf(" %d errors were recorded.", meta.ErrorCount)
	}

	return title, summary, nil
}

// firstUserLine pulls the first user utterance out of a transcript
// rendered by eventlog.Transcript ("[15:04] role: text").
func firstUserLine(transcript string) string {
	for _, line := range strings.Split(transcript, "\n") {
		idx := strings.Index(line, "] user: ")
		if idx < 0 {
			continue
		}
		return strings.TrimSpace(line[idx+len("] user: "):])
	}
	return ""
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
