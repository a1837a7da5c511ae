package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roelfdiedericks/clawvault/internal/archive"
	. "github.com/roelfdiedericks/clawvault/internal/logging"
)

// Parser streams one event-log file into archive events.
type Parser struct {
	path string
}

// NewParser creates a parser for a JSONL event-log file.
func NewParser(path string) *Parser {
	return &Parser{path: path}
}

// Parse streams archive events with timestamp strictly greater than the
// watermark, in source order, calling fn for each. A message record fans
// out into the parent event followed by its synthetic children
// (tool_call per block, one thinking_block, one usage_stats) - parents
// always precede children.
//
// Empty lines and malformed lines are skipped; unknown record types are
// skipped with a warning. A missing file is a hard error. fn returning
// an error aborts the stream.
//
// The parser does not know the session key; it leaves session_id unset
// on every event except the root session event, where session_id equals
// the event id.
func (p *Parser) Parse(watermark int64, fn func(*archive.Event) error) error {
	file, err := os.Open(p.path)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	// Increase buffer size for large lines (tool results can be huge)
	const maxLineSize = 10 * 1024 * 1024 // 10MB
	buf := make([]byte, maxLineSize)
	scanner.Buffer(buf, maxLineSize)

	lineNum := 0
	emitted := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		events, err := parseLine(line)
		if err != nil {
			L_warn("eventlog: failed to parse line", "file", filepath.Base(p.path), "line", lineNum, "error", err)
			continue
		}

		for _, ev := range events {
			if ev.Timestamp <= watermark {
				continue
			}
			if err := fn(ev); err != nil {
				return err
			}
			emitted++
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading event log: %w", err)
	}

	L_trace("eventlog: parsed file", "path", filepath.Base(p.path), "lines", lineNum, "events", emitted)
	return nil
}

// ParseAll collects every event above the watermark into a slice.
func (p *Parser) ParseAll(watermark int64) ([]*archive.Event, error) {
	var events []*archive.Event
	err := p.Parse(watermark, func(ev *archive.Event) error {
		events = append(events, ev)
		return nil
	})
	return events, err
}

// parseLine lifts one raw log line into zero or more archive events.
func parseLine(line []byte) ([]*archive.Event, error) {
	// First pass: just the type discriminator
	var base struct {
		Type RecordType `json:"type"`
	}
	if err := json.Unmarshal(line, &base); err != nil {
		return nil, fmt.Errorf("failed to parse record type: %w", err)
	}

	switch base.Type {
	case RecordTypeSession:
		var r SessionRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("failed to parse session record: %w", err)
		}
		ev := baseEvent(r.BaseRecord, archive.EventTypeSession, line)
		// The root event identifies the session
		ev.SessionID = r.ID
		return []*archive.Event{ev}, nil

	case RecordTypeModelChange:
		var r ModelChangeRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("failed to parse model change record: %w", err)
		}
		ev := baseEvent(r.BaseRecord, archive.EventTypeModelChange, line)
		ev.ModelProvider = r.Provider
		ev.ModelID = r.ModelID
		return []*archive.Event{ev}, nil

	case RecordTypeThinkingChange:
		var r ThinkingLevelChangeRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("failed to parse thinking level change record: %w", err)
		}
		ev := baseEvent(r.BaseRecord, archive.EventTypeThinkingChange, line)
		return []*archive.Event{ev}, nil

	case RecordTypeCustom:
		var r CustomRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("failed to parse custom record: %w", err)
		}
		ev := baseEvent(r.BaseRecord, archive.EventTypeCustom, line)
		ev.EventSubtype = r.CustomType
		return []*archive.Event{ev}, nil

	case RecordTypeMessage:
		var r MessageRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("failed to parse message record: %w", err)
		}
		return fanOutMessage(&r, line), nil

	default:
		return nil, fmt.Errorf("unrecognized record type %q", base.Type)
	}
}

// baseEvent builds an archive event from record identity fields.
func baseEvent(base BaseRecord, eventType archive.EventType, line []byte) *archive.Event {
	ev := &archive.Event{
		EventID:   base.ID,
		EventType: eventType,
		Timestamp: base.Timestamp.UnixMilli(),
		RawJSON:   append([]byte(nil), line...),
		SizeBytes: int64(len(line)),
	}
	if base.ParentID != nil {
		ev.ParentEventID = *base.ParentID
	}
	return ev
}

// fanOutMessage expands one message record into the parent archive event
// plus synthetic children for embedded tool calls, thinking content and
// usage stats. Synthetic ids are deterministic so re-parsing yields the
// same ids.
func fanOutMessage(r *MessageRecord, line []byte) []*archive.Event {
	msg := &r.Message

	eventType := archive.EventTypeMessage
	if msg.Role == "toolResult" {
		eventType = archive.EventTypeToolResult
	}

	parent := baseEvent(r.BaseRecord, eventType, line)
	parent.Role = msg.Role
	parent.ModelProvider = msg.Provider
	parent.ModelID = msg.Model
	parent.ToolName = msg.ToolName
	parent.IsError = msg.IsError || msg.ErrorMessage != ""

	events := []*archive.Event{parent}

	// Only assistant messages carry synthesizable children
	if msg.Role != "assistant" {
		return events
	}

	ts := parent.Timestamp
	thinkingEmitted := false
	for _, block := range msg.Content {
		switch block.Type {
		case "toolCall", "toolUse":
			raw, _ := json.Marshal(block)
			events = append(events, &archive.Event{
				EventID:       archive.ToolCallEventID(parent.EventID, block.ID),
				ParentEventID: parent.EventID,
				EventType:     archive.EventTypeToolCall,
				Timestamp:     ts,
				RawJSON:       raw,
				SizeBytes:     int64(len(raw)),
				ToolName:      block.Name,
			})
		case "thinking":
			if block.Thinking == "" || thinkingEmitted {
				continue
			}
			thinkingEmitted = true
			raw, _ := json.Marshal(map[string]interface{}{
				"type":     "thinking",
				"parentId": parent.EventID,
			})
			events = append(events, &archive.Event{
				EventID:       archive.ThinkingEventID(parent.EventID),
				ParentEventID: parent.EventID,
				EventType:     archive.EventTypeThinkingBlock,
				Timestamp:     ts,
				RawJSON:       raw,
				SizeBytes:     int64(len(block.Thinking)),
				Thinking: &archive.ThinkingBlock{
					EventID:     archive.ThinkingEventID(parent.EventID),
					Content:     block.Thinking,
					Signature:   block.ThinkingSignature,
					ContentSize: int64(len(block.Thinking)),
				},
			})
		}
	}

	if msg.Usage != nil {
		usage := &archive.UsageStats{
			EventID:         archive.UsageEventID(parent.EventID),
			InputTokens:     msg.Usage.Input,
			OutputTokens:    msg.Usage.Output,
			CacheReadTokens: msg.Usage.CacheRead,
			CacheWriteToken: msg.Usage.CacheWrite,
			TotalTokens:     msg.Usage.TotalTokens,
			ModelProvider:   msg.Provider,
			ModelID:         msg.Model,
			Timestamp:       ts,
		}
		if c := msg.Usage.Cost; c != nil {
			usage.InputCost = c.Input
			usage.OutputCost = c.Output
			usage.CacheReadCost = c.CacheRead
			usage.CacheWriteCost = c.CacheWrite
			usage.TotalCost = c.Total
		}
		raw, _ := json.Marshal(msg.Usage)
		events = append(events, &archive.Event{
			EventID:       usage.EventID,
			ParentEventID: parent.EventID,
			EventType:     archive.EventTypeUsageStats,
			Timestamp:     ts,
			RawJSON:       raw,
			SizeBytes:     int64(len(raw)),
			ModelProvider: msg.Provider,
			ModelID:       msg.Model,
			Usage:         usage,
		})
	}

	return events
}

// Meta derives session-level metadata from accumulated events.
func Meta(events []*archive.Event) SessionMeta {
	var meta SessionMeta
	for _, ev := range events {
		if meta.SessionID == "" && ev.EventType == archive.EventTypeSession {
			meta.SessionID = ev.EventID
		}
		if meta.FirstTimestamp == 0 || ev.Timestamp < meta.FirstTimestamp {
			meta.FirstTimestamp = ev.Timestamp
		}
		if ev.Timestamp > meta.LastTimestamp {
			meta.LastTimestamp = ev.Timestamp
		}
		meta.EventCount++

		switch ev.EventType {
		case archive.EventTypeMessage:
			meta.MessageCount++
		case archive.EventTypeToolCall:
			meta.ToolCallCount++
		case archive.EventTypeThinkingBlock:
			meta.HasThinking = true
		case archive.EventTypeUsageStats:
			meta.HasUsage = true
		}
		if ev.IsError {
			meta.ErrorCount++
		}
		if ev.ModelID != "" && meta.Model == "" {
			meta.Model = ev.ModelID
			meta.Provider = ev.ModelProvider
		}
	}
	return meta
}
