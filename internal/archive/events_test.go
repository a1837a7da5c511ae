package archive

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func testEvent(id, parent string, eventType EventType, ts int64) *Event {
	ev := &Event{
		EventID:   id,
		EventType: eventType,
		Timestamp: ts,
		RawJSON:   []byte(`{"type":"` + string(eventType) + `","id":"` + id + `"}`),
	}
	ev.ParentEventID = parent
	return ev
}

func TestInsertEventsBatchWithSatellites(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	events := []*Event{
		testEvent("S", "", EventTypeSession, 1000),
		testEvent("M", "S", EventTypeMessage, 2000),
		testEvent("M_tool_T1", "M", EventTypeToolCall, 2000),
	}

	thinking := testEvent("M_thinking", "M", EventTypeThinkingBlock, 2000)
	thinking.Thinking = &ThinkingBlock{
		EventID: "M_thinking",
		Content: strings.Repeat("x", 500),
	}
	usage := testEvent("M_usage", "M", EventTypeUsageStats, 2000)
	usage.Usage = &UsageStats{
		EventID:     "M_usage",
		InputTokens: 100, OutputTokens: 50, TotalTokens: 150,
		TotalCost: 0.003,
	}
	events = append(events, thinking, usage)

	result, err := store.InsertEventsBatch(ctx, events, "agent:main:main", EventBatchOptions{})
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if result.Inserted != 5 || result.Skipped != 0 || result.Errors != 0 {
		t.Fatalf("unexpected counters: %+v", result)
	}

	// Session id back-filled from the session event
	stored, err := store.SessionEvents(ctx, "S", EventFilter{IncludeThinking: true, IncludeUsage: true})
	if err != nil {
		t.Fatalf("session events failed: %v", err)
	}
	if len(stored) != 5 {
		t.Fatalf("expected 5 events under session S, got %d", len(stored))
	}

	var gotThinking, gotUsage bool
	for _, ev := range stored {
		switch ev.EventType {
		case EventTypeThinkingBlock:
			if ev.Thinking == nil || int64(len(ev.Thinking.Content)) != 500 {
				t.Error("thinking satellite missing or truncated")
			}
			gotThinking = true
		case EventTypeUsageStats:
			if ev.Usage == nil || ev.Usage.TotalTokens != 150 {
				t.Error("usage satellite missing or wrong")
			}
			gotUsage = true
		}
	}
	if !gotThinking || !gotUsage {
		t.Error("expected both satellite events")
	}

	// Re-ingest of the same batch is pure skip
	reEvents := []*Event{
		testEvent("S", "", EventTypeSession, 1000),
		testEvent("M", "S", EventTypeMessage, 2000),
		testEvent("M_tool_T1", "M", EventTypeToolCall, 2000),
	}
	result, err = store.InsertEventsBatch(ctx, reEvents, "agent:main:main", EventBatchOptions{})
	if err != nil {
		t.Fatalf("re-ingest failed: %v", err)
	}
	if result.Inserted != 0 || result.Skipped != 3 {
		t.Errorf("expected pure skip, got %+v", result)
	}
}

func TestFKSuspensionBoundedness(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// Normal mode: a child with an absent parent is dropped into errors
	orphan := testEvent("M_tool_T9", "MISSING", EventTypeToolCall, 1000)
	result, err := store.InsertEventsBatch(ctx, []*Event{orphan}, "agent:main:main", EventBatchOptions{SessionID: "X"})
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if result.Errors != 1 || result.Inserted != 0 {
		t.Errorf("expected referential error under normal mode, got %+v", result)
	}

	// Force mode: the same row lands with FK enforcement suspended
	orphan2 := testEvent("M_tool_T9", "MISSING", EventTypeToolCall, 1000)
	result, err = store.InsertEventsBatch(ctx, []*Event{orphan2}, "agent:main:main", EventBatchOptions{SessionID: "X", SuspendFK: true})
	if err != nil {
		t.Fatalf("force batch failed: %v", err)
	}
	if result.Inserted != 1 {
		t.Errorf("expected orphan to insert under force, got %+v", result)
	}

	// Enforcement is restored afterwards
	orphan3 := testEvent("M_tool_T10", "STILL_MISSING", EventTypeToolCall, 1000)
	result, err = store.InsertEventsBatch(ctx, []*Event{orphan3}, "agent:main:main", EventBatchOptions{SessionID: "X"})
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if result.Errors != 1 {
		t.Errorf("expected FK enforcement restored after force batch, got %+v", result)
	}
}

func TestStructurallyInvalidEventDropped(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	noTimestamp := &Event{EventID: "bad", EventType: EventTypeCustom}
	result, err := store.InsertEventsBatch(ctx, []*Event{noTimestamp}, "k", EventBatchOptions{SessionID: "X"})
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if result.Errors != 1 || result.Inserted != 0 {
		t.Errorf("expected schema error counter, got %+v", result)
	}
}

func TestSessionStats(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	errEvent := testEvent("E", "S", EventTypeToolResult, 5000)
	errEvent.IsError = true

	usage := testEvent("M_usage", "M", EventTypeUsageStats, 3000)
	usage.Usage = &UsageStats{EventID: "M_usage", TotalTokens: 150, TotalCost: 0.003}

	events := []*Event{
		testEvent("S", "", EventTypeSession, 1000),
		testEvent("M", "S", EventTypeMessage, 3000),
		testEvent("M_tool_T1", "M", EventTypeToolCall, 3000),
		usage,
		errEvent,
	}
	if _, err := store.InsertEventsBatch(ctx, events, "agent:main:main", EventBatchOptions{}); err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	stats, err := store.SessionStats(ctx, "S")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}

	if stats.TotalEvents != 5 {
		t.Errorf("expected 5 events, got %d", stats.TotalEvents)
	}
	if stats.MessageCount != 1 || stats.ToolCallCount != 1 || stats.ErrorCount != 1 {
		t.Errorf("unexpected counts: %+v", stats)
	}
	if stats.StartTime != 1000 || stats.EndTime != 5000 {
		t.Errorf("unexpected time range: %d..%d", stats.StartTime, stats.EndTime)
	}
	if stats.DurationSeconds != 4.0 {
		t.Errorf("expected 4s duration, got %f", stats.DurationSeconds)
	}
	if stats.TotalTokens != 150 || stats.TotalCost != 0.003 {
		t.Errorf("unexpected usage totals: %+v", stats)
	}
}

func TestExportSessionJSONL(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	session := testEvent("S", "", EventTypeSession, 1000)
	session.RawJSON = []byte(`{"type":"session","id":"S","version":3,"timestamp":"2026-02-13T12:00:00.000Z","cwd":"/x"}`)

	msg := testEvent("M", "S", EventTypeMessage, 2000)
	msg.RawJSON = []byte(`{"type":"message","id":"M","parentId":"S","timestamp":"2026-02-13T12:00:01.000Z","message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}`)

	toolResult := testEvent("R", "M", EventTypeToolResult, 3000)
	toolResult.RawJSON = []byte(`{"type":"message","id":"R","parentId":"M","timestamp":"2026-02-13T12:00:02.000Z","message":{"role":"toolResult","content":[]}}`)

	synthetic := testEvent("M_tool_T1", "M", EventTypeToolCall, 2000)

	events := []*Event{session, msg, toolResult, synthetic}
	if _, err := store.InsertEventsBatch(ctx, events, "agent:main:main", EventBatchOptions{}); err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	out, err := store.ExportSessionJSONL(ctx, "S")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 non-synthetic lines, got %d:\n%s", len(lines), out)
	}

	// Synthetic children are omitted; tool results re-emit as messages
	for _, line := range lines {
		var record map[string]interface{}
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("export line is not JSON: %v", err)
		}
		id := record["id"].(string)
		if id == "M_tool_T1" {
			t.Error("synthetic event leaked into export")
		}
		if id == "R" && record["type"] != "message" {
			t.Errorf("tool_result should re-emit as message, got %v", record["type"])
		}
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, ok, err := store.Checkpoint(ctx, KeyLastScan)
	if err != nil {
		t.Fatalf("checkpoint read failed: %v", err)
	}
	if ok {
		t.Fatal("expected unset checkpoint")
	}

	if err := store.SetWatermark(ctx, KeyLastScan, 12345); err != nil {
		t.Fatalf("set watermark failed: %v", err)
	}
	ts, err := store.Watermark(ctx, KeyLastScan)
	if err != nil {
		t.Fatalf("watermark read failed: %v", err)
	}
	if ts != 12345 {
		t.Errorf("expected 12345, got %d", ts)
	}
}

func TestUpsertSessionAndSearch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	sess := &Session{
		ID:         "AAA",
		SessionKey: "agent:main:main",
		StartedAt:  1000,
		Title:      "Debugging the flux capacitor",
		Summary:    "The agent investigated a temporal anomaly.",
	}
	inserted, err := store.UpsertSession(ctx, sess)
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if !inserted {
		t.Error("expected first upsert to insert")
	}

	sess.Status = SessionStatusCompleted
	inserted, err = store.UpsertSession(ctx, sess)
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if inserted {
		t.Error("expected second upsert to update")
	}

	got, err := store.GetSession(ctx, "AAA")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != SessionStatusCompleted || got.Title != sess.Title {
		t.Errorf("unexpected session row: %+v", got)
	}

	found, err := store.SearchSessions(ctx, "flux", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(found) != 1 || found[0].ID != "AAA" {
		t.Errorf("expected session search hit, got %d", len(found))
	}
}

func TestListSessionsFromEvents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	events := []*Event{
		testEvent("S1", "", EventTypeSession, 1000),
		testEvent("M1", "S1", EventTypeMessage, 2000),
	}
	if _, err := store.InsertEventsBatch(ctx, events, "agent:main:main", EventBatchOptions{}); err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	entries, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 session, got %d", len(entries))
	}
	e := entries[0]
	if e.SessionID != "S1" || e.EventCount != 2 || e.FirstEvent != 1000 || e.LastEvent != 2000 {
		t.Errorf("unexpected listing: %+v", e)
	}
}
