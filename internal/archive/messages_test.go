package archive

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(StoreConfig{Path: filepath.Join(t.TempDir(), "archive.db")})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testMessage(id, sender, text string, ts int64) *Message {
	return &Message{
		MessageID:   id,
		SessionKey:  "imported:telegram:42",
		Direction:   DirectionInbound,
		SenderID:    sender,
		SenderName:  sender,
		Channel:     "telegram",
		ContentType: "text",
		ContentText: text,
		Timestamp:   ts,
	}
}

func TestInsertMessageDeduplication(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	m1 := testMessage("m1", "alice", "hello there", 1000000)
	_, inserted, err := store.InsertMessage(ctx, m1, InsertOptions{SkipIfExists: true})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if !inserted {
		t.Fatal("expected first insert to succeed")
	}

	// Stage 1: same message_id
	dup := testMessage("m1", "bob", "different text", 2000000)
	_, inserted, err = store.InsertMessage(ctx, dup, InsertOptions{SkipIfExists: true})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if inserted {
		t.Error("expected same-id duplicate to be skipped")
	}

	// Stage 2: different id, same fingerprint (same sender/ts/content)
	dup2 := testMessage("m2", "alice", "hello there", 1000000)
	_, inserted, err = store.InsertMessage(ctx, dup2, InsertOptions{SkipIfExists: true})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if inserted {
		t.Error("expected same-fingerprint duplicate to be skipped")
	}

	// Stage 3: different id, timestamp jittered under 1000ms
	dup3 := testMessage("m3", "alice", "hello there", 1000500)
	_, inserted, err = store.InsertMessage(ctx, dup3, InsertOptions{SkipIfExists: true})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if inserted {
		t.Error("expected near-duplicate to be skipped")
	}

	// Jitter of exactly 1000ms is outside the window
	ok := testMessage("m4", "alice", "hello there", 1001000)
	_, inserted, err = store.InsertMessage(ctx, ok, InsertOptions{SkipIfExists: true})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if !inserted {
		t.Error("expected 1000ms-apart message to be inserted")
	}

	msgs, err := store.QueryMessages(ctx, MessageFilter{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("expected 2 rows, got %d", len(msgs))
	}
}

func TestInsertMessagesBatchCounters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	batch := []*Message{
		testMessage("b1", "alice", "one", 1000),
		testMessage("b2", "alice", "two", 2000),
		testMessage("b1", "alice", "one again", 5000000), // same id
	}

	result, err := store.InsertMessagesBatch(ctx, batch)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if result.Inserted != 2 || result.Skipped != 1 || result.Errors != 0 {
		t.Errorf("unexpected counters: %+v", result)
	}

	// Re-running the identical batch is a no-op
	batch2 := []*Message{
		testMessage("b1", "alice", "one", 1000),
		testMessage("b2", "alice", "two", 2000),
	}
	result, err = store.InsertMessagesBatch(ctx, batch2)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if result.Inserted != 0 || result.Skipped != 2 {
		t.Errorf("expected pure skip on re-ingest, got %+v", result)
	}
}

func TestEditAndSoftDeleteRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	m := testMessage("edit1", "alice", "hello", 1000)
	if _, _, err := store.InsertMessage(ctx, m, InsertOptions{}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if err := store.UpdateMessage(ctx, "edit1", "hi", 2000); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := store.SoftDeleteMessage(ctx, "edit1", 3000); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	// Default queries omit the deleted row
	msgs, err := store.QueryMessages(ctx, MessageFilter{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected deleted message to be hidden, got %d rows", len(msgs))
	}

	// Opting in returns it with the edited content
	msgs, err = store.QueryMessages(ctx, MessageFilter{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 row with include_deleted, got %d", len(msgs))
	}
	got := msgs[0]
	if got.ContentText != "hi" || got.EditedAt != 2000 || got.DeletedAt != 3000 {
		t.Errorf("unexpected live row: content=%q edited=%d deleted=%d",
			got.ContentText, got.EditedAt, got.DeletedAt)
	}

	edits, err := store.Edits(ctx, "edit1")
	if err != nil {
		t.Fatalf("edits failed: %v", err)
	}
	if len(edits) != 1 || edits[0].PreviousContent != "hello" {
		t.Errorf("expected one edit preserving 'hello', got %+v", edits)
	}

	// Updating a missing message is a silent no-op
	if err := store.UpdateMessage(ctx, "nope", "x", 1); err != nil {
		t.Errorf("expected silent no-op, got %v", err)
	}
}

func TestFTSLiveness(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	m := testMessage("fts1", "alice", "the quick zebra jumps", 1000)
	if _, _, err := store.InsertMessage(ctx, m, InsertOptions{}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	results, err := store.SearchMessages(ctx, "zebra", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].MessageID != "fts1" {
		t.Fatalf("expected to find fts1, got %d results", len(results))
	}

	// After an edit the old text stops matching and the new text matches
	if err := store.UpdateMessage(ctx, "fts1", "a slow giraffe rests", 2000); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	results, err = store.SearchMessages(ctx, "zebra", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 0 {
		t.Error("expected old text to be unmatchable after edit")
	}

	results, err = store.SearchMessages(ctx, "giraffe", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 {
		t.Error("expected new text to be matchable after edit")
	}
}

func TestQueryMessagesContentMatchWithDeleted(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	m := testMessage("match1", "alice", "archived treasure map", 1000)
	if _, _, err := store.InsertMessage(ctx, m, InsertOptions{}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := store.SoftDeleteMessage(ctx, "match1", 2000); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	msgs, err := store.QueryMessages(ctx, MessageFilter{ContentMatch: "treasure"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Error("deleted messages must not match by default")
	}

	msgs, err = store.QueryMessages(ctx, MessageFilter{ContentMatch: "treasure", IncludeDeleted: true})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Error("deleted messages must match when the caller opts in")
	}
}

func TestReactionLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	m := testMessage("react1", "alice", "nice", 1000)
	if _, _, err := store.InsertMessage(ctx, m, InsertOptions{}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if err := store.AddReaction(ctx, "react1", "👍", "bob", "Bob"); err != nil {
		t.Fatalf("add reaction failed: %v", err)
	}
	if err := store.RemoveReaction(ctx, "react1", "👍", "bob"); err != nil {
		t.Fatalf("remove reaction failed: %v", err)
	}

	reactions, err := store.Reactions(ctx, "react1")
	if err != nil {
		t.Fatalf("reactions failed: %v", err)
	}
	if len(reactions) != 1 || reactions[0].RemovedAt == 0 {
		t.Fatalf("expected one removed reaction, got %+v", reactions)
	}

	// Re-adding clears removed_at and refreshes added_at
	if err := store.AddReaction(ctx, "react1", "👍", "bob", "Bob"); err != nil {
		t.Fatalf("re-add reaction failed: %v", err)
	}
	reactions, err = store.Reactions(ctx, "react1")
	if err != nil {
		t.Fatalf("reactions failed: %v", err)
	}
	if len(reactions) != 1 {
		t.Fatalf("expected upsert to keep one row, got %d", len(reactions))
	}
	if reactions[0].RemovedAt != 0 {
		t.Error("expected removed_at to be cleared on re-add")
	}
}

func TestConversationContext(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a := testMessage("c1", "alice", "hello", 1000)
	b := testMessage("c2", "bob", "hi alice", 2000)
	if _, err := store.InsertMessagesBatch(ctx, []*Message{a, b}); err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	text, err := store.ConversationContext(ctx, 0, 0, "imported:telegram:42")
	if err != nil {
		t.Fatalf("context failed: %v", err)
	}
	if text == "" {
		t.Fatal("expected non-empty transcript")
	}

	aliceIdx := indexOf(text, "alice: hello")
	bobIdx := indexOf(text, "bob: hi alice")
	if aliceIdx < 0 || bobIdx < 0 || bobIdx < aliceIdx {
		t.Errorf("expected chronological transcript, got:\n%s", text)
	}
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
