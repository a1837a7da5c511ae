package importers

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roelfdiedericks/clawvault/internal/archive"
)

const telegramExportJSON = `{
  "name": "Alice",
  "type": "personal_chat",
  "id": 12345,
  "messages": [
    {"id": 1, "type": "message", "date": "2023-06-01T10:00:00", "date_unixtime": "1685613600",
     "from": "Alice", "from_id": "user999", "text": "hello"},
    {"id": 2, "type": "message", "date": "2023-06-01T10:01:00", "date_unixtime": "1685613660",
     "from": "You", "from_id": "user_self", "reply_to_message_id": 1,
     "text": [{"type": "bold", "text": "hi"}, " there"]},
    {"id": 3, "type": "message", "date": "2023-06-01T10:02:00", "date_unixtime": "1685613720",
     "from": "Alice", "from_id": "user999", "text": "", "photo": "photos/p.jpg"},
    {"id": 4, "type": "service", "date": "2023-06-01T10:03:00", "action": "pin_message"}
  ]
}`

func TestTelegramNormalization(t *testing.T) {
	path := writeExport(t, "telegram.json", telegramExportJSON)

	parsed, err := ParseTelegramFile(path)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	// Service records are skipped
	if len(parsed) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(parsed))
	}

	first := parsed[0].Msg
	if first.MessageID != "telegram_12345_1" {
		t.Errorf("deterministic channel-prefixed id expected, got %q", first.MessageID)
	}
	if first.SessionKey != "imported:telegram:12345" {
		t.Errorf("unexpected session key: %q", first.SessionKey)
	}
	if first.Direction != archive.DirectionInbound {
		t.Error("Alice's message must be inbound")
	}
	if first.Timestamp != 1685613600000 {
		t.Errorf("unexpected timestamp: %d", first.Timestamp)
	}

	second := parsed[1].Msg
	if second.Direction != archive.DirectionOutbound {
		t.Error("user_self must be outbound")
	}
	if second.ContentText != "hi there" {
		t.Errorf("formatted-text runs not concatenated: %q", second.ContentText)
	}
	if second.ReplyToID != "telegram_12345_1" {
		t.Errorf("reply_to not carried: %q", second.ReplyToID)
	}

	third := parsed[2].Msg
	if third.ContentType != "image" || third.ContentText != "[Image]" {
		t.Errorf("photo message mis-normalized: type=%q text=%q", third.ContentType, third.ContentText)
	}
	if len(parsed[2].Attachments) != 1 {
		t.Fatalf("expected photo attachment, got %d", len(parsed[2].Attachments))
	}
}

func TestTelegramDoubleImport(t *testing.T) {
	store, err := archive.Open(archive.StoreConfig{Path: filepath.Join(t.TempDir(), "archive.db")})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	path := writeExport(t, "telegram.json", telegramExportJSON)
	ctx := context.Background()
	imp := New(store)

	first, err := imp.ImportFile(ctx, "telegram", path)
	if err != nil {
		t.Fatalf("first import failed: %v", err)
	}
	if first.Inserted != 3 || first.Skipped != 0 {
		t.Errorf("unexpected first import counters: %+v", first)
	}

	second, err := imp.ImportFile(ctx, "telegram", path)
	if err != nil {
		t.Fatalf("second import failed: %v", err)
	}
	if second.Inserted != 0 || second.Skipped != 3 {
		t.Errorf("expected idempotent re-import, got %+v", second)
	}

	// Each import leaves one audit entry
	backfills, err := store.Backfills(ctx)
	if err != nil {
		t.Fatalf("backfills failed: %v", err)
	}
	if len(backfills) == 0 {
		t.Fatal("expected backfill audit records")
	}
	if backfills[0].Source != "telegram" {
		t.Errorf("unexpected backfill source: %q", backfills[0].Source)
	}
}
