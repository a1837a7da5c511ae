package importers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/roelfdiedericks/clawvault/internal/archive"
)

func writeExport(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write export: %v", err)
	}
	return path
}

func TestWhatsAppTwoFormats(t *testing.T) {
	path := writeExport(t, "chat.txt",
		"12/31/23, 10:30 PM - Alice: Hi\n"+
			"[31/12/23, 22:31:00] Bob: Hello\n")

	parsed, err := ParseWhatsAppFile(path)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(parsed))
	}

	alice := parsed[0].Msg
	bob := parsed[1].Msg

	if alice.SenderName != "Alice" || bob.SenderName != "Bob" {
		t.Errorf("sender names wrong: %q, %q", alice.SenderName, bob.SenderName)
	}
	if alice.Channel != "whatsapp" || bob.Channel != "whatsapp" {
		t.Error("channel must be whatsapp")
	}
	if bob.Timestamp <= alice.Timestamp {
		t.Errorf("timestamps not increasing: %d then %d", alice.Timestamp, bob.Timestamp)
	}
	if alice.SessionKey != "imported:whatsapp:export" {
		t.Errorf("unexpected session key: %q", alice.SessionKey)
	}
}

func TestWhatsAppContinuationLines(t *testing.T) {
	path := writeExport(t, "chat.txt",
		"12/31/23, 10:30 PM - Alice: first line\n"+
			"second line\n"+
			"third line\n"+
			"12/31/23, 10:31 PM - Bob: reply\n")

	parsed, err := ParseWhatsAppFile(path)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(parsed))
	}

	if parsed[0].Msg.ContentText != "first line\nsecond line\nthird line" {
		t.Errorf("continuation lines not joined: %q", parsed[0].Msg.ContentText)
	}
}

func TestWhatsAppDirectionAndMedia(t *testing.T) {
	path := writeExport(t, "chat.txt",
		"12/31/23, 10:30 PM - You: on my way\n"+
			"12/31/23, 10:32 PM - Alice: <Media omitted>\n")

	parsed, err := ParseWhatsAppFile(path)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(parsed))
	}

	if parsed[0].Msg.Direction != archive.DirectionOutbound {
		t.Error("'You' messages must be outbound")
	}
	if parsed[1].Msg.Direction != archive.DirectionInbound {
		t.Error("other senders must be inbound")
	}
	if parsed[1].Msg.ContentType != "document" {
		t.Errorf("media placeholder should set content type, got %q", parsed[1].Msg.ContentType)
	}
}

func TestWhatsAppAMPMParsing(t *testing.T) {
	path := writeExport(t, "chat.txt",
		"1/1/24, 12:05 AM - Alice: past midnight\n"+
			"1/1/24, 12:05 PM - Alice: lunchtime\n")

	parsed, err := ParseWhatsAppFile(path)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(parsed))
	}

	diff := parsed[1].Msg.Timestamp - parsed[0].Msg.Timestamp
	if diff != 12*3600*1000 {
		t.Errorf("expected 12h between 12:05 AM and PM, got %dms", diff)
	}
}

func TestWhatsAppDeterministicIDs(t *testing.T) {
	content := "12/31/23, 10:30 PM - Alice: Hi\n"
	path1 := writeExport(t, "a.txt", content)
	path2 := writeExport(t, "b.txt", content)

	p1, err := ParseWhatsAppFile(path1)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	p2, err := ParseWhatsAppFile(path2)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if p1[0].Msg.MessageID != p2[0].Msg.MessageID {
		t.Errorf("ids must be deterministic: %q vs %q", p1[0].Msg.MessageID, p2[0].Msg.MessageID)
	}
}
