package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/roelfdiedericks/clawvault/internal/archive"
	"github.com/roelfdiedericks/clawvault/internal/summarize"
)

func setupScanner(t *testing.T) (*Scanner, *archive.Store, string) {
	t.Helper()
	root := t.TempDir()
	store, err := archive.Open(archive.StoreConfig{Path: filepath.Join(t.TempDir(), "archive.db")})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, root, 100, summarize.Local{}), store, root
}

func writeSessionFile(t *testing.T, root, rel string, lines ...string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

func TestFirstScan(t *testing.T) {
	s, store, root := setupScanner(t)
	ctx := context.Background()

	writeSessionFile(t, root, "agents/main/sessions/AAA.jsonl",
		`{"type":"session","id":"AAA","version":3,"timestamp":"2026-02-13T12:00:00.000Z","cwd":"/x"}`)

	report, err := s.Run(ctx, Options{Mode: ModeEvents})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if report.Events.Inserted != 1 {
		t.Fatalf("expected 1 event inserted, got %+v", report.Events)
	}

	events, err := store.SessionEvents(ctx, "AAA", archive.EventFilter{})
	if err != nil {
		t.Fatalf("session events failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(events))
	}
	ev := events[0]
	if ev.EventID != "AAA" || ev.SessionID != "AAA" || ev.EventType != archive.EventTypeSession {
		t.Errorf("unexpected event row: %+v", ev)
	}
	if ev.SessionKey != "agent:main:main" {
		t.Errorf("unexpected session key: %q", ev.SessionKey)
	}

	wm, err := store.Watermark(ctx, archive.KeyLastEventsScan)
	if err != nil {
		t.Fatalf("watermark read failed: %v", err)
	}
	if wm <= 0 {
		t.Error("expected watermark > 0 after scan")
	}

	// Sessions mode creates the Session row
	if _, err := s.Run(ctx, Options{Mode: ModeSessions}); err != nil {
		t.Fatalf("sessions scan failed: %v", err)
	}
	sess, err := store.GetSession(ctx, "AAA")
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if sess == nil {
		t.Fatal("expected session row after sessions scan")
	}
	if sess.SessionKey != "agent:main:main" || sess.AgentID != "main" {
		t.Errorf("unexpected session row: %+v", sess)
	}
}

func TestScanIdempotence(t *testing.T) {
	s, _, root := setupScanner(t)
	ctx := context.Background()

	writeSessionFile(t, root, "agents/main/sessions/BBB.jsonl",
		`{"type":"session","id":"BBB","version":3,"timestamp":"2026-02-13T12:00:00.000Z","cwd":"/x"}`,
		`{"type":"message","id":"M1","parentId":"BBB","timestamp":"2026-02-13T12:00:01.000Z","message":{"role":"user","content":[{"type":"text","text":"hi"}]}}`,
	)

	first, err := s.Run(ctx, Options{Mode: ModeEvents, Force: true})
	if err != nil {
		t.Fatalf("first scan failed: %v", err)
	}
	if first.Events.Inserted != 2 {
		t.Fatalf("expected 2 inserted, got %+v", first.Events)
	}

	// Second forced scan sees every event again and skips all of them
	second, err := s.Run(ctx, Options{Mode: ModeEvents, Force: true})
	if err != nil {
		t.Fatalf("second scan failed: %v", err)
	}
	if second.Events.Inserted != 0 {
		t.Errorf("expected idempotent re-scan, got %+v", second.Events)
	}
	if second.Events.Skipped < 2 {
		t.Errorf("expected >=2 skipped, got %+v", second.Events)
	}
}

func TestWatermarkMonotonicity(t *testing.T) {
	s, store, root := setupScanner(t)
	ctx := context.Background()

	writeSessionFile(t, root, "agents/main/sessions/CCC.jsonl",
		`{"type":"session","id":"CCC","version":3,"timestamp":"2026-02-13T12:00:00.000Z","cwd":"/x"}`)

	if _, err := s.Run(ctx, Options{Mode: ModeEvents}); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	wm1, _ := store.Watermark(ctx, archive.KeyLastEventsScan)

	if _, err := s.Run(ctx, Options{Mode: ModeEvents}); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	wm2, _ := store.Watermark(ctx, archive.KeyLastEventsScan)

	if wm2 < wm1 {
		t.Errorf("watermark decreased: %d -> %d", wm1, wm2)
	}
}

func TestOrphanChildNormalVsForce(t *testing.T) {
	s, _, root := setupScanner(t)
	ctx := context.Background()

	// A tool result whose parent message never appears in the feed
	writeSessionFile(t, root, "agents/main/sessions/DDD.jsonl",
		`{"type":"session","id":"DDD","version":3,"timestamp":"2026-02-13T12:00:00.000Z","cwd":"/x"}`,
		`{"type":"message","id":"R1","parentId":"GONE","timestamp":"2026-02-13T12:00:05.000Z","message":{"role":"toolResult","toolName":"exec","content":[]}}`,
	)

	report, err := s.Run(ctx, Options{Mode: ModeEvents})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if report.Events.Errors != 1 {
		t.Errorf("expected orphan to count as error under normal scan, got %+v", report.Events)
	}

	report, err = s.Run(ctx, Options{Mode: ModeEvents, Force: true})
	if err != nil {
		t.Fatalf("force scan failed: %v", err)
	}
	if report.Events.Inserted < 1 {
		t.Errorf("expected orphan to insert under force, got %+v", report.Events)
	}
}

func TestMessagesMode(t *testing.T) {
	s, store, root := setupScanner(t)
	ctx := context.Background()

	writeSessionFile(t, root, "agents/main/sessions/EEE.jsonl",
		`{"type":"session","id":"EEE","version":3,"timestamp":"2026-02-13T12:00:00.000Z","cwd":"/x"}`,
		`{"type":"message","id":"M1","parentId":"EEE","timestamp":"2026-02-13T12:00:01.000Z","message":{"role":"user","content":[{"type":"text","text":"what time is it"}]}}`,
		`{"type":"message","id":"M2","parentId":"M1","timestamp":"2026-02-13T12:00:02.000Z","message":{"role":"assistant","content":[{"type":"text","text":"half past nine"}]}}`,
		`{"type":"message","id":"R1","parentId":"M2","timestamp":"2026-02-13T12:00:03.000Z","message":{"role":"toolResult","content":[{"type":"text","text":"ignored"}]}}`,
	)

	report, err := s.Run(ctx, Options{Mode: ModeMessages})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if report.Messages.Inserted != 2 {
		t.Fatalf("expected 2 chat messages, got %+v", report.Messages)
	}

	msgs, err := store.QueryMessages(ctx, archive.MessageFilter{Channel: "openclaw"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(msgs))
	}
	// timestamp DESC: assistant reply first
	if msgs[0].Direction != archive.DirectionOutbound || msgs[1].Direction != archive.DirectionInbound {
		t.Errorf("directions wrong: %+v, %+v", msgs[0].Direction, msgs[1].Direction)
	}
	if msgs[0].SessionKey != "agent:main:main" {
		t.Errorf("unexpected session key: %q", msgs[0].SessionKey)
	}
}

func TestEnumerateSkipsMarkedFiles(t *testing.T) {
	s, _, root := setupScanner(t)

	writeSessionFile(t, root, "agents/main/sessions/live.jsonl", `{"type":"session","id":"L","version":3,"timestamp":"2026-02-13T12:00:00.000Z","cwd":"/x"}`)
	writeSessionFile(t, root, "agents/main/sessions/gone.deleted.jsonl", `{}`)
	writeSessionFile(t, root, "agents/main/sessions/other.txt", `not a log`)
	writeSessionFile(t, root, "stray.jsonl", `{}`)

	files, err := s.enumerate(root)
	if err != nil {
		t.Fatalf("enumerate failed: %v", err)
	}
	if len(files) != 1 || filepath.Base(files[0]) != "live.jsonl" {
		t.Errorf("expected only live.jsonl, got %v", files)
	}
}

func TestSessionKeyForPath(t *testing.T) {
	root := "/state"
	cases := []struct {
		path string
		want string
	}{
		{"/state/agents/main/sessions/x.jsonl", "agent:main:main"},
		{"/state/agents/main/subagent/sessions/x.jsonl", "agent:main:main:subagent"},
		{"/state/agents/research/sessions/y.jsonl", "agent:research:research"},
		{"/state/cron/runs/z.jsonl", "cron:runs"},
	}
	for _, c := range cases {
		if got := SessionKeyForPath(root, c.path); got != c.want {
			t.Errorf("SessionKeyForPath(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}

func TestSessionTypeForPath(t *testing.T) {
	root := "/state"
	if got := SessionTypeForPath(root, "/state/agents/main/sessions/x.jsonl"); got != "main" {
		t.Errorf("expected main, got %q", got)
	}
	if got := SessionTypeForPath(root, "/state/agents/main/subagent/sessions/x.jsonl"); got != "subagent" {
		t.Errorf("expected subagent, got %q", got)
	}
	if got := SessionTypeForPath(root, "/state/cron/runs/x.jsonl"); got != "cron" {
		t.Errorf("expected cron, got %q", got)
	}
}

func TestCancelledScanLeavesWatermark(t *testing.T) {
	s, store, root := setupScanner(t)

	writeSessionFile(t, root, "agents/main/sessions/FFF.jsonl",
		`{"type":"session","id":"FFF","version":3,"timestamp":"2026-02-13T12:00:00.000Z","cwd":"/x"}`)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Run(cancelled, Options{Mode: ModeEvents}); err == nil {
		t.Fatal("expected cancelled scan to return an error")
	}

	wm, err := store.Watermark(context.Background(), archive.KeyLastEventsScan)
	if err != nil {
		t.Fatalf("watermark read failed: %v", err)
	}
	if wm != 0 {
		t.Errorf("cancelled scan must leave the watermark unchanged, got %d", wm)
	}
}
