// Package scanner discovers session event logs under the state root and
// replays them into the archive with checkpoints and duplicate elision.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/clawvault/internal/archive"
	"github.com/roelfdiedericks/clawvault/internal/eventlog"
	. "github.com/roelfdiedericks/clawvault/internal/logging"
	"github.com/roelfdiedericks/clawvault/internal/summarize"
)

// Scan modes
const (
	ModeMessages = "messages"
	ModeEvents   = "events"
	ModeSessions = "sessions"
	ModeBoth     = "both" // messages + events
	ModeAll      = "all"  // messages + events + sessions
)

// Options configures one scan run.
type Options struct {
	Mode  string // messages|events|sessions|both|all (default messages)
	Force bool   // zero the watermark and suspend FK per batch
	Root  string // state root override
}

// Report aggregates counters across a run.
type Report struct {
	RunID        string              `json:"runId"`
	FilesScanned int                 `json:"filesScanned"`
	FilesSkipped int                 `json:"filesSkipped"`
	Messages     archive.BatchResult `json:"messages"`
	Events       archive.BatchResult `json:"events"`
	Sessions     int                 `json:"sessions"`
}

// Scanner is the ingest executive.
type Scanner struct {
	store      *archive.Store
	root       string
	batchSize  int
	summarizer summarize.Summarizer
}

// New creates a Scanner over the given state root.
func New(store *archive.Store, root string, batchSize int, summarizer summarize.Summarizer) *Scanner {
	if batchSize <= 0 {
		batchSize = 500
	}
	if summarizer == nil {
		summarizer = summarize.Local{}
	}
	return &Scanner{store: store, root: root, batchSize: batchSize, summarizer: summarizer}
}

// Run executes one scan. Modes may be combined (both = messages+events,
// all adds sessions). The run is interruptible between files; a partial
// run leaves watermarks untouched so the next scan re-covers the same
// window (re-ingest is cheap because of deduplication).
func (s *Scanner) Run(ctx context.Context, opts Options) (*Report, error) {
	mode := opts.Mode
	if mode == "" {
		mode = ModeMessages
	}
	root := opts.Root
	if root == "" {
		root = s.root
	}

	doMessages := mode == ModeMessages || mode == ModeBoth || mode == ModeAll
	doEvents := mode == ModeEvents || mode == ModeBoth || mode == ModeAll
	doSessions := mode == ModeSessions || mode == ModeAll
	if !doMessages && !doEvents && !doSessions {
		return nil, fmt.Errorf("unknown scan mode: %s", mode)
	}

	files, err := s.enumerate(root)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	report := &Report{RunID: uuid.NewString()}

	L_info("scan: starting", "run", report.RunID, "mode", mode, "force", opts.Force, "root", root, "files", len(files))

	if doMessages {
		if err := s.scanPass(ctx, files, root, archive.KeyLastScan, opts.Force, report, s.ingestMessages); err != nil {
			return report, err
		}
	}
	if doEvents {
		if err := s.scanPass(ctx, files, root, archive.KeyLastEventsScan, opts.Force, report, s.ingestEvents(opts.Force)); err != nil {
			return report, err
		}
	}
	if doSessions {
		if err := s.scanSessions(ctx, files, root, opts.Force, report); err != nil {
			return report, err
		}
	}

	L_elapsed(start, "scan: completed",
		"files", report.FilesScanned,
		"messagesInserted", report.Messages.Inserted,
		"eventsInserted", report.Events.Inserted,
		"skipped", report.Messages.Skipped+report.Events.Skipped,
		"errors", report.Messages.Errors+report.Events.Errors,
		"sessions", report.Sessions)
	return report, nil
}

// ingestFunc commits one file's worth of parsed events for a pass.
type ingestFunc func(ctx context.Context, file string, root string, watermark int64, report *Report) error

// scanPass runs one watermarked pass over every file. The watermark is
// advanced to the run's start wall-clock only after every file committed
// - per-file maxima would not be monotonic across files.
func (s *Scanner) scanPass(ctx context.Context, files []string, root, watermarkKey string, force bool, report *Report, ingest ingestFunc) error {
	watermark := int64(0)
	if !force {
		var err error
		watermark, err = s.store.Watermark(ctx, watermarkKey)
		if err != nil {
			return err
		}
	}

	runStart := time.Now().UnixMilli()

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			L_warn("scan: cancelled, watermark unchanged", "key", watermarkKey)
			return err
		}

		if err := ingest(ctx, file, root, watermark, report); err != nil {
			// Per-file failures don't fail the run
			L_warn("scan: file skipped", "file", filepath.Base(file), "error", err)
			report.FilesSkipped++
			continue
		}
		report.FilesScanned++
	}

	return s.store.SetWatermark(ctx, watermarkKey, runStart)
}

// ingestEvents commits a file's archive events in source-order batches.
// Force suspends FK enforcement per batch for out-of-order historical
// backfill; normal scans keep it on.
func (s *Scanner) ingestEvents(force bool) ingestFunc {
	return func(ctx context.Context, file, root string, watermark int64, report *Report) error {
		sessionKey := SessionKeyForPath(root, file)
		sessionID := sessionIDForFile(file)

		parser := eventlog.NewParser(file)
		batch := make([]*archive.Event, 0, s.batchSize)

		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			result, err := s.store.InsertEventsBatch(ctx, batch, sessionKey, archive.EventBatchOptions{
				SessionID: sessionID,
				SuspendFK: force,
			})
			if err != nil {
				return err
			}
			report.Events.Add(result)
			batch = batch[:0]
			return nil
		}

		err := parser.Parse(watermark, func(ev *archive.Event) error {
			batch = append(batch, ev)
			if len(batch) >= s.batchSize {
				return flush()
			}
			return nil
		})
		if err != nil {
			return err
		}
		return flush()
	}
}

// ingestMessages lifts user/assistant chat messages out of the event
// stream into the messages table under the openclaw channel.
func (s *Scanner) ingestMessages(ctx context.Context, file, root string, watermark int64, report *Report) error {
	sessionKey := SessionKeyForPath(root, file)
	sessionID := sessionIDForFile(file)
	agentID := AgentIDForPath(root, file)

	parser := eventlog.NewParser(file)
	var msgs []*archive.Message

	err := parser.Parse(watermark, func(ev *archive.Event) error {
		if ev.EventType != archive.EventTypeMessage {
			return nil
		}
		if ev.Role != "user" && ev.Role != "assistant" {
			return nil
		}

		text := eventlog.TextContent(ev.RawJSON)
		if text == "" {
			return nil
		}

		direction := archive.DirectionInbound
		sender := "user"
		if ev.Role == "assistant" {
			direction = archive.DirectionOutbound
			sender = agentID
			if sender == "" {
				sender = "assistant"
			}
		}

		msgs = append(msgs, &archive.Message{
			MessageID:   "openclaw_" + ev.EventID,
			InternalID:  ev.EventID,
			SessionKey:  sessionKey,
			SessionID:   sessionID,
			Direction:   direction,
			SenderID:    sender,
			Channel:     "openclaw",
			ContentType: "text",
			ContentText: text,
			RawJSON:     string(ev.RawJSON),
			Timestamp:   ev.Timestamp,
		})
		return nil
	})
	if err != nil {
		return err
	}

	if len(msgs) == 0 {
		return nil
	}

	result, err := s.store.InsertMessagesBatch(ctx, msgs)
	if err != nil {
		return err
	}
	report.Messages.Add(result)
	return nil
}

// scanSessions derives session metadata per file and upserts Session
// rows, asking the summarizer for a title and summary. Summarizer
// failures fall back to a deterministic local label and never abort the
// scan.
func (s *Scanner) scanSessions(ctx context.Context, files []string, root string, force bool, report *Report) error {
	watermark := int64(0)
	if !force {
		var err error
		watermark, err = s.store.Watermark(ctx, archive.KeyLastSessionsScan)
		if err != nil {
			return err
		}
	}

	runStart := time.Now().UnixMilli()

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Metadata needs the whole file, so the watermark only gates
		// which files are re-summarized, via their event stream.
		parser := eventlog.NewParser(file)
		events, err := parser.ParseAll(0)
		if err != nil {
			L_warn("scan: session file skipped", "file", filepath.Base(file), "error", err)
			report.FilesSkipped++
			continue
		}
		if len(events) == 0 {
			continue
		}

		meta := eventlog.Meta(events)
		if meta.LastTimestamp <= watermark {
			continue
		}

		sessionID := sessionIDForFile(file)
		if meta.SessionID != "" {
			sessionID = meta.SessionID
		}

		sess := &archive.Session{
			ID:           sessionID,
			SessionKey:   SessionKeyForPath(root, file),
			SessionType:  SessionTypeForPath(root, file),
			AgentID:      AgentIDForPath(root, file),
			Model:        meta.Model,
			StartedAt:    meta.FirstTimestamp,
			EndedAt:      meta.LastTimestamp,
			Status:       sessionStatus(file, meta),
			MessageCount: int64(meta.MessageCount),
			EventCount:   int64(meta.EventCount),
		}

		title, summary := s.summarizeSession(ctx, meta, events)
		sess.Title = title
		sess.Summary = summary

		if _, err := s.store.UpsertSession(ctx, sess); err != nil {
			L_warn("scan: session upsert failed", "id", sessionID, "error", err)
			continue
		}
		report.Sessions++
	}

	return s.store.SetWatermark(ctx, archive.KeyLastSessionsScan, runStart)
}

// summarizeSession renders a transcript and calls the summarizer,
// falling back to the deterministic local strategy on any error.
func (s *Scanner) summarizeSession(ctx context.Context, meta eventlog.SessionMeta, events []*archive.Event) (string, string) {
	transcript := eventlog.Transcript(events)
	m := summarize.SessionMeta{
		SessionID:     meta.SessionID,
		EventCount:    meta.EventCount,
		MessageCount:  meta.MessageCount,
		ToolCallCount: meta.ToolCallCount,
		ErrorCount:    meta.ErrorCount,
		StartedAt:     meta.FirstTimestamp,
		EndedAt:       meta.LastTimestamp,
		Model:         meta.Model,
	}

	title, summary, err := s.summarizer.Summarize(ctx, m, transcript)
	if err != nil {
		L_debug("scan: summarizer failed, using local fallback", "session", meta.SessionID, "error", err)
		title, summary, _ = summarize.Local{}.Summarize(ctx, m, transcript)
	}
	return title, summary
}

// sessionStatus classifies a session from its file markers and errors.
func sessionStatus(file string, meta eventlog.SessionMeta) string {
	if strings.Contains(filepath.Base(file), ".deleted.") {
		return archive.SessionStatusCompleted
	}
	if meta.ErrorCount > 0 {
		return archive.SessionStatusFailed
	}
	if fileExists(file + ".lock") {
		return archive.SessionStatusActive
	}
	return archive.SessionStatusCompleted
}

// enumerate collects *.jsonl session files under the root, skipping lock
// files and files marked deleted. Only total failure to read the root is
// fatal.
func (s *Scanner) enumerate(root string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			L_trace("scan: unreadable path skipped", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			// The archive itself lives under the state root
			if d.Name() == "archive" {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			return nil
		}
		if strings.Contains(name, ".deleted.") {
			return nil
		}
		if !underSessionDir(root, path) {
			return nil
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot read scan root %s: %w", root, err)
	}

	sort.Strings(files)
	L_debug("scan: enumerated", "root", root, "files", len(files))
	return files, nil
}

// underSessionDir reports whether a file lives in a recognized session
// tree (agents/*/sessions, agents/*/subagent/sessions, cron/runs).
func underSessionDir(root, path string) bool {
	rel, err := filepath.Rel(root, filepath.Dir(path))
	if err != nil {
		return false
	}
	segments := strings.Split(filepath.ToSlash(rel), "/")
	if containsSegment(segments, "sessions") {
		return true
	}
	return len(segments) >= 2 && segments[0] == "cron" && segments[1] == "runs"
}

// sessionIDForFile takes the file basename (without extension) as the
// session identifier.
func sessionIDForFile(file string) string {
	return strings.TrimSuffix(filepath.Base(file), ".jsonl")
}
