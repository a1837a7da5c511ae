package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/roelfdiedericks/clawvault/internal/archive"
	"github.com/roelfdiedericks/clawvault/internal/config"
	"github.com/roelfdiedericks/clawvault/internal/importers"
	. "github.com/roelfdiedericks/clawvault/internal/logging"
	"github.com/roelfdiedericks/clawvault/internal/scanner"
	"github.com/roelfdiedericks/clawvault/internal/summarize"
)

// version is set by goreleaser via ldflags: -X main.version=...
var version = "dev"

// CLI defines the command-line interface
type CLI struct {
	Debug  bool   `help:"Enable debug logging" short:"d"`
	Trace  bool   `help:"Enable trace logging" short:"t"`
	Config string `help:"Config file path" short:"c" type:"path"`

	Scan      ScanCmd      `cmd:"" help:"Scan session logs into the archive"`
	Watch     WatchCmd     `cmd:"" help:"Watch session logs and scan on change"`
	Import    ImportCmd    `cmd:"" help:"Import third-party chat exports"`
	Sessions  SessionsCmd  `cmd:"" help:"List, inspect and export sessions"`
	Messages  MessagesCmd  `cmd:"" help:"Query archived messages"`
	Search    SearchCmd    `cmd:"" help:"Full-text search over messages"`
	Backfills BackfillsCmd `cmd:"" help:"Show the backfill audit log"`
	Version   VersionCmd   `cmd:"" help:"Show version"`
}

// Context carries shared state into command Run methods
type Context struct {
	Config *config.Config
}

func (c *Context) openStore() (*archive.Store, error) {
	return archive.Open(archive.StoreConfig{
		Path:        c.Config.Archive.Path,
		BusyTimeout: c.Config.Archive.BusyTimeout,
	})
}

func (c *Context) newScanner(store *archive.Store) *scanner.Scanner {
	var summarizer summarize.Summarizer = summarize.Local{}
	if c.Config.Summarizer.Enabled {
		claude, err := summarize.NewClaude(summarize.ClaudeConfig{
			APIKey:           c.Config.Summarizer.APIKey,
			Model:            c.Config.Summarizer.Model,
			MaxContextTokens: c.Config.Summarizer.MaxContextTokens,
		})
		if err != nil {
			L_warn("summarizer unavailable, using local fallback", "error", err)
		} else {
			summarizer = claude
		}
	}
	return scanner.New(store, c.Config.Scan.Root, c.Config.Scan.BatchSize, summarizer)
}

// signalContext cancels on SIGINT/SIGTERM so scans stop between files.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ScanCmd runs one scan pass
type ScanCmd struct {
	Mode  string `help:"Scan mode: messages|events|sessions|both|all" default:"messages" enum:"messages,events,sessions,both,all"`
	Force bool   `help:"Reset watermark and suspend FK enforcement for backfill"`
	Dir   string `help:"Override scan root" type:"path"`
}

func (s *ScanCmd) Run(ctx *Context) error {
	store, err := ctx.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	runCtx, cancel := signalContext()
	defer cancel()

	report, err := ctx.newScanner(store).Run(runCtx, scanner.Options{
		Mode:  s.Mode,
		Force: s.Force,
		Root:  s.Dir,
	})
	if err != nil {
		return err
	}

	fmt.Printf("scanned %d files (%d skipped)\n", report.FilesScanned, report.FilesSkipped)
	fmt.Printf("messages: %d inserted, %d skipped, %d errors\n",
		report.Messages.Inserted, report.Messages.Skipped, report.Messages.Errors)
	fmt.Printf("events:   %d inserted, %d skipped, %d errors\n",
		report.Events.Inserted, report.Events.Skipped, report.Events.Errors)
	if report.Sessions > 0 {
		fmt.Printf("sessions: %d summarized\n", report.Sessions)
	}
	return nil
}

// WatchCmd scans continuously on file changes
type WatchCmd struct {
	Mode     string `help:"Scan mode per trigger" default:"both" enum:"messages,events,sessions,both,all"`
	Dir      string `help:"Override scan root" type:"path"`
	Schedule string `help:"Cron expression for periodic full scans (e.g. '@hourly')"`
}

func (w *WatchCmd) Run(ctx *Context) error {
	store, err := ctx.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	runCtx, cancel := signalContext()
	defer cancel()

	err = ctx.newScanner(store).Watch(runCtx, scanner.WatchOptions{
		Scan:     scanner.Options{Mode: w.Mode, Root: w.Dir},
		Schedule: w.Schedule,
	})
	if err == context.Canceled {
		return nil
	}
	return err
}

// ImportCmd imports third-party exports
type ImportCmd struct {
	Telegram ImportChannelCmd  `cmd:"" help:"Import a Telegram JSON export"`
	Whatsapp ImportChannelCmd  `cmd:"" help:"Import a WhatsApp text export"`
	Discord  ImportChannelCmd  `cmd:"" help:"Import a Discord JSON export"`
	Sessions ImportSessionsCmd `cmd:"" help:"Bulk-import historical session logs"`
}

// ImportChannelCmd imports one export file
type ImportChannelCmd struct {
	File string `arg:"" help:"Export file path" type:"existingfile"`
}

func (i *ImportChannelCmd) Run(ctx *Context, kctx *kong.Context) error {
	// The selected subcommand names the channel
	channel := kctx.Selected().Name

	store, err := ctx.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	runCtx, cancel := signalContext()
	defer cancel()

	result, err := importers.New(store).ImportFile(runCtx, channel, i.File)
	if err != nil {
		return err
	}

	fmt.Printf("imported %d, skipped %d, errors %d\n", result.Inserted, result.Skipped, result.Errors)
	return nil
}

// ImportSessionsCmd funnels historical session logs through the scanner
// in force mode (watermark ignored, FK suspended per batch).
type ImportSessionsCmd struct {
	Dir string `arg:"" help:"Directory of historical session logs" type:"existingdir"`
}

func (i *ImportSessionsCmd) Run(ctx *Context) error {
	store, err := ctx.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	runCtx, cancel := signalContext()
	defer cancel()

	result, err := importers.ImportSessions(runCtx, store, ctx.newScanner(store), i.Dir)
	if err != nil {
		return err
	}

	fmt.Printf("imported %d, skipped %d, errors %d\n", result.Inserted, result.Skipped, result.Errors)
	return nil
}

// SessionsCmd inspects archived sessions
type SessionsCmd struct {
	List   SessionsListCmd   `cmd:"" default:"withargs" help:"List sessions"`
	Show   SessionsShowCmd   `cmd:"" help:"Show one session with stats"`
	Export SessionsExportCmd `cmd:"" help:"Export a session"`
	Search SessionsSearchCmd `cmd:"" help:"Search session titles and summaries"`
}

type SessionsListCmd struct{}

func (l *SessionsListCmd) Run(ctx *Context) error {
	store, err := ctx.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.ListSessions(context.Background())
	if err != nil {
		return err
	}

	for _, e := range entries {
		start := time.UnixMilli(e.FirstEvent).UTC().Format("2006-01-02 15:04")
		fmt.Printf("%-38s %-28s %s  %d events\n", e.SessionID, e.SessionKey, start, e.EventCount)
	}
	return nil
}

type SessionsShowCmd struct {
	ID string `arg:"" help:"Session id"`
}

func (s *SessionsShowCmd) Run(ctx *Context) error {
	store, err := ctx.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	detail, err := store.GetSessionDetail(context.Background(), s.ID, archive.EventFilter{})
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(detail, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

type SessionsExportCmd struct {
	ID     string `arg:"" help:"Session id"`
	Format string `help:"Export format: json|jsonl|markdown|text|csv" default:"jsonl" enum:"json,jsonl,markdown,text,csv"`
	Out    string `help:"Output file (default stdout)" short:"o" type:"path"`
}

func (e *SessionsExportCmd) Run(ctx *Context) error {
	store, err := ctx.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	out, err := store.ExportSession(context.Background(), e.ID, e.Format)
	if err != nil {
		return err
	}

	if e.Out == "" {
		fmt.Print(out)
		return nil
	}
	return os.WriteFile(e.Out, []byte(out), 0640)
}

type SessionsSearchCmd struct {
	Query string `arg:"" help:"Search query"`
	Limit int    `help:"Max results" default:"20"`
}

func (s *SessionsSearchCmd) Run(ctx *Context) error {
	store, err := ctx.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.SearchSessions(context.Background(), s.Query, s.Limit)
	if err != nil {
		return err
	}

	for _, sess := range sessions {
		fmt.Printf("%-38s %s\n", sess.ID, sess.Title)
	}
	return nil
}

// MessagesCmd queries archived messages
type MessagesCmd struct {
	Session        string `help:"Filter by session key"`
	Channel        string `help:"Filter by channel"`
	Sender         string `help:"Filter by sender id"`
	Match          string `help:"Full-text match expression"`
	IncludeDeleted bool   `help:"Include soft-deleted messages"`
	Limit          int    `help:"Max results" default:"50"`
	Offset         int    `help:"Result offset"`
}

func (m *MessagesCmd) Run(ctx *Context) error {
	store, err := ctx.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	msgs, err := store.QueryMessages(context.Background(), archive.MessageFilter{
		SessionKey:     m.Session,
		Channel:        m.Channel,
		SenderID:       m.Sender,
		ContentMatch:   m.Match,
		IncludeDeleted: m.IncludeDeleted,
		Limit:          m.Limit,
		Offset:         m.Offset,
	})
	if err != nil {
		return err
	}

	printMessages(msgs)
	return nil
}

// SearchCmd is ranked full-text search
type SearchCmd struct {
	Query string `arg:"" help:"Search query"`
	Limit int    `help:"Max results" default:"20"`
}

func (s *SearchCmd) Run(ctx *Context) error {
	store, err := ctx.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	msgs, err := store.SearchMessages(context.Background(), s.Query, s.Limit)
	if err != nil {
		return err
	}

	printMessages(msgs)
	return nil
}

func printMessages(msgs []*archive.Message) {
	for _, m := range msgs {
		when := time.UnixMilli(m.Timestamp).UTC().Format("2006-01-02 15:04")
		sender := m.SenderName
		if sender == "" {
			sender = m.SenderID
		}
		text := m.ContentText
		if len(text) > 120 {
			text = text[:117] + "..."
		}
		fmt.Printf("[%s] %-10s %s: %s\n", when, m.Channel, sender, text)
	}
}

// BackfillsCmd shows the backfill audit log
type BackfillsCmd struct{}

func (b *BackfillsCmd) Run(ctx *Context) error {
	store, err := ctx.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Backfills(context.Background())
	if err != nil {
		return err
	}

	for _, r := range records {
		when := time.UnixMilli(r.At).UTC().Format("2006-01-02 15:04:05")
		fmt.Printf("%s %-10s %-40s inserted=%d skipped=%d errors=%d (%dms)\n",
			when, r.Source, r.Path, r.Inserted, r.Skipped, r.Errors, r.ElapsedMs)
	}
	return nil
}

// VersionCmd prints the version
type VersionCmd struct{}

func (v *VersionCmd) Run(ctx *Context) error {
	fmt.Println("clawvault", version)
	return nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("clawvault"),
		kong.Description("Local conversation-and-event archive for OpenClaw agents"),
		kong.UsageOnError(),
	)

	logCfg := DefaultConfig()
	if cli.Debug {
		logCfg.Level = LevelDebug
	}
	if cli.Trace {
		logCfg.Level = LevelTrace
	}
	Init(logCfg)

	loadResult, err := config.Load(cli.Config)
	if err != nil {
		L_error("config load failed", "error", err)
		os.Exit(1)
	}

	// Fatal errors (cannot open store, cannot read root) exit non-zero;
	// per-file errors are logged and absorbed into counters.
	if err := kctx.Run(&Context{Config: loadResult.Config}); err != nil {
		L_error("command failed", "error", err)
		os.Exit(1)
	}
}
