package scanner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	cronlib "github.com/robfig/cron/v3"

	. "github.com/roelfdiedericks/clawvault/internal/logging"
)

// WatchOptions configures the watch runtime.
type WatchOptions struct {
	Scan     Options
	Debounce time.Duration // quiet period after a file event (default 5s)
	Schedule string        // optional cron expression for periodic full scans
}

// Watch runs scans whenever session files change, debounced, with an
// optional cron schedule for periodic full passes. It blocks until the
// context is cancelled. This is scheduling glue only - all ingest
// semantics live in Run.
func (s *Scanner) Watch(ctx context.Context, opts WatchOptions) error {
	if opts.Debounce <= 0 {
		opts.Debounce = 5 * time.Second
	}
	root := opts.Scan.Root
	if root == "" {
		root = s.root
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addWatchDirs(watcher, root); err != nil {
		return err
	}

	trigger := make(chan struct{}, 1)
	requestScan := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	var c *cronlib.Cron
	if opts.Schedule != "" {
		c = cronlib.New()
		if _, err := c.AddFunc(opts.Schedule, requestScan); err != nil {
			return err
		}
		c.Start()
		defer c.Stop()
		L_info("watch: schedule registered", "schedule", opts.Schedule)
	}

	L_info("watch: started", "root", root, "debounce", opts.Debounce.String())

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			L_info("watch: stopping")
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// New session directories need watching too
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addWatchDirs(watcher, ev.Name); err != nil {
						L_warn("watch: failed to watch new directory", "path", ev.Name, "error", err)
					}
				}
			}
			if !strings.HasSuffix(ev.Name, ".jsonl") {
				continue
			}
			// Debounce: restart the quiet-period timer
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(opts.Debounce)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			requestScan()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			L_warn("watch: watcher error", "error", err)

		case <-trigger:
			if _, err := s.Run(ctx, opts.Scan); err != nil && ctx.Err() == nil {
				L_error("watch: scan failed", "error", err)
			}
		}
	}
}

// addWatchDirs registers the directory tree rooted at dir.
func addWatchDirs(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == "archive" {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			L_trace("watch: cannot watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
