package importers

import (
	"context"
	"time"

	"github.com/roelfdiedericks/clawvault/internal/archive"
	. "github.com/roelfdiedericks/clawvault/internal/logging"
	"github.com/roelfdiedericks/clawvault/internal/scanner"
)

// ImportSessions bulk-imports historical session logs by funnelling a
// directory tree through the scanner path in force mode: the watermark
// is ignored and FK enforcement is suspended per batch, so incomplete
// parent chains from partial history still land.
func ImportSessions(ctx context.Context, store *archive.Store, s *scanner.Scanner, dir string) (archive.BatchResult, error) {
	start := time.Now()

	report, err := s.Run(ctx, scanner.Options{
		Mode:  scanner.ModeAll,
		Force: true,
		Root:  dir,
	})
	if err != nil {
		return archive.BatchResult{}, err
	}

	result := report.Events
	result.Add(report.Messages)

	if err := store.RecordBackfill(ctx, archive.BackfillRecord{
		Source:    "sessions",
		Path:      dir,
		Inserted:  result.Inserted,
		Skipped:   result.Skipped,
		Errors:    result.Errors,
		ElapsedMs: time.Since(start).Milliseconds(),
	}); err != nil {
		L_warn("import: failed to record backfill entry", "source", "sessions", "error", err)
	}

	return result, nil
}
