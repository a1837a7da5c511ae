package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	. "github.com/roelfdiedericks/clawvault/internal/logging"
)

// Reserved scanner-state keys
const (
	KeyLastScan         = "last_scan_timestamp"
	KeyLastEventsScan   = "last_events_scan_timestamp"
	KeyLastSessionsScan = "last_sessions_scan_timestamp"
)

// Checkpoint reads a scanner-state entry. Returns ("", false) when the
// key has never been set.
func (s *Store) Checkpoint(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM scanner_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read checkpoint %s: %w", key, err)
	}
	return value, true, nil
}

// SetCheckpoint writes a scanner-state entry.
func (s *Store) SetCheckpoint(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scanner_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, nowMilli())
	if err != nil {
		return fmt.Errorf("set checkpoint %s: %w", key, err)
	}
	L_trace("archive: checkpoint set", "key", key, "value", value)
	return nil
}

// Watermark reads a timestamp checkpoint, defaulting to 0.
func (s *Store) Watermark(ctx context.Context, key string) (int64, error) {
	value, ok, err := s.Checkpoint(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		L_warn("archive: malformed watermark, treating as zero", "key", key, "value", value)
		return 0, nil
	}
	return ts, nil
}

// SetWatermark writes a timestamp checkpoint.
func (s *Store) SetWatermark(ctx context.Context, key string, ts int64) error {
	return s.SetCheckpoint(ctx, key, strconv.FormatInt(ts, 10))
}

// BackfillRecord is one entry in the rolling backfill audit log.
type BackfillRecord struct {
	Source    string `json:"source"`
	Path      string `json:"path"`
	Inserted  int    `json:"inserted"`
	Skipped   int    `json:"skipped"`
	Errors    int    `json:"errors,omitempty"`
	ElapsedMs int64  `json:"elapsedMs"`
	At        int64  `json:"at"`
}

// RecordBackfill appends a backfill audit entry under
// backfill_<source>_<unix-ms>.
func (s *Store) RecordBackfill(ctx context.Context, rec BackfillRecord) error {
	if rec.At == 0 {
		rec.At = nowMilli()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal backfill record: %w", err)
	}
	key := fmt.Sprintf("backfill_%s_%d", rec.Source, rec.At)
	return s.SetCheckpoint(ctx, key, string(data))
}

// Backfills returns the audit log, newest first.
func (s *Store) Backfills(ctx context.Context) ([]BackfillRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT value FROM scanner_state
		WHERE key LIKE 'backfill_%'
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list backfills: %w", err)
	}
	defer rows.Close()

	var records []BackfillRecord
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		var rec BackfillRecord
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			L_warn("archive: malformed backfill record skipped", "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
