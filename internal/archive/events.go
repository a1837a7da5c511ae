package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	. "github.com/roelfdiedericks/clawvault/internal/logging"
)

// InsertEvent inserts a single archive event. Satellite rows
// (thinking_blocks, usage_stats) are written in the same transaction.
// Returns (rowID, inserted); a duplicate event_id returns (0, false, nil)
// whether or not opts.SkipIfExists is set.
func (s *Store) InsertEvent(ctx context.Context, ev *Event, sessionKey string, opts EventInsertOptions) (int64, bool, error) {
	result, err := s.InsertEventsBatch(ctx, []*Event{ev}, sessionKey, EventBatchOptions{
		SessionID: ev.SessionID,
		SuspendFK: opts.SuspendFK,
	})
	if err != nil {
		return 0, false, err
	}
	if result.Inserted == 0 {
		if result.Errors > 0 {
			return 0, false, fmt.Errorf("event %s rejected", ev.EventID)
		}
		return 0, false, nil
	}
	return ev.RowID, true, nil
}

// InsertEventsBatch commits events in one transaction, in the order
// supplied - the parser emits parents before synthetic children, so
// intra-batch FK satisfaction holds. Duplicate event ids count as
// Skipped; FK and schema failures count as Errors and the offending row
// is dropped while the batch continues.
//
// opts.SuspendFK disables foreign-key enforcement for this batch only
// (explicit force backfill of historical sessions with incomplete parent
// chains). The pragma is per-connection, so the batch runs on a dedicated
// connection and enforcement is restored before release.
func (s *Store) InsertEventsBatch(ctx context.Context, events []*Event, sessionKey string, opts EventBatchOptions) (BatchResult, error) {
	var result BatchResult
	if len(events) == 0 {
		return result, nil
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return result, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if opts.SuspendFK {
		if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys=OFF"); err != nil {
			return result, fmt.Errorf("suspend foreign keys: %w", err)
		}
		defer func() {
			if _, err := conn.ExecContext(context.Background(), "PRAGMA foreign_keys=ON"); err != nil {
				L_warn("archive: failed to restore foreign keys", "error", err)
			}
		}()
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin event batch: %w", err)
	}
	defer tx.Rollback()

	// Session id comes from the caller, or from the first session event
	// in the batch; it is back-filled onto events the parser left unset.
	sessionID := opts.SessionID
	if sessionID == "" {
		for _, ev := range events {
			if ev.EventType == EventTypeSession {
				sessionID = ev.EventID
				break
			}
		}
	}

	for _, ev := range events {
		if ev.SessionKey == "" {
			ev.SessionKey = sessionKey
		}
		if ev.SessionID == "" {
			ev.SessionID = sessionID
		}
		if ev.CreatedAt == 0 {
			ev.CreatedAt = nowMilli()
		}
		if ev.SizeBytes == 0 {
			ev.SizeBytes = int64(len(ev.RawJSON))
		}

		if ev.EventID == "" || ev.Timestamp == 0 {
			L_warn("archive: structurally invalid event dropped", "id", ev.EventID, "type", ev.EventType)
			result.Errors++
			continue
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO events (event_id, parent_event_id, session_key, session_id,
			                    event_type, event_subtype, timestamp, created_at, raw_json,
			                    role, tool_name, model_provider, model_id, is_error, size_bytes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			ev.EventID, nullString(ev.ParentEventID), ev.SessionKey, nullString(ev.SessionID),
			string(ev.EventType), nullString(ev.EventSubtype), ev.Timestamp, ev.CreatedAt, string(ev.RawJSON),
			nullString(ev.Role), nullString(ev.ToolName), nullString(ev.ModelProvider),
			nullString(ev.ModelID), ev.IsError, ev.SizeBytes,
		)
		if err != nil {
			if isUniqueViolation(err) {
				result.Skipped++
				continue
			}
			// FK failures and the like: drop the row, keep the batch alive
			L_debug("archive: event dropped from batch", "id", ev.EventID, "error", err)
			result.Errors++
			continue
		}
		ev.RowID, _ = res.LastInsertId()
		result.Inserted++

		switch ev.EventType {
		case EventTypeThinkingBlock:
			if err := insertThinkingBlock(ctx, tx, ev); err != nil {
				L_warn("archive: thinking block satellite failed", "id", ev.EventID, "error", err)
				result.Errors++
			}
		case EventTypeUsageStats:
			if err := insertUsageStats(ctx, tx, ev); err != nil {
				L_warn("archive: usage stats satellite failed", "id", ev.EventID, "error", err)
				result.Errors++
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return BatchResult{}, fmt.Errorf("commit event batch: %w", err)
	}

	L_debug("archive: event batch committed", "session", sessionID,
		"inserted", result.Inserted, "skipped", result.Skipped, "errors", result.Errors)
	return result, nil
}

func insertThinkingBlock(ctx context.Context, tx *sql.Tx, ev *Event) error {
	tb := ev.Thinking
	if tb == nil {
		tb = &ThinkingBlock{}
	}
	size := tb.ContentSize
	if size == 0 {
		size = int64(len(tb.Content))
	}
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO thinking_blocks (event_id, content, signature, content_size, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.EventID, tb.Content, nullString(tb.Signature), size, nowMilli())
	return err
}

func insertUsageStats(ctx context.Context, tx *sql.Tx, ev *Event) error {
	u := ev.Usage
	if u == nil {
		u = &UsageStats{}
	}
	ts := u.Timestamp
	if ts == 0 {
		ts = ev.Timestamp
	}
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO usage_stats (event_id,
			input_tokens, output_tokens, cache_read_tokens, cache_write_tokens, total_tokens,
			input_cost, output_cost, cache_read_cost, cache_write_cost, total_cost,
			model_provider, model_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.EventID,
		u.InputTokens, u.OutputTokens, u.CacheReadTokens, u.CacheWriteToken, u.TotalTokens,
		u.InputCost, u.OutputCost, u.CacheReadCost, u.CacheWriteCost, u.TotalCost,
		nullString(u.ModelProvider), nullString(u.ModelID), ts)
	return err
}

func isUniqueViolation(err error) bool {
	if sqliteErr, ok := err.(sqlite3.Error); ok {
		return sqliteErr.Code == sqlite3.ErrConstraint &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
				sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}
	return false
}

const eventColumns = `
	e.id, e.event_id, e.parent_event_id, e.session_key, e.session_id,
	e.event_type, e.event_subtype, e.timestamp, e.created_at, e.raw_json,
	e.role, e.tool_name, e.model_provider, e.model_id, e.is_error, e.size_bytes`

// SessionEvents returns a session's events in timestamp order. Thinking
// and usage satellites are joined in only on request - their payloads are
// large and rarely needed in listing paths.
func (s *Store) SessionEvents(ctx context.Context, sessionID string, filter EventFilter) ([]*Event, error) {
	conditions := []string{"e.session_id = ?"}
	args := []interface{}{sessionID}

	if filter.StartTime > 0 {
		conditions = append(conditions, "e.timestamp >= ?")
		args = append(args, filter.StartTime)
	}
	if filter.EndTime > 0 {
		conditions = append(conditions, "e.timestamp <= ?")
		args = append(args, filter.EndTime)
	}
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		conditions = append(conditions, fmt.Sprintf("e.event_type IN (%s)", strings.Join(placeholders, ",")))
	}

	query := fmt.Sprintf(`
		SELECT %s FROM events e WHERE %s ORDER BY e.timestamp ASC, e.id ASC
	`, eventColumns, strings.Join(conditions, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("session events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	if filter.IncludeThinking || filter.IncludeUsage {
		for _, ev := range events {
			if filter.IncludeThinking && ev.EventType == EventTypeThinkingBlock {
				if err := s.loadThinkingBlock(ctx, ev); err != nil {
					L_warn("archive: failed to load thinking block", "id", ev.EventID, "error", err)
				}
			}
			if filter.IncludeUsage && ev.EventType == EventTypeUsageStats {
				if err := s.loadUsageStats(ctx, ev); err != nil {
					L_warn("archive: failed to load usage stats", "id", ev.EventID, "error", err)
				}
			}
		}
	}

	return events, nil
}

// GetEvent returns one event by id, or nil.
func (s *Store) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	query := fmt.Sprintf("SELECT %s FROM events e WHERE e.event_id = ?", eventColumns)
	rows, err := s.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil || len(events) == 0 {
		return nil, err
	}
	return events[0], nil
}

func (s *Store) loadThinkingBlock(ctx context.Context, ev *Event) error {
	var tb ThinkingBlock
	var signature sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT event_id, content, signature, content_size, created_at
		FROM thinking_blocks WHERE event_id = ?
	`, ev.EventID).Scan(&tb.EventID, &tb.Content, &signature, &tb.ContentSize, &tb.CreatedAt)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	tb.Signature = signature.String
	ev.Thinking = &tb
	return nil
}

func (s *Store) loadUsageStats(ctx context.Context, ev *Event) error {
	var u UsageStats
	var provider, model sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT event_id, input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
		       total_tokens, input_cost, output_cost, cache_read_cost, cache_write_cost,
		       total_cost, model_provider, model_id, timestamp
		FROM usage_stats WHERE event_id = ?
	`, ev.EventID).Scan(&u.EventID, &u.InputTokens, &u.OutputTokens, &u.CacheReadTokens,
		&u.CacheWriteToken, &u.TotalTokens, &u.InputCost, &u.OutputCost,
		&u.CacheReadCost, &u.CacheWriteCost, &u.TotalCost, &provider, &model, &u.Timestamp)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	u.ModelProvider = provider.String
	u.ModelID = model.String
	ev.Usage = &u
	return nil
}

// SessionStats aggregates event statistics for one session.
func (s *Store) SessionStats(ctx context.Context, sessionID string) (*SessionStats, error) {
	var stats SessionStats
	var start, end sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN event_type = 'message' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN event_type = 'tool_call' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN is_error THEN 1 ELSE 0 END), 0),
		       MIN(timestamp), MAX(timestamp),
		       COALESCE(SUM(size_bytes), 0)
		FROM events WHERE session_id = ?
	`, sessionID).Scan(&stats.TotalEvents, &stats.MessageCount, &stats.ToolCallCount,
		&stats.ErrorCount, &start, &end, &stats.TotalSizeBytes)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}

	stats.StartTime = start.Int64
	stats.EndTime = end.Int64
	if stats.EndTime > stats.StartTime {
		stats.DurationSeconds = float64(stats.EndTime-stats.StartTime) / 1000.0
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(u.total_tokens), 0), COALESCE(SUM(u.total_cost), 0)
		FROM usage_stats u
		JOIN events e ON e.event_id = u.event_id
		WHERE e.session_id = ?
	`, sessionID).Scan(&stats.TotalTokens, &stats.TotalCost)
	if err != nil {
		return nil, fmt.Errorf("session usage totals: %w", err)
	}

	return &stats, nil
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		var ev Event
		var eventType string
		var parentID, sessionID, subtype, role, toolName, provider, model sql.NullString
		var rawJSON string

		if err := rows.Scan(
			&ev.RowID, &ev.EventID, &parentID, &ev.SessionKey, &sessionID,
			&eventType, &subtype, &ev.Timestamp, &ev.CreatedAt, &rawJSON,
			&role, &toolName, &provider, &model, &ev.IsError, &ev.SizeBytes,
		); err != nil {
			return nil, err
		}

		ev.EventType = EventType(eventType)
		ev.ParentEventID = parentID.String
		ev.SessionID = sessionID.String
		ev.EventSubtype = subtype.String
		ev.RawJSON = []byte(rawJSON)
		ev.Role = role.String
		ev.ToolName = toolName.String
		ev.ModelProvider = provider.String
		ev.ModelID = model.String

		events = append(events, &ev)
	}
	return events, rows.Err()
}
