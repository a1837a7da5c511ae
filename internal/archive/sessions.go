package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	. "github.com/roelfdiedericks/clawvault/internal/logging"
)

// UpsertSession inserts or updates a session row keyed by id.
// Returns true when a new row was inserted.
func (s *Store) UpsertSession(ctx context.Context, sess *Session) (bool, error) {
	now := nowMilli()
	if sess.CreatedAt == 0 {
		sess.CreatedAt = now
	}
	if sess.SessionType == "" {
		sess.SessionType = SessionTypeMain
	}
	if sess.Status == "" {
		sess.Status = SessionStatusActive
	}

	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM sessions WHERE id = ?", sess.ID).Scan(&exists)
	inserted := err == sql.ErrNoRows
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("session lookup: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, session_key, session_type, parent_session_id, label,
		                      agent_id, model, started_at, ended_at, status, title, summary,
		                      message_count, event_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_key = excluded.session_key,
			session_type = excluded.session_type,
			parent_session_id = excluded.parent_session_id,
			label = COALESCE(excluded.label, sessions.label),
			agent_id = COALESCE(excluded.agent_id, sessions.agent_id),
			model = COALESCE(excluded.model, sessions.model),
			started_at = excluded.started_at,
			ended_at = COALESCE(excluded.ended_at, sessions.ended_at),
			status = excluded.status,
			title = COALESCE(excluded.title, sessions.title),
			summary = COALESCE(excluded.summary, sessions.summary),
			message_count = excluded.message_count,
			event_count = excluded.event_count,
			updated_at = excluded.updated_at
	`,
		sess.ID, sess.SessionKey, sess.SessionType, nullString(sess.ParentSessionID),
		nullString(sess.Label), nullString(sess.AgentID), nullString(sess.Model),
		sess.StartedAt, nullInt64(sess.EndedAt), sess.Status,
		nullString(sess.Title), nullString(sess.Summary),
		sess.MessageCount, sess.EventCount, sess.CreatedAt, now,
	)
	if err != nil {
		return false, fmt.Errorf("upsert session: %w", err)
	}

	L_trace("archive: session upserted", "id", sess.ID, "inserted", inserted)
	return inserted, nil
}

const sessionColumns = `
	id, session_key, session_type, parent_session_id, label, agent_id, model,
	started_at, ended_at, status, title, summary,
	message_count, event_count, created_at, updated_at`

// GetSession returns one session row, or nil.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	query := fmt.Sprintf("SELECT %s FROM sessions WHERE id = ?", sessionColumns)
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions, err := scanSessions(rows)
	if err != nil || len(sessions) == 0 {
		return nil, err
	}
	return sessions[0], nil
}

// QuerySessions returns session rows matching the filter, newest first.
func (s *Store) QuerySessions(ctx context.Context, filter SessionFilter) ([]*Session, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.SessionType != "" {
		conditions = append(conditions, "session_type = ?")
		args = append(args, filter.SessionType)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, filter.AgentID)
	}

	query := fmt.Sprintf("SELECT %s FROM sessions WHERE %s ORDER BY started_at DESC",
		sessionColumns, strings.Join(conditions, " AND "))
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// SearchSessions returns up to limit of the best bm25-ranked full-text
// matches over titles and summaries, ordered newest first (started_at DESC).
func (s *Store) SearchSessions(ctx context.Context, match string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 20
	}

	ftsQuery := BuildFTSQuery(match)
	if ftsQuery == "" {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM sessions
		WHERE id IN (SELECT id FROM sessions_fts WHERE sessions_fts MATCH ? ORDER BY bm25(sessions_fts) LIMIT ?)
		ORDER BY started_at DESC
	`, sessionColumns)

	rows, err := s.db.QueryContext(ctx, query, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("search sessions: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// ListSessions derives a session listing from the events table: one row
// per session id/key with min/max timestamp and event count. Works even
// before any sessions-mode scan has populated the sessions table.
func (s *Store) ListSessions(ctx context.Context) ([]SessionListEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, session_key, MIN(timestamp), MAX(timestamp), COUNT(*)
		FROM events
		WHERE session_id IS NOT NULL
		GROUP BY session_id, session_key
		ORDER BY MAX(timestamp) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var entries []SessionListEntry
	for rows.Next() {
		var e SessionListEntry
		if err := rows.Scan(&e.SessionID, &e.SessionKey, &e.FirstEvent, &e.LastEvent, &e.EventCount); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SessionDetail bundles the session row, computed stats and events.
type SessionDetail struct {
	Session *Session      `json:"session,omitempty"`
	Stats   *SessionStats `json:"stats"`
	Events  []*Event      `json:"events"`
}

// GetSessionDetail returns the session row (if any) plus computed stats
// and the event stream.
func (s *Store) GetSessionDetail(ctx context.Context, sessionID string, filter EventFilter) (*SessionDetail, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	stats, err := s.SessionStats(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	events, err := s.SessionEvents(ctx, sessionID, filter)
	if err != nil {
		return nil, err
	}

	return &SessionDetail{Session: sess, Stats: stats, Events: events}, nil
}

// RefreshSessionCounts recomputes the denormalized message_count and
// event_count for a session from the events table. The aggregates remain
// the source of truth; this just catches the summary row up.
func (s *Store) RefreshSessionCounts(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			event_count = (SELECT COUNT(*) FROM events WHERE session_id = ?),
			message_count = (SELECT COUNT(*) FROM events WHERE session_id = ? AND event_type = 'message'),
			updated_at = ?
		WHERE id = ?
	`, sessionID, sessionID, nowMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("refresh session counts: %w", err)
	}
	return nil
}

func scanSessions(rows *sql.Rows) ([]*Session, error) {
	var sessions []*Session
	for rows.Next() {
		var sess Session
		var parentID, label, agentID, model, title, summary sql.NullString
		var endedAt sql.NullInt64

		if err := rows.Scan(
			&sess.ID, &sess.SessionKey, &sess.SessionType, &parentID, &label,
			&agentID, &model, &sess.StartedAt, &endedAt, &sess.Status,
			&title, &summary, &sess.MessageCount, &sess.EventCount,
			&sess.CreatedAt, &sess.UpdatedAt,
		); err != nil {
			return nil, err
		}

		sess.ParentSessionID = parentID.String
		sess.Label = label.String
		sess.AgentID = agentID.String
		sess.Model = model.String
		sess.EndedAt = endedAt.Int64
		sess.Title = title.String
		sess.Summary = summary.String

		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}
