package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	. "github.com/roelfdiedericks/clawvault/internal/logging"
)

const messageColumns = `
	m.id, m.message_id, m.internal_id, m.session_key, m.session_id,
	m.direction, m.sender_id, m.sender_name, m.recipient_id, m.recipient_name,
	m.channel, m.device_id, m.content_type, m.content_text, m.raw_json,
	m.fingerprint, m.reply_to_id, m.thread_id,
	m.timestamp, m.edited_at, m.deleted_at, m.created_at`

// QueryMessages returns messages matching the filter, timestamp DESC.
// Soft-deleted rows are excluded unless IncludeDeleted is set; this
// composes with every other filter including ContentMatch.
func (s *Store) QueryMessages(ctx context.Context, filter MessageFilter) ([]*Message, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	from := "messages m"
	if filter.ContentMatch != "" {
		from = "messages m JOIN messages_fts f ON f.rowid = m.id"
		conditions = append(conditions, "messages_fts MATCH ?")
		args = append(args, filter.ContentMatch)
	}

	if filter.SessionKey != "" {
		conditions = append(conditions, "m.session_key = ?")
		args = append(args, filter.SessionKey)
	}
	if filter.Channel != "" {
		conditions = append(conditions, "m.channel = ?")
		args = append(args, filter.Channel)
	}
	if filter.SenderID != "" {
		conditions = append(conditions, "m.sender_id = ?")
		args = append(args, filter.SenderID)
	}
	if filter.StartTime > 0 {
		conditions = append(conditions, "m.timestamp >= ?")
		args = append(args, filter.StartTime)
	}
	if filter.EndTime > 0 {
		conditions = append(conditions, "m.timestamp <= ?")
		args = append(args, filter.EndTime)
	}
	if !filter.IncludeDeleted {
		conditions = append(conditions, "m.deleted_at IS NULL")
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY m.timestamp DESC",
		messageColumns, from, strings.Join(conditions, " AND "))

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// SearchMessages performs bm25-ranked full-text search over live messages.
func (s *Store) SearchMessages(ctx context.Context, match string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 20
	}

	ftsQuery := BuildFTSQuery(match)
	if ftsQuery == "" {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ? AND m.deleted_at IS NULL
		ORDER BY bm25(messages_fts)
		LIMIT ?
	`, messageColumns)

	rows, err := s.db.QueryContext(ctx, query, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	results, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	L_debug("archive: search completed", "query", ftsQuery, "results", len(results))
	return results, nil
}

// GetMessage returns one message by its stable id, or nil.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	query := fmt.Sprintf("SELECT %s FROM messages m WHERE m.message_id = ?", messageColumns)
	rows, err := s.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return msgs[0], nil
}

// ConversationContext renders a chronological, human-readable transcript
// of messages in [start, end], suitable as LLM input.
func (s *Store) ConversationContext(ctx context.Context, start, end int64, sessionKey string) (string, error) {
	conditions := []string{"deleted_at IS NULL"}
	var args []interface{}

	if start > 0 {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, start)
	}
	if end > 0 {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, end)
	}
	if sessionKey != "" {
		conditions = append(conditions, "session_key = ?")
		args = append(args, sessionKey)
	}

	query := fmt.Sprintf(`
		SELECT timestamp, direction, sender_name, sender_id, content_text
		FROM messages WHERE %s ORDER BY timestamp ASC
	`, strings.Join(conditions, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return "", fmt.Errorf("conversation context: %w", err)
	}
	defer rows.Close()

	var sb strings.Builder
	for rows.Next() {
		var ts int64
		var direction, content string
		var senderName, senderID sql.NullString
		if err := rows.Scan(&ts, &direction, &senderName, &senderID, &content); err != nil {
			return "", err
		}

		label := senderName.String
		if label == "" {
			label = senderID.String
		}
		if label == "" {
			if direction == DirectionOutbound {
				label = "me"
			} else {
				label = "them"
			}
		}

		when := time.UnixMilli(ts).UTC().Format("2006-01-02 15:04")
		sb.WriteString(fmt.Sprintf("[%s] %s: %s\n", when, label, content))
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	return sb.String(), nil
}

// BuildFTSQuery builds a prefix-matching FTS5 query from user input.
func BuildFTSQuery(query string) string {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return ""
	}

	var parts []string
	for _, word := range words {
		// Remove special characters that break FTS5
		cleaned := strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				return r
			}
			return -1
		}, word)
		if cleaned != "" {
			parts = append(parts, cleaned+"*")
		}
	}

	return strings.Join(parts, " ")
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var messages []*Message
	for rows.Next() {
		var m Message
		var internalID, sessionID, senderID, senderName, recipientID, recipientName sql.NullString
		var deviceID, rawJSON, replyTo, threadID sql.NullString
		var editedAt, deletedAt sql.NullInt64

		if err := rows.Scan(
			&m.RowID, &m.MessageID, &internalID, &m.SessionKey, &sessionID,
			&m.Direction, &senderID, &senderName, &recipientID, &recipientName,
			&m.Channel, &deviceID, &m.ContentType, &m.ContentText, &rawJSON,
			&m.Fingerprint, &replyTo, &threadID,
			&m.Timestamp, &editedAt, &deletedAt, &m.CreatedAt,
		); err != nil {
			return nil, err
		}

		m.InternalID = internalID.String
		m.SessionID = sessionID.String
		m.SenderID = senderID.String
		m.SenderName = senderName.String
		m.RecipientID = recipientID.String
		m.RecipientNm = recipientName.String
		m.DeviceID = deviceID.String
		m.RawJSON = rawJSON.String
		m.ReplyToID = replyTo.String
		m.ThreadID = threadID.String
		m.EditedAt = editedAt.Int64
		m.DeletedAt = deletedAt.Int64

		messages = append(messages, &m)
	}
	return messages, rows.Err()
}
