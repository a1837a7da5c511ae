package archive

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
)

// maxFingerprintContent bounds how much content is hashed into a fingerprint.
const maxFingerprintContent = 4096

// nearDuplicateWindowMs is the Stage-3 timestamp tolerance for re-emitted
// messages with jittered timestamps.
const nearDuplicateWindowMs = 1000

// Fingerprint computes the content fingerprint for a message:
// SHA-256 hex of sender_id | timestamp | content_text (truncated).
// Two messages with equal fingerprints are the same logical message.
func Fingerprint(senderID string, timestamp int64, contentText string) string {
	if len(contentText) > maxFingerprintContent {
		contentText = contentText[:maxFingerprintContent]
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", senderID, timestamp, contentText)))
	return hex.EncodeToString(h[:])
}

// GeneratedMessageID mints a deterministic id for records that arrive
// without one (external imports). Truncated hash of timestamp, sender and
// the first 100 characters of text.
func GeneratedMessageID(timestamp int64, senderID, contentText string) string {
	if len(contentText) > 100 {
		contentText = contentText[:100]
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s", timestamp, senderID, contentText)))
	return "gen_" + hex.EncodeToString(h[:8])
}

// Synthetic event ids derived from a parent event. Deterministic so that
// re-parsing the same source produces the same ids.

// ToolCallEventID returns the id for a tool_call child event.
func ToolCallEventID(parentID, toolBlockID string) string {
	return fmt.Sprintf("%s_tool_%s", parentID, toolBlockID)
}

// ThinkingEventID returns the id for a thinking_block child event.
func ThinkingEventID(parentID string) string {
	return parentID + "_thinking"
}

// UsageEventID returns the id for a usage_stats child event.
func UsageEventID(parentID string) string {
	return parentID + "_usage"
}

// isDuplicateMessage applies the three-stage duplicate predicate, each
// stage short-circuiting:
//  1. exact message_id match
//  2. fingerprint match
//  3. same sender + same content within 1000ms (retry jitter tolerance)
//
// Stage 3 is bounded by idx_messages_sender_time.
func (s *Store) isDuplicateMessage(ctx context.Context, q queryer, m *Message) (bool, error) {
	var one int

	err := q.QueryRowContext(ctx, "SELECT 1 FROM messages WHERE message_id = ?", m.MessageID).Scan(&one)
	if err == nil {
		return true, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("duplicate check (id): %w", err)
	}

	err = q.QueryRowContext(ctx, "SELECT 1 FROM messages WHERE fingerprint = ?", m.Fingerprint).Scan(&one)
	if err == nil {
		return true, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("duplicate check (fingerprint): %w", err)
	}

	if m.SenderID != "" && m.ContentText != "" {
		err = q.QueryRowContext(ctx, `
			SELECT 1 FROM messages
			WHERE sender_id = ?
			  AND timestamp BETWEEN ? AND ?
			  AND content_text = ?
			LIMIT 1
		`, m.SenderID, m.Timestamp-nearDuplicateWindowMs+1, m.Timestamp+nearDuplicateWindowMs-1, m.ContentText).Scan(&one)
		if err == nil {
			return true, nil
		}
		if err != sql.ErrNoRows {
			return false, fmt.Errorf("duplicate check (near): %w", err)
		}
	}

	return false, nil
}

// queryer abstracts *sql.DB / *sql.Tx for the duplicate checks
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}
