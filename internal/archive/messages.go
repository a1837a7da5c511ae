package archive

import (
	"context"
	"database/sql"
	"fmt"

	. "github.com/roelfdiedericks/clawvault/internal/logging"
)

// InsertMessage inserts one message. Returns (rowID, inserted). When
// opts.SkipIfExists is set, a duplicate (by the three-stage predicate)
// returns (0, false, nil) - duplicates are normal under re-ingest, not
// errors.
func (s *Store) InsertMessage(ctx context.Context, m *Message, opts InsertOptions) (int64, bool, error) {
	s.prepareMessage(m)

	if opts.SkipIfExists {
		dup, err := s.isDuplicateMessage(ctx, s.db, m)
		if err != nil {
			return 0, false, err
		}
		if dup {
			L_trace("archive: duplicate message skipped", "id", m.MessageID)
			return 0, false, nil
		}
	}

	rowID, err := insertMessageRow(ctx, s.db, m)
	if err != nil {
		return 0, false, err
	}

	L_trace("archive: message inserted", "id", m.MessageID, "channel", m.Channel)
	return rowID, true, nil
}

// InsertMessagesBatch inserts messages in a single transaction. Records
// failing the duplicate predicate count as Skipped, not errors.
func (s *Store) InsertMessagesBatch(ctx context.Context, msgs []*Message) (BatchResult, error) {
	var result BatchResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	for _, m := range msgs {
		s.prepareMessage(m)

		dup, err := s.isDuplicateMessage(ctx, tx, m)
		if err != nil {
			return result, err
		}
		if dup {
			result.Skipped++
			continue
		}

		if _, err := insertMessageRow(ctx, tx, m); err != nil {
			L_warn("archive: message dropped from batch", "id", m.MessageID, "error", err)
			result.Errors++
			continue
		}
		result.Inserted++
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("commit batch: %w", err)
	}

	L_debug("archive: message batch committed",
		"inserted", result.Inserted, "skipped", result.Skipped, "errors", result.Errors)
	return result, nil
}

// prepareMessage fills derived fields before insert
func (s *Store) prepareMessage(m *Message) {
	if m.Fingerprint == "" {
		m.Fingerprint = Fingerprint(m.SenderID, m.Timestamp, m.ContentText)
	}
	if m.MessageID == "" {
		m.MessageID = GeneratedMessageID(m.Timestamp, m.SenderID, m.ContentText)
	}
	if m.ContentType == "" {
		m.ContentType = "text"
	}
	if m.Direction == "" {
		m.Direction = DirectionInbound
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = nowMilli()
	}
}

func insertMessageRow(ctx context.Context, q queryer, m *Message) (int64, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO messages (message_id, internal_id, session_key, session_id,
		                      direction, sender_id, sender_name, recipient_id, recipient_name,
		                      channel, device_id, content_type, content_text, raw_json,
		                      fingerprint, reply_to_id, thread_id,
		                      timestamp, edited_at, deleted_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.MessageID, nullString(m.InternalID), m.SessionKey, nullString(m.SessionID),
		m.Direction, nullString(m.SenderID), nullString(m.SenderName),
		nullString(m.RecipientID), nullString(m.RecipientNm),
		m.Channel, nullString(m.DeviceID), m.ContentType, m.ContentText, nullString(m.RawJSON),
		m.Fingerprint, nullString(m.ReplyToID), nullString(m.ThreadID),
		m.Timestamp, nullInt64(m.EditedAt), nullInt64(m.DeletedAt), m.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	m.RowID = rowID
	return rowID, nil
}

// messageRowID resolves a stable message_id to its row id.
// Returns (0, nil) when the message does not exist.
func (s *Store) messageRowID(ctx context.Context, messageID string) (int64, error) {
	var rowID int64
	err := s.db.QueryRowContext(ctx, "SELECT id FROM messages WHERE message_id = ?", messageID).Scan(&rowID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rowID, nil
}

// AddReaction upserts a reaction. Re-adding after removal clears
// removed_at and refreshes added_at.
func (s *Store) AddReaction(ctx context.Context, messageID, emoji, userID, userName string) error {
	rowID, err := s.messageRowID(ctx, messageID)
	if err != nil {
		return err
	}
	if rowID == 0 {
		return fmt.Errorf("message not found: %s", messageID)
	}

	now := nowMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reactions (message_id, emoji, user_id, user_name, added_at, removed_at)
		VALUES (?, ?, ?, ?, ?, NULL)
		ON CONFLICT(message_id, emoji, user_id) DO UPDATE SET
			added_at = excluded.added_at,
			user_name = excluded.user_name,
			removed_at = NULL
	`, rowID, emoji, userID, nullString(userName), now)
	if err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}

	L_trace("archive: reaction added", "message", messageID, "emoji", emoji, "user", userID)
	return nil
}

// RemoveReaction marks the active reaction as removed. No-op when no
// active reaction exists.
func (s *Store) RemoveReaction(ctx context.Context, messageID, emoji, userID string) error {
	rowID, err := s.messageRowID(ctx, messageID)
	if err != nil {
		return err
	}
	if rowID == 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE reactions SET removed_at = ?
		WHERE message_id = ? AND emoji = ? AND user_id = ? AND removed_at IS NULL
	`, nowMilli(), rowID, emoji, userID)
	if err != nil {
		return fmt.Errorf("remove reaction: %w", err)
	}
	return nil
}

// Reactions returns all reactions on a message, active and removed.
func (s *Store) Reactions(ctx context.Context, messageID string) ([]Reaction, error) {
	rowID, err := s.messageRowID(ctx, messageID)
	if err != nil || rowID == 0 {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, emoji, user_id, user_name, added_at, removed_at
		FROM reactions WHERE message_id = ? ORDER BY added_at
	`, rowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reactions []Reaction
	for rows.Next() {
		var r Reaction
		var userName sql.NullString
		var removedAt sql.NullInt64
		if err := rows.Scan(&r.MessageRowID, &r.Emoji, &r.UserID, &userName, &r.AddedAt, &removedAt); err != nil {
			return nil, err
		}
		r.UserName = userName.String
		r.RemovedAt = removedAt.Int64
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}

// UpdateMessage atomically appends an Edit row with the previous content
// and rewrites the message's content and edited_at. Silent no-op when the
// message is absent.
func (s *Store) UpdateMessage(ctx context.Context, messageID, newContent string, editedAt int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin edit: %w", err)
	}
	defer tx.Rollback()

	var rowID int64
	var previous string
	err = tx.QueryRowContext(ctx,
		"SELECT id, content_text FROM messages WHERE message_id = ?", messageID,
	).Scan(&rowID, &previous)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("edit lookup: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO edits (message_id, previous_content, edited_at) VALUES (?, ?, ?)
	`, rowID, previous, editedAt); err != nil {
		return fmt.Errorf("append edit: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET content_text = ?, edited_at = ? WHERE id = ?
	`, newContent, editedAt, rowID); err != nil {
		return fmt.Errorf("rewrite message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit edit: %w", err)
	}

	L_trace("archive: message edited", "id", messageID)
	return nil
}

// SoftDeleteMessage sets deleted_at. The row stays in place.
func (s *Store) SoftDeleteMessage(ctx context.Context, messageID string, when int64) error {
	if when == 0 {
		when = nowMilli()
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE messages SET deleted_at = ? WHERE message_id = ?", when, messageID)
	if err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	return nil
}

// Edits returns the append-only edit history for a message, oldest first.
func (s *Store) Edits(ctx context.Context, messageID string) ([]Edit, error) {
	rowID, err := s.messageRowID(ctx, messageID)
	if err != nil || rowID == 0 {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, previous_content, edited_at
		FROM edits WHERE message_id = ? ORDER BY edited_at, id
	`, rowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edits []Edit
	for rows.Next() {
		var e Edit
		if err := rows.Scan(&e.MessageRowID, &e.PreviousContent, &e.EditedAt); err != nil {
			return nil, err
		}
		edits = append(edits, e)
	}
	return edits, rows.Err()
}

// AddAttachment attaches media metadata to an existing message.
func (s *Store) AddAttachment(ctx context.Context, messageID string, a *Attachment) error {
	rowID, err := s.messageRowID(ctx, messageID)
	if err != nil {
		return err
	}
	if rowID == 0 {
		return fmt.Errorf("message not found: %s", messageID)
	}

	if a.CreatedAt == 0 {
		a.CreatedAt = nowMilli()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (message_id, type, file_path, url, filename,
		                         size, mime_type, thumbnail_path, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rowID, a.Type, nullString(a.FilePath), nullString(a.URL), nullString(a.Filename),
		nullInt64(a.Size), nullString(a.MimeType), nullString(a.ThumbnailPath),
		nullString(a.Metadata), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}

	a.MessageRowID = rowID
	a.RowID, _ = res.LastInsertId()
	return nil
}

// Attachments returns attachment metadata for a message.
func (s *Store) Attachments(ctx context.Context, messageID string) ([]Attachment, error) {
	rowID, err := s.messageRowID(ctx, messageID)
	if err != nil || rowID == 0 {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, type, file_path, url, filename, size,
		       mime_type, thumbnail_path, metadata, created_at
		FROM attachments WHERE message_id = ? ORDER BY id
	`, rowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attachments []Attachment
	for rows.Next() {
		var a Attachment
		var filePath, url, filename, mimeType, thumbnail, metadata sql.NullString
		var size sql.NullInt64
		if err := rows.Scan(&a.RowID, &a.MessageRowID, &a.Type, &filePath, &url, &filename,
			&size, &mimeType, &thumbnail, &metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.FilePath = filePath.String
		a.URL = url.String
		a.Filename = filename.String
		a.Size = size.Int64
		a.MimeType = mimeType.String
		a.ThumbnailPath = thumbnail.String
		a.Metadata = metadata.String
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}
