package importers

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/roelfdiedericks/clawvault/internal/archive"
	. "github.com/roelfdiedericks/clawvault/internal/logging"
)

// telegramSelfID is the sender id Telegram exports use for the account
// owner; "You" appears as the display name in some export variants.
const telegramSelfID = "user_self"

// telegramExport is the top of a Telegram JSON export. Single-chat
// exports carry messages at the top level; full exports nest chats
// under chats.list.
type telegramExport struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	ID       json.Number       `json:"id"`
	Messages []telegramMessage `json:"messages"`
	Chats    struct {
		List []telegramChat `json:"list"`
	} `json:"chats"`
}

type telegramChat struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	ID       json.Number       `json:"id"`
	Messages []telegramMessage `json:"messages"`
}

type telegramMessage struct {
	ID           json.Number     `json:"id"`
	Type         string          `json:"type"`
	Date         string          `json:"date"`
	DateUnixtime string          `json:"date_unixtime"`
	Edited       string          `json:"edited"`
	From         string          `json:"from"`
	FromID       string          `json:"from_id"`
	ReplyTo      json.Number     `json:"reply_to_message_id"`
	Text         json.RawMessage `json:"text"`
	Photo        string          `json:"photo"`
	File         string          `json:"file"`
	FileName     string          `json:"file_name"`
	MimeType     string          `json:"mime_type"`
	MediaType    string          `json:"media_type"`
	StickerEmoji string          `json:"sticker_emoji"`
	LocationInfo *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location_information"`
}

// ParseTelegramFile parses a Telegram JSON export (single chat or full
// export) into normalized messages. Unknown record types are skipped.
func ParseTelegramFile(path string) ([]ParsedMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read telegram export: %w", err)
	}

	var export telegramExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("invalid telegram export: %w", err)
	}

	var parsed []ParsedMessage
	if len(export.Messages) > 0 {
		parsed = append(parsed, parseTelegramChat(export.ID.String(), export.Name, export.Messages)...)
	}
	for _, chat := range export.Chats.List {
		parsed = append(parsed, parseTelegramChat(chat.ID.String(), chat.Name, chat.Messages)...)
	}

	L_debug("import: telegram export parsed", "path", path, "messages", len(parsed))
	return parsed, nil
}

func parseTelegramChat(chatID, chatName string, msgs []telegramMessage) []ParsedMessage {
	var parsed []ParsedMessage
	for i := range msgs {
		tm := &msgs[i]
		if tm.Type != "" && tm.Type != "message" {
			// Service records (pins, calls, joins) are not messages
			continue
		}

		m, attachments := normalizeTelegramMessage(chatID, chatName, tm)
		if m == nil {
			continue
		}
		parsed = append(parsed, ParsedMessage{Msg: m, Attachments: attachments})
	}
	return parsed
}

func normalizeTelegramMessage(chatID, chatName string, tm *telegramMessage) (*archive.Message, []*archive.Attachment) {
	ts := telegramTimestamp(tm)
	if ts == 0 {
		return nil, nil
	}

	direction := archive.DirectionInbound
	if tm.FromID == telegramSelfID || tm.From == "You" {
		direction = archive.DirectionOutbound
	}

	contentType := "text"
	text := telegramText(tm.Text)
	var attachments []*archive.Attachment

	switch {
	case tm.Photo != "":
		contentType = "image"
		if text == "" {
			text = "[Image]"
		}
		attachments = append(attachments, &archive.Attachment{
			Type:     "image",
			FilePath: tm.Photo,
			MimeType: detectMime(tm.Photo, "image/jpeg"),
		})
	case tm.MediaType == "sticker":
		contentType = "sticker"
		if text == "" {
			text = "[Sticker " + tm.StickerEmoji + "]"
		}
	case tm.LocationInfo != nil:
		contentType = "location"
		if text == "" {
			text = fmt.Sprintf("[Location %f,%f]", tm.LocationInfo.Latitude, tm.LocationInfo.Longitude)
		}
	case tm.File != "":
		mime := detectMime(tm.File, tm.MimeType)
		contentType = contentTypeForMime(mime)
		if text == "" {
			text = "[" + tm.FileName + "]"
		}
		attachments = append(attachments, &archive.Attachment{
			Type:     contentType,
			FilePath: tm.File,
			Filename: tm.FileName,
			MimeType: mime,
		})
	}

	raw, _ := json.Marshal(tm)

	m := &archive.Message{
		MessageID:   fmt.Sprintf("telegram_%s_%s", chatID, tm.ID.String()),
		InternalID:  tm.ID.String(),
		SessionKey:  importSessionKey("telegram", chatID),
		Direction:   direction,
		SenderID:    tm.FromID,
		SenderName:  tm.From,
		RecipientNm: chatName,
		Channel:     "telegram",
		ContentType: contentType,
		ContentText: text,
		RawJSON:     string(raw),
		Timestamp:   ts,
	}

	if tm.ReplyTo.String() != "" {
		m.ReplyToID = fmt.Sprintf("telegram_%s_%s", chatID, tm.ReplyTo.String())
	}
	if tm.Edited != "" {
		if edited, err := time.Parse("2006-01-02T15:04:05", tm.Edited); err == nil {
			m.EditedAt = edited.UnixMilli()
		}
	}

	return m, attachments
}

// telegramTimestamp prefers the unixtime field and falls back to the
// local-time date string.
func telegramTimestamp(tm *telegramMessage) int64 {
	if tm.DateUnixtime != "" {
		if secs, err := strconv.ParseInt(tm.DateUnixtime, 10, 64); err == nil {
			return secs * 1000
		}
	}
	if tm.Date != "" {
		if t, err := time.Parse("2006-01-02T15:04:05", tm.Date); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

// telegramText flattens the text field, which is either a plain string
// or an array of strings and formatted-text runs.
func telegramText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}

	var runs []interface{}
	if err := json.Unmarshal(raw, &runs); err != nil {
		return ""
	}

	var text string
	for _, run := range runs {
		switch v := run.(type) {
		case string:
			text += v
		case map[string]interface{}:
			if t, ok := v["text"].(string); ok {
				text += t
			}
		}
	}
	return text
}
