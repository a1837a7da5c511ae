package importers

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/roelfdiedericks/clawvault/internal/archive"
	. "github.com/roelfdiedericks/clawvault/internal/logging"
)

// discordExport matches DiscordChatExporter JSON output.
type discordExport struct {
	Guild struct {
		Name string `json:"name"`
	} `json:"guild"`
	Channel struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"channel"`
	Messages []discordMessage `json:"messages"`
}

type discordMessage struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Edited    string `json:"timestampEdited"`
	Content   string `json:"content"`
	Author    struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		IsBot bool   `json:"isBot"`
	} `json:"author"`
	Attachments []struct {
		ID       string `json:"id"`
		URL      string `json:"url"`
		FileName string `json:"fileName"`
		Size     int64  `json:"fileSizeBytes"`
	} `json:"attachments"`
	Reference *struct {
		MessageID string `json:"messageId"`
	} `json:"reference"`
}

// ParseDiscordFile parses a Discord channel export into normalized
// messages. Bot-authored messages are treated as outbound (the agent's
// own voice); everything else is inbound.
func ParseDiscordFile(path string) ([]ParsedMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read discord export: %w", err)
	}

	var export discordExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("invalid discord export: %w", err)
	}

	sessionKey := importSessionKey("discord", export.Channel.ID)

	var parsed []ParsedMessage
	for i := range export.Messages {
		dm := &export.Messages[i]
		if dm.Type != "" && dm.Type != "Default" && dm.Type != "Reply" {
			continue
		}

		ts := discordTimestamp(dm.Timestamp)
		if ts == 0 {
			L_trace("import: discord message without timestamp skipped", "id", dm.ID)
			continue
		}

		direction := archive.DirectionInbound
		if dm.Author.IsBot {
			direction = archive.DirectionOutbound
		}

		text := dm.Content
		contentType := "text"
		var attachments []*archive.Attachment
		for _, a := range dm.Attachments {
			mime := detectMime("", mimeFromName(a.FileName))
			at := contentTypeForMime(mime)
			if contentType == "text" {
				contentType = at
			}
			if text == "" {
				text = "[" + a.FileName + "]"
			}
			attachments = append(attachments, &archive.Attachment{
				Type:     at,
				URL:      a.URL,
				Filename: a.FileName,
				Size:     a.Size,
				MimeType: mime,
			})
		}

		raw, _ := json.Marshal(dm)

		m := &archive.Message{
			MessageID:   fmt.Sprintf("discord_%s_%s", export.Channel.ID, dm.ID),
			InternalID:  dm.ID,
			SessionKey:  sessionKey,
			Direction:   direction,
			SenderID:    dm.Author.ID,
			SenderName:  dm.Author.Name,
			RecipientNm: export.Channel.Name,
			Channel:     "discord",
			ContentType: contentType,
			ContentText: text,
			RawJSON:     string(raw),
			ThreadID:    export.Channel.ID,
			Timestamp:   ts,
		}
		if dm.Reference != nil && dm.Reference.MessageID != "" {
			m.ReplyToID = fmt.Sprintf("discord_%s_%s", export.Channel.ID, dm.Reference.MessageID)
		}
		if edited := discordTimestamp(dm.Edited); edited > 0 {
			m.EditedAt = edited
		}

		parsed = append(parsed, ParsedMessage{Msg: m, Attachments: attachments})
	}

	L_debug("import: discord export parsed", "path", path, "messages", len(parsed))
	return parsed, nil
}

func discordTimestamp(s string) int64 {
	if s == "" {
		return 0
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999-07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

// mimeFromName guesses a MIME hint from a filename extension when the
// attachment is remote and cannot be sniffed.
func mimeFromName(name string) string {
	ext := ""
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			ext = name[i:]
			break
		}
	}
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return "image/" + ext[1:]
	case ".mp4", ".mov", ".webm":
		return "video/" + ext[1:]
	case ".mp3", ".ogg", ".wav", ".m4a":
		return "audio/" + ext[1:]
	case ".pdf":
		return "application/pdf"
	default:
		return ""
	}
}
