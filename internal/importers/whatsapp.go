package importers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/roelfdiedericks/clawvault/internal/archive"
	. "github.com/roelfdiedericks/clawvault/internal/logging"
)

// whatsappSelf is the display name WhatsApp text exports use for the
// account owner.
const whatsappSelf = "You"

// Two datetime prefixes appear in the wild:
//
//	12/31/23, 10:30 PM - Alice: Hi          (US-style, 12h)
//	[31/12/23, 22:31:00] Bob: Hello         (bracketed, 24h, DD/MM)
var (
	waUSLine      = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2,4}), (\d{1,2}):(\d{2})\s?([AP]M) - ([^:]+): (.*)$`)
	waBracketLine = regexp.MustCompile(`^\[(\d{1,2})/(\d{1,2})/(\d{2,4}), (\d{1,2}):(\d{2}):(\d{2})\] ([^:]+): (.*)$`)
)

// mediaPlaceholders maps WhatsApp media markers to content types.
var mediaPlaceholders = map[string]string{
	"<Media omitted>":  "document",
	"image omitted":    "image",
	"video omitted":    "video",
	"audio omitted":    "audio",
	"sticker omitted":  "sticker",
	"document omitted": "document",
}

// ParseWhatsAppFile parses a WhatsApp text export. Lines not matching a
// datetime prefix are continuation lines of the preceding message.
func ParseWhatsAppFile(path string) ([]ParsedMessage, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read whatsapp export: %w", err)
	}
	defer file.Close()

	sessionKey := importSessionKey("whatsapp", "")

	var parsed []ParsedMessage
	var current *archive.Message

	flush := func() {
		if current == nil {
			return
		}
		finishWhatsAppMessage(current)
		parsed = append(parsed, ParsedMessage{Msg: current})
		current = nil
	}

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 1024*1024)
	scanner.Buffer(buf, len(buf))

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		if m, ts, ok := matchWhatsAppLine(line); ok {
			flush()
			m.SessionKey = sessionKey
			m.Timestamp = ts
			current = m
			continue
		}

		// Continuation of the preceding message
		if current != nil {
			current.ContentText += "\n" + line
			continue
		}

		L_trace("import: whatsapp line skipped", "line", lineNum)
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading whatsapp export: %w", err)
	}

	L_debug("import: whatsapp export parsed", "path", path, "messages", len(parsed))
	return parsed, nil
}

// matchWhatsAppLine tries both datetime formats and returns a partially
// populated message on success.
func matchWhatsAppLine(line string) (*archive.Message, int64, bool) {
	if g := waUSLine.FindStringSubmatch(line); g != nil {
		// US-style: MM/DD/YY, 12-hour clock
		month, _ := strconv.Atoi(g[1])
		day, _ := strconv.Atoi(g[2])
		year := parseYear(g[3])
		hour, _ := strconv.Atoi(g[4])
		minute, _ := strconv.Atoi(g[5])
		if g[6] == "PM" && hour != 12 {
			hour += 12
		}
		if g[6] == "AM" && hour == 12 {
			hour = 0
		}
		ts := time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC).UnixMilli()
		return newWhatsAppMessage(g[7], g[8]), ts, true
	}

	if g := waBracketLine.FindStringSubmatch(line); g != nil {
		// Bracketed: DD/MM/YY, 24-hour clock with seconds
		day, _ := strconv.Atoi(g[1])
		month, _ := strconv.Atoi(g[2])
		year := parseYear(g[3])
		hour, _ := strconv.Atoi(g[4])
		minute, _ := strconv.Atoi(g[5])
		second, _ := strconv.Atoi(g[6])
		ts := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC).UnixMilli()
		return newWhatsAppMessage(g[7], g[8]), ts, true
	}

	return nil, 0, false
}

func newWhatsAppMessage(sender, text string) *archive.Message {
	sender = strings.TrimSpace(sender)

	direction := archive.DirectionInbound
	if sender == whatsappSelf {
		direction = archive.DirectionOutbound
	}

	return &archive.Message{
		SenderName:  sender,
		SenderID:    sender,
		Direction:   direction,
		Channel:     "whatsapp",
		ContentType: "text",
		ContentText: text,
	}
}

// finishWhatsAppMessage derives content type, id and raw copy once the
// full (possibly multi-line) text is known.
func finishWhatsAppMessage(m *archive.Message) {
	trimmed := strings.TrimSpace(m.ContentText)
	if ct, ok := mediaPlaceholders[trimmed]; ok {
		m.ContentType = ct
		m.ContentText = "[" + strings.ToUpper(ct[:1]) + ct[1:] + "]"
	}

	m.MessageID = "whatsapp_" + archive.GeneratedMessageID(m.Timestamp, m.SenderID, m.ContentText)

	raw, _ := json.Marshal(map[string]interface{}{
		"sender":    m.SenderName,
		"text":      m.ContentText,
		"timestamp": m.Timestamp,
	})
	m.RawJSON = string(raw)
}

// parseYear widens two-digit years to the 2000s.
func parseYear(s string) int {
	year, _ := strconv.Atoi(s)
	if year < 100 {
		year += 2000
	}
	return year
}
