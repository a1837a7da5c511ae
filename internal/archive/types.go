package archive

import "encoding/json"

// EventType identifies an archive event row
type EventType string

const (
	EventTypeSession        EventType = "session"
	EventTypeModelChange    EventType = "model_change"
	EventTypeThinkingChange EventType = "thinking_level_change"
	EventTypeCustom         EventType = "custom"
	EventTypeMessage        EventType = "message"
	EventTypeToolCall       EventType = "tool_call"
	EventTypeToolResult     EventType = "tool_result"
	EventTypeThinkingBlock  EventType = "thinking_block"
	EventTypeUsageStats     EventType = "usage_stats"
)

// Message directions
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Session types
const (
	SessionTypeMain     = "main"
	SessionTypeSubagent = "subagent"
	SessionTypeCron     = "cron"
	SessionTypeIsolated = "isolated"
)

// Session statuses
const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
	SessionStatusFailed    = "failed"
)

// Message is a point-in-time communication in a chat channel.
// All timestamps are milliseconds since epoch.
type Message struct {
	RowID       int64  `json:"-"`
	MessageID   string `json:"messageId"`
	InternalID  string `json:"internalId,omitempty"`
	SessionKey  string `json:"sessionKey"`
	SessionID   string `json:"sessionId,omitempty"`
	Direction   string `json:"direction"`
	SenderID    string `json:"senderId,omitempty"`
	SenderName  string `json:"senderName,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
	RecipientNm string `json:"recipientName,omitempty"`
	Channel     string `json:"channel"`
	DeviceID    string `json:"deviceId,omitempty"`
	ContentType string `json:"contentType"`
	ContentText string `json:"contentText"`
	RawJSON     string `json:"-"`
	Fingerprint string `json:"fingerprint,omitempty"`
	ReplyToID   string `json:"replyToId,omitempty"`
	ThreadID    string `json:"threadId,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	EditedAt    int64  `json:"editedAt,omitempty"`
	DeletedAt   int64  `json:"deletedAt,omitempty"`
	CreatedAt   int64  `json:"createdAt,omitempty"`
}

// Attachment is media associated with a Message
type Attachment struct {
	RowID         int64  `json:"-"`
	MessageRowID  int64  `json:"-"`
	Type          string `json:"type"`
	FilePath      string `json:"filePath,omitempty"`
	URL           string `json:"url,omitempty"`
	Filename      string `json:"filename,omitempty"`
	Size          int64  `json:"size,omitempty"`
	MimeType      string `json:"mimeType,omitempty"`
	ThumbnailPath string `json:"thumbnailPath,omitempty"`
	Metadata      string `json:"metadata,omitempty"` // free-form JSON
	CreatedAt     int64  `json:"createdAt,omitempty"`
}

// Reaction is an emoji reaction on a Message.
// At most one active reaction exists per (message, emoji, user).
type Reaction struct {
	MessageRowID int64  `json:"-"`
	Emoji        string `json:"emoji"`
	UserID       string `json:"userId"`
	UserName     string `json:"userName,omitempty"`
	AddedAt      int64  `json:"addedAt"`
	RemovedAt    int64  `json:"removedAt,omitempty"`
}

// Edit is an append-only record of a message content change
type Edit struct {
	MessageRowID    int64  `json:"-"`
	PreviousContent string `json:"previousContent"`
	EditedAt        int64  `json:"editedAt"`
}

// Event is a generic record in the event log
type Event struct {
	RowID         int64           `json:"-"`
	EventID       string          `json:"eventId"`
	ParentEventID string          `json:"parentEventId,omitempty"`
	SessionKey    string          `json:"sessionKey,omitempty"`
	SessionID     string          `json:"sessionId,omitempty"`
	EventType     EventType       `json:"eventType"`
	EventSubtype  string          `json:"eventSubtype,omitempty"`
	Timestamp     int64           `json:"timestamp"`
	CreatedAt     int64           `json:"createdAt,omitempty"`
	RawJSON       json.RawMessage `json:"-"`

	// Extracted columns for fast filtering
	Role          string `json:"role,omitempty"`
	ToolName      string `json:"toolName,omitempty"`
	ModelProvider string `json:"modelProvider,omitempty"`
	ModelID       string `json:"modelId,omitempty"`
	IsError       bool   `json:"isError,omitempty"`
	SizeBytes     int64  `json:"sizeBytes,omitempty"`

	// Satellites, populated on thinking_block / usage_stats events
	Thinking *ThinkingBlock `json:"thinking,omitempty"`
	Usage    *UsageStats    `json:"usage,omitempty"`
}

// ThinkingBlock extends an event of type thinking_block
type ThinkingBlock struct {
	EventID     string `json:"eventId"`
	Content     string `json:"content"`
	Signature   string `json:"signature,omitempty"`
	ContentSize int64  `json:"contentSize"`
	CreatedAt   int64  `json:"createdAt,omitempty"`
}

// UsageStats extends an event of type usage_stats
type UsageStats struct {
	EventID         string  `json:"eventId"`
	InputTokens     int64   `json:"inputTokens"`
	OutputTokens    int64   `json:"outputTokens"`
	CacheReadTokens int64   `json:"cacheReadTokens"`
	CacheWriteToken int64   `json:"cacheWriteTokens"`
	TotalTokens     int64   `json:"totalTokens"`
	InputCost       float64 `json:"inputCost"`
	OutputCost      float64 `json:"outputCost"`
	CacheReadCost   float64 `json:"cacheReadCost"`
	CacheWriteCost  float64 `json:"cacheWriteCost"`
	TotalCost       float64 `json:"totalCost"`
	ModelProvider   string  `json:"modelProvider,omitempty"`
	ModelID         string  `json:"modelId,omitempty"`
	Timestamp       int64   `json:"timestamp"`
}

// Session is the high-level summary row per session
type Session struct {
	ID              string `json:"id"`
	SessionKey      string `json:"sessionKey"`
	SessionType     string `json:"sessionType"`
	ParentSessionID string `json:"parentSessionId,omitempty"`
	Label           string `json:"label,omitempty"`
	AgentID         string `json:"agentId,omitempty"`
	Model           string `json:"model,omitempty"`
	StartedAt       int64  `json:"startedAt"`
	EndedAt         int64  `json:"endedAt,omitempty"`
	Status          string `json:"status"`
	Title           string `json:"title,omitempty"`
	Summary         string `json:"summary,omitempty"`
	MessageCount    int64  `json:"messageCount"`
	EventCount      int64  `json:"eventCount"`
	CreatedAt       int64  `json:"createdAt,omitempty"`
	UpdatedAt       int64  `json:"updatedAt,omitempty"`
}

// SessionStats aggregates event-level statistics for one session
type SessionStats struct {
	TotalEvents     int64   `json:"totalEvents"`
	MessageCount    int64   `json:"messageCount"`
	ToolCallCount   int64   `json:"toolCallCount"`
	ErrorCount      int64   `json:"errorCount"`
	StartTime       int64   `json:"startTime"`
	EndTime         int64   `json:"endTime"`
	DurationSeconds float64 `json:"durationSeconds"`
	TotalSizeBytes  int64   `json:"totalSizeBytes"`
	TotalTokens     int64   `json:"totalTokens"`
	TotalCost       float64 `json:"totalCost"`
}

// BatchResult reports the outcome of a batch insert
type BatchResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// Add accumulates another batch result
func (r *BatchResult) Add(other BatchResult) {
	r.Inserted += other.Inserted
	r.Skipped += other.Skipped
	r.Errors += other.Errors
}

// InsertOptions controls single-message inserts
type InsertOptions struct {
	SkipIfExists bool
}

// EventInsertOptions controls single-event inserts
type EventInsertOptions struct {
	SkipIfExists bool
	SuspendFK    bool
}

// EventBatchOptions controls event batch inserts
type EventBatchOptions struct {
	SessionID string // backfilled from the first session event when empty
	SuspendFK bool
}

// MessageFilter selects messages for QueryMessages
type MessageFilter struct {
	SessionKey     string
	Channel        string
	SenderID       string
	StartTime      int64  // inclusive, 0 = unbounded
	EndTime        int64  // inclusive, 0 = unbounded
	ContentMatch   string // FTS5 MATCH expression
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// EventFilter selects events for SessionEvents
type EventFilter struct {
	IncludeThinking bool
	IncludeUsage    bool
	StartTime       int64
	EndTime         int64
	Types           []EventType
}

// SessionFilter selects sessions for QuerySessions
type SessionFilter struct {
	SessionType string
	Status      string
	AgentID     string
	Limit       int
	Offset      int
}

// SessionListEntry is a row of ListSessions, aggregated from the events table
type SessionListEntry struct {
	SessionID  string `json:"sessionId"`
	SessionKey string `json:"sessionKey"`
	FirstEvent int64  `json:"firstEvent"`
	LastEvent  int64  `json:"lastEvent"`
	EventCount int64  `json:"eventCount"`
}
