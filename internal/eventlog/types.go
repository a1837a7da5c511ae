// Package eventlog parses append-only JSONL session logs into archive
// events, synthesizing derived events for tool calls, thinking blocks
// and usage stats embedded in message records.
package eventlog

import (
	"encoding/json"
	"time"
)

// RecordType identifies the type of a source log record
type RecordType string

const (
	RecordTypeSession        RecordType = "session"
	RecordTypeMessage        RecordType = "message"
	RecordTypeModelChange    RecordType = "model_change"
	RecordTypeThinkingChange RecordType = "thinking_level_change"
	RecordTypeCustom         RecordType = "custom"
)

// BaseRecord contains fields common to all log records
type BaseRecord struct {
	Type      RecordType `json:"type"`
	ID        string     `json:"id"`
	ParentID  *string    `json:"parentId"` // nil for first record
	Timestamp time.Time  `json:"timestamp"`
}

// SessionRecord is the first line of every session file
type SessionRecord struct {
	BaseRecord
	Version int    `json:"version"`
	CWD     string `json:"cwd"`
}

// ModelChangeRecord marks a model switch
type ModelChangeRecord struct {
	BaseRecord
	Provider string `json:"provider"`
	ModelID  string `json:"modelId"`
}

// ThinkingLevelChangeRecord marks a thinking mode change
type ThinkingLevelChangeRecord struct {
	BaseRecord
	ThinkingLevel string `json:"thinkingLevel"`
}

// CustomRecord for extension events
type CustomRecord struct {
	BaseRecord
	CustomType string                 `json:"customType"`
	Data       map[string]interface{} `json:"data"`
}

// MessageContent represents a content block in a message
type MessageContent struct {
	Type              string          `json:"type"` // "text", "thinking", "toolCall"/"toolUse", "image"
	Text              string          `json:"text,omitempty"`
	Thinking          string          `json:"thinking,omitempty"`
	ThinkingSignature string          `json:"thinkingSignature,omitempty"`
	ID                string          `json:"id,omitempty"`        // for toolCall type
	Name              string          `json:"name,omitempty"`      // for toolCall type
	Arguments         json.RawMessage `json:"arguments,omitempty"` // for toolCall type
}

// MessageUsage contains token usage information
type MessageUsage struct {
	Input       int64 `json:"input"`
	Output      int64 `json:"output"`
	CacheRead   int64 `json:"cacheRead"`
	CacheWrite  int64 `json:"cacheWrite"`
	TotalTokens int64 `json:"totalTokens"`
	Cost        *Cost `json:"cost,omitempty"`
}

// Cost contains cost breakdown
type Cost struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cacheRead,omitempty"`
	CacheWrite float64 `json:"cacheWrite,omitempty"`
	Total      float64 `json:"total"`
}

// MessageData contains the actual message payload
type MessageData struct {
	Role         string           `json:"role"` // "user", "assistant", "toolResult"
	Content      []MessageContent `json:"content"`
	Provider     string           `json:"provider,omitempty"`
	Model        string           `json:"model,omitempty"`
	Usage        *MessageUsage    `json:"usage,omitempty"`
	StopReason   string           `json:"stopReason,omitempty"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	ToolCallID   string           `json:"toolCallId,omitempty"`
	ToolName     string           `json:"toolName,omitempty"`
	IsError      bool             `json:"isError,omitempty"`
}

// MessageRecord represents a user/assistant/tool message
type MessageRecord struct {
	BaseRecord
	Message MessageData `json:"message"`
}

// SessionMeta is derived session-level metadata from accumulated events
type SessionMeta struct {
	SessionID      string `json:"sessionId"`
	FirstTimestamp int64  `json:"firstTimestamp"`
	LastTimestamp  int64  `json:"lastTimestamp"`
	EventCount     int    `json:"eventCount"`
	MessageCount   int    `json:"messageCount"`
	ToolCallCount  int    `json:"toolCallCount"`
	ErrorCount     int    `json:"errorCount"`
	HasThinking    bool   `json:"hasThinking"`
	HasUsage       bool   `json:"hasUsage"`
	Model          string `json:"model,omitempty"`
	Provider       string `json:"provider,omitempty"`
}
