package summarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkoukk/tiktoken-go"

	. "github.com/roelfdiedericks/clawvault/internal/logging"
)

// Claude summarizes sessions through the Anthropic API. Errors are
// expected (offline, quota, bad key) - callers fall back to Local.
type Claude struct {
	client    *anthropic.Client
	model     string
	maxTokens int // transcript token budget
}

// ClaudeConfig configures the remote summarizer.
type ClaudeConfig struct {
	APIKey           string
	Model            string
	MaxContextTokens int
}

// NewClaude creates the remote summarizer.
func NewClaude(cfg ClaudeConfig) (*Claude, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured")
	}
	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	maxTokens := cfg.MaxContextTokens
	if maxTokens <= 0 {
		maxTokens = 4000
	}

	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))

	L_debug("summarize: claude summarizer created", "model", model, "contextBudget", maxTokens)
	return &Claude{client: &client, model: model, maxTokens: maxTokens}, nil
}

const summaryPrompt = `You label archived agent sessions. Given the transcript below, respond with exactly two lines:
TITLE: <short title, max 8 words>
SUMMARY: <2-3 sentence summary of what happened>`

// Summarize implements Summarizer via one non-streaming completion.
func (c *Claude) Summarize(ctx context.Context, meta SessionMeta, transcript string) (string, string, error) {
	transcript = truncateToTokens(transcript, c.maxTokens)
	if strings.TrimSpace(transcript) == "" {
		return "", "", fmt.Errorf("empty transcript")
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 300,
		System: []anthropic.TextBlockParam{
			{Text: summaryPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(transcript)),
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("summarizer request failed: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	title, summary := parseSummaryResponse(text)
	if title == "" {
		return "", "", fmt.Errorf("summarizer returned no title")
	}

	L_debug("summarize: session summarized", "session", meta.SessionID, "title", title)
	return title, summary, nil
}

func parseSummaryResponse(text string) (string, string) {
	var title, summary string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "TITLE:"):
			title = strings.TrimSpace(strings.TrimPrefix(line, "TITLE:"))
		case strings.HasPrefix(line, "SUMMARY:"):
			summary = strings.TrimSpace(strings.TrimPrefix(line, "SUMMARY:"))
		case summary != "" && line != "":
			// Multi-line summaries continue
			summary += " " + line
		}
	}
	return title, summary
}

// truncateToTokens bounds a transcript to the token budget, estimated
// with the cl100k encoding. Falls back to a byte bound when the encoder
// is unavailable (no network for the BPE download).
func truncateToTokens(text string, budget int) string {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		// Rough bound: ~4 bytes per token
		if limit := budget * 4; len(text) > limit {
			return text[:limit]
		}
		return text
	}

	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= budget {
		return text
	}
	return enc.Decode(tokens[:budget])
}
