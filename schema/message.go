package schema

import (
	"encoding/json"
	"time"
)

// PartType discriminates the content blocks of a message.
type PartType string

const (
	// PartText is plain visible text.
	PartText PartType = "text"
	// PartReasoning is model reasoning/thinking text.
	PartReasoning PartType = "reasoning"
	// PartToolCall is a tool invocation request recorded from the stream.
	PartToolCall PartType = "tool_call"
	// PartToolResult is the eventual result of a tool invocation.
	PartToolResult PartType = "tool_result"
)

// ToolCall captures a tool invocation request.
type ToolCall struct {
	CallID string          `json:"call_id"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input,omitempty"`
}

// ToolResult captures the outcome of a tool invocation.
type ToolResult struct {
	CallID string          `json:"call_id"`
	Output json.RawMessage `json:"output,omitempty"`
	OK     bool            `json:"ok"`
}

// Part is one content block of a message. Exactly one payload field is
// populated, selected by Type. Order within a message is significant and is
// reproduced verbatim on replay.
type Part struct {
	Type       PartType    `json:"type"`
	Text       string      `json:"text,omitempty"`
	Reasoning  string      `json:"reasoning,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// TokenUsage captures token counters reported by the model provider.
type TokenUsage struct {
	InputTokens       int `json:"input_tokens,omitempty"`
	CachedInputTokens int `json:"cached_input_tokens,omitempty"`
	OutputTokens      int `json:"output_tokens,omitempty"`
}

// Meta is the optional metadata bag attached to a message.
type Meta struct {
	// Seq is the history sequence number. Nil means not yet assigned.
	Seq        *int64      `json:"seq,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Model      ModelID     `json:"model,omitempty"`
	Session    SessionID   `json:"session,omitempty"`
	Usage      *TokenUsage `json:"usage,omitempty"`
	DurationMS int64       `json:"duration_ms,omitempty"`
	Partial    bool        `json:"partial,omitempty"`
	Compacted  bool        `json:"compacted,omitempty"`
}

// Message is one turn in a conversation.
type Message struct {
	ID    MessageID `json:"id"`
	Role  Role      `json:"role"`
	Parts []Part    `json:"parts"`
	Meta  Meta      `json:"meta"`
}

// Seq returns the assigned history sequence number, or false if unassigned.
func (m Message) Seq() (int64, bool) {
	if m.Meta.Seq == nil {
		return 0, false
	}
	return *m.Meta.Seq, true
}

// SetSeq records the history sequence number on the message.
func (m *Message) SetSeq(seq int64) {
	m.Meta.Seq = &seq
}

// VisibleText concatenates the plain text parts of the message.
func (m Message) VisibleText() string {
	out := ""
	for _, part := range m.Parts {
		if part.Type == PartText {
			out += part.Text
		}
	}
	return out
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.Meta.Seq != nil {
		seq := *m.Meta.Seq
		out.Meta.Seq = &seq
	}
	if m.Meta.Usage != nil {
		usage := *m.Meta.Usage
		out.Meta.Usage = &usage
	}
	if len(m.Parts) > 0 {
		out.Parts = make([]Part, len(m.Parts))
		for i, part := range m.Parts {
			out.Parts[i] = clonePart(part)
		}
	}
	return out
}

func clonePart(part Part) Part {
	out := part
	if part.ToolCall != nil {
		call := *part.ToolCall
		call.Input = append(json.RawMessage(nil), part.ToolCall.Input...)
		out.ToolCall = &call
	}
	if part.ToolResult != nil {
		result := *part.ToolResult
		result.Output = append(json.RawMessage(nil), part.ToolResult.Output...)
		out.ToolResult = &result
	}
	return out
}

// NewUserMessage builds a user message with a single text part.
func NewUserMessage(id MessageID, text string) Message {
	return Message{
		ID:   id,
		Role: RoleUser,
		Parts: []Part{
			{Type: PartText, Text: text},
		},
		Meta: Meta{Timestamp: time.Now().UTC()},
	}
}

// NewSystemMessage builds a system message with a single text part.
func NewSystemMessage(id MessageID, text string) Message {
	return Message{
		ID:   id,
		Role: RoleSystem,
		Parts: []Part{
			{Type: PartText, Text: text},
		},
		Meta: Meta{Timestamp: time.Now().UTC()},
	}
}
