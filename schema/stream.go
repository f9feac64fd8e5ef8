package schema

import "encoding/json"

// AgentEventType is the top-level type of a model invoker stream unit.
type AgentEventType string

const (
	// AgentStarted indicates the provider stream started; carries a session id.
	AgentStarted AgentEventType = "started"
	// AgentTextDelta carries an incremental fragment of visible text.
	AgentTextDelta AgentEventType = "text-delta"
	// AgentReasoningDelta carries an incremental fragment of reasoning text.
	AgentReasoningDelta AgentEventType = "reasoning-delta"
	// AgentToolCall records a tool invocation requested by the model.
	AgentToolCall AgentEventType = "tool-call"
	// AgentToolResult records the outcome of a tool invocation.
	AgentToolResult AgentEventType = "tool-result"
	// AgentCompleted indicates the turn finished; carries usage counters.
	AgentCompleted AgentEventType = "completed"
	// AgentError carries a stream-level error message.
	AgentError AgentEventType = "error"
)

// AgentEvent is the normalized shape of one incremental unit produced by the
// model invoker. Raw preserves the original line for debugging.
type AgentEvent struct {
	Type       AgentEventType  `json:"type"`
	SessionID  SessionID       `json:"session_id,omitempty"`
	Text       string          `json:"text,omitempty"`
	ToolCall   *ToolCall       `json:"tool_call,omitempty"`
	ToolResult *ToolResult     `json:"tool_result,omitempty"`
	Usage      *TokenUsage     `json:"usage,omitempty"`
	Message    string          `json:"message,omitempty"`
	Raw        json.RawMessage `json:"-"`
}
