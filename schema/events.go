package schema

import "time"

// ChatEventType is the closed set of chat events emitted by a session.
type ChatEventType string

const (
	// ChatStreamStart indicates a model stream began for the workspace.
	ChatStreamStart ChatEventType = "stream-start"
	// ChatStreamDelta carries an incremental text or reasoning fragment.
	ChatStreamDelta ChatEventType = "stream-delta"
	// ChatToolCallStart records a tool invocation requested by the stream.
	ChatToolCallStart ChatEventType = "tool-call-start"
	// ChatToolCallEnd records the result of a tool invocation.
	ChatToolCallEnd ChatEventType = "tool-call-end"
	// ChatStreamEnd indicates the stream committed; carries id + sequence.
	ChatStreamEnd ChatEventType = "stream-end"
	// ChatStreamError indicates the stream failed; carries the error kind.
	ChatStreamError ChatEventType = "stream-error"
	// ChatStreamAbort indicates the stream was interrupted and committed as-is.
	ChatStreamAbort ChatEventType = "stream-abort"
	// ChatDelete carries sequence numbers removed from history.
	ChatDelete ChatEventType = "delete"
	// ChatMessage carries a full committed (or partial, during replay) message.
	ChatMessage ChatEventType = "message"
	// ChatCaughtUp is the replay sentinel: the subscriber is now current.
	ChatCaughtUp ChatEventType = "caught-up"
)

// DeltaKind discriminates stream-delta payloads.
type DeltaKind string

const (
	// DeltaText is visible assistant text.
	DeltaText DeltaKind = "text"
	// DeltaReasoning is reasoning/thinking text.
	DeltaReasoning DeltaKind = "reasoning"
)

// ChatEvent is one event on a workspace's chat channel. Payload fields beyond
// Workspace, Type, and Timestamp are populated per Type only.
type ChatEvent struct {
	Workspace WorkspaceID   `json:"workspace"`
	Type      ChatEventType `json:"type"`
	Timestamp time.Time     `json:"timestamp"`

	// MessageID identifies the in-flight assistant message for
	// stream-start/delta/tool/end/abort events.
	MessageID MessageID `json:"message_id,omitempty"`
	// Seq is the committed sequence number for stream-end and stream-abort.
	Seq *int64 `json:"seq,omitempty"`

	Delta     string    `json:"delta,omitempty"`
	DeltaKind DeltaKind `json:"delta_kind,omitempty"`

	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`

	Message *Message `json:"message,omitempty"`
	Removed []int64  `json:"removed,omitempty"`

	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// MetadataEventType identifies workspace-level (non-chat) state changes.
type MetadataEventType string

const (
	// MetadataUpdated indicates display metadata changed.
	MetadataUpdated MetadataEventType = "updated"
	// MetadataDisposed indicates the workspace runtime was dropped.
	MetadataDisposed MetadataEventType = "disposed"
)

// MetadataEvent is one event on a workspace's metadata channel.
type MetadataEvent struct {
	Workspace WorkspaceID       `json:"workspace"`
	Type      MetadataEventType `json:"type"`
	Name      string            `json:"name,omitempty"`
	Model     ModelID           `json:"model,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
