package schema

// SendOptions tunes one model invocation.
type SendOptions struct {
	Model           ModelID
	ReasoningEffort string
}

// SendMessageRequest asks a workspace session to start a new stream.
type SendMessageRequest struct {
	Workspace WorkspaceID
	Text      string
	Options   SendOptions
}

// SendMessageResponse acknowledges a started stream.
type SendMessageResponse struct {
	// UserMessageID is the committed user message, empty when Text was empty.
	UserMessageID MessageID
	// AssistantMessageID is the in-flight assistant message the stream fills.
	AssistantMessageID MessageID
	Accepted           bool
}

// ResumeStreamRequest asks a session to continue from its partial message.
type ResumeStreamRequest struct {
	Workspace WorkspaceID
	Options   SendOptions
}

// ResumeStreamResponse acknowledges a resumed stream.
type ResumeStreamResponse struct {
	AssistantMessageID MessageID
	Accepted           bool
}

// InterruptStreamRequest cancels the active stream, if any.
type InterruptStreamRequest struct {
	Workspace WorkspaceID
}

// InterruptStreamResponse reports the session status after the request.
type InterruptStreamResponse struct {
	Status SessionStatus
}

// TruncateHistoryRequest removes the oldest fraction of the history log.
type TruncateHistoryRequest struct {
	Workspace WorkspaceID
	Fraction  float64
}

// TruncateHistoryResponse lists the removed sequence numbers.
type TruncateHistoryResponse struct {
	Removed []int64
}

// TruncateAfterRequest removes a message and everything after it.
type TruncateAfterRequest struct {
	Workspace WorkspaceID
	MessageID MessageID
}

// TruncateAfterResponse lists the removed sequence numbers.
type TruncateAfterResponse struct {
	Removed []int64
}

// ReplaceHistoryRequest drops the whole log and appends one summary message.
// Compact marks a system-initiated summarization, which is the only replace
// permitted while a stream is winding down.
type ReplaceHistoryRequest struct {
	Workspace WorkspaceID
	Summary   Message
	Compact   bool
}

// ReplaceHistoryResponse lists the removed sequence numbers and the summary.
type ReplaceHistoryResponse struct {
	Removed []int64
	Summary Message
}

// UpdateMessageRequest replaces a stored message in place, matched by its
// sequence number.
type UpdateMessageRequest struct {
	Workspace WorkspaceID
	Message   Message
}

// UpdateMessageResponse acknowledges the in-place update.
type UpdateMessageResponse struct{}

// GetHistoryRequest reads the committed history of a workspace.
type GetHistoryRequest struct {
	Workspace WorkspaceID
}

// GetHistoryResponse returns committed messages in sequence order.
type GetHistoryResponse struct {
	Messages []Message
	Status   SessionStatus
}

// ReplayRequest identifies the workspace to replay to a fresh subscriber.
type ReplayRequest struct {
	Workspace WorkspaceID
}

// UpdateWorkspaceMetaRequest changes workspace display metadata.
type UpdateWorkspaceMetaRequest struct {
	Workspace WorkspaceID
	Name      string
	Model     ModelID
}

// UpdateWorkspaceMetaResponse acknowledges the metadata change.
type UpdateWorkspaceMetaResponse struct{}

// DisposeWorkspaceRequest drops the workspace runtime. The underlying log
// storage is relocated or removed by the workspace lifecycle collaborator.
type DisposeWorkspaceRequest struct {
	Workspace WorkspaceID
}

// DisposeWorkspaceResponse acknowledges the disposal.
type DisposeWorkspaceResponse struct{}
