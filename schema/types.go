package schema

// WorkspaceID identifies a workspace: one conversation plus its sandbox.
type WorkspaceID string

// MessageID identifies a single message in a workspace's history.
type MessageID string

// SessionID identifies a provider-side continuation of a model stream.
type SessionID string

// ModelID identifies an LLM model.
type ModelID string

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks messages authored by the user.
	RoleUser Role = "user"
	// RoleAssistant marks messages authored by the model.
	RoleAssistant Role = "assistant"
	// RoleSystem marks engine-authored messages (error breadcrumbs, summaries).
	RoleSystem Role = "system"
)

// SessionStatus describes the runtime state of a workspace session.
type SessionStatus string

const (
	// StatusIdle indicates no model stream is active.
	StatusIdle SessionStatus = "idle"
	// StatusStreaming indicates a model stream is producing output.
	StatusStreaming SessionStatus = "streaming"
	// StatusInterrupting indicates an interrupt is in flight; collapses to idle.
	StatusInterrupting SessionStatus = "interrupting"
)
