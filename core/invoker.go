package core

import (
	"context"

	"pkt.systems/parley/schema"
)

// Invoker starts model invocations and exposes their event stream. The engine
// treats the model provider as an injected capability; implementations may
// exec a local agent CLI, speak to a remote provider, or be scripted fakes.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (StreamHandle, error)
}

// InvokeRequest carries the full conversation context for one invocation.
type InvokeRequest struct {
	Workspace schema.WorkspaceID
	// Messages is the committed history, in sequence order.
	Messages []schema.Message
	// Partial is set on resume: the uncommitted assistant message whose
	// content seeds the continuation. May contain only reasoning parts.
	Partial *schema.Message
	// SessionID resumes a provider-side continuation when non-empty.
	SessionID       schema.SessionID
	Model           schema.ModelID
	ReasoningEffort string
}

// StreamHandle exposes the event stream and invocation lifecycle controls.
type StreamHandle interface {
	Events() EventStream
	// Cancel requests the invocation stop; observed at the next delta
	// boundary. Safe to call before any output has been produced.
	Cancel(ctx context.Context) error
	Wait(ctx context.Context) (InvokeResult, error)
	Close() error
}

// EventStream yields normalized incremental units until io.EOF.
type EventStream interface {
	Next(ctx context.Context) (schema.AgentEvent, error)
	Close() error
}

// InvokeResult describes the invocation outcome.
type InvokeResult struct {
	ExitCode int
}
