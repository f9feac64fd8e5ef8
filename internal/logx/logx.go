package logx

import (
	"context"

	"pkt.systems/parley/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	workspaceKey contextKey = iota
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithWorkspace annotates the logger with the workspace id if present.
func WithWorkspace(ctx context.Context, id schema.WorkspaceID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if id != "" {
		if current, ok := ctx.Value(workspaceKey).(schema.WorkspaceID); ok && current == id {
			return log
		}
		log = log.With("workspace", id)
	}
	return log
}

// WithSession annotates the logger with a provider session id when available.
func WithSession(log pslog.Logger, sessionID schema.SessionID) pslog.Logger {
	if sessionID != "" {
		log = log.With("session", sessionID)
	}
	return log
}

// ContextWithWorkspace stores the workspace marker on the context for log
// de-duplication.
func ContextWithWorkspace(ctx context.Context, id schema.WorkspaceID) context.Context {
	if ctx == nil || id == "" {
		return ctx
	}
	return context.WithValue(ctx, workspaceKey, id)
}

// ContextWithWorkspaceLogger attaches the logger and workspace marker to the
// context.
func ContextWithWorkspaceLogger(ctx context.Context, log pslog.Logger, id schema.WorkspaceID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithWorkspace(ctx, id)
}
