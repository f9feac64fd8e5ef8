package core

import (
	"context"
	"sync"
	"time"

	"pkt.systems/parley/internal/histstore"
	"pkt.systems/parley/schema"
)

// Registry lazily materializes one Session per workspace. Runtimes are
// created on first use; durable state alone defines a workspace, so a
// restart rebuilds the same registry contents on demand.
type Registry struct {
	store        *histstore.Store
	deps         ServiceDeps
	defaultModel schema.ModelID

	mu       sync.Mutex
	sessions map[schema.WorkspaceID]*Session
}

// NewRegistry builds an empty registry over the shared store.
func NewRegistry(store *histstore.Store, deps ServiceDeps, defaultModel schema.ModelID) *Registry {
	return &Registry{
		store:        store,
		deps:         deps,
		defaultModel: defaultModel,
		sessions:     make(map[schema.WorkspaceID]*Session),
	}
}

// Get returns the workspace's session runtime, creating it on first use.
func (r *Registry) Get(ws schema.WorkspaceID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[ws]
	if !ok {
		session = NewSession(ws, r.store, r.deps, r.defaultModel)
		r.sessions[ws] = session
	}
	return session
}

// Peek returns the runtime if it has already been materialized.
func (r *Registry) Peek(ws schema.WorkspaceID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[ws]
	return session, ok
}

// Dispose drops the workspace runtime, interrupting any active stream first.
// Durable history is left in place for the lifecycle collaborator to archive
// or remove.
func (r *Registry) Dispose(ctx context.Context, ws schema.WorkspaceID) {
	r.mu.Lock()
	session, ok := r.sessions[ws]
	delete(r.sessions, ws)
	r.mu.Unlock()
	if ok {
		session.Shutdown(ctx)
	}
	if r.deps.EventSink != nil {
		r.deps.EventSink.OnMetadata(schema.MetadataEvent{
			Workspace: ws,
			Type:      schema.MetadataDisposed,
			Timestamp: time.Now().UTC(),
		})
	}
}

// Shutdown interrupts and drains every materialized session.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.Unlock()
	for _, session := range sessions {
		session.Shutdown(ctx)
	}
}
