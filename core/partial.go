package core

import (
	"sync"

	"pkt.systems/parley/internal/histstore"
	"pkt.systems/parley/schema"
	"pkt.systems/pslog"
)

// PartialBuffer holds the single in-flight assistant message for a workspace.
// At most one partial exists at a time; setting a new one overwrites the
// previous slot. The buffer is durable so a crashed stream can be resumed
// after restart.
type PartialBuffer struct {
	ws    schema.WorkspaceID
	store *histstore.Store
	log   pslog.Logger

	mu     sync.Mutex
	loaded bool
	cached *schema.Message
}

// NewPartialBuffer constructs the partial buffer for a workspace.
func NewPartialBuffer(ws schema.WorkspaceID, store *histstore.Store, logger pslog.Logger) *PartialBuffer {
	if logger != nil {
		logger = logger.With("workspace", ws)
	}
	return &PartialBuffer{ws: ws, store: store, log: logger}
}

func (p *PartialBuffer) ensureLoadedLocked() error {
	if p.loaded {
		return nil
	}
	msg, ok, err := p.store.LoadPartial(p.ws)
	if err != nil {
		return err
	}
	if ok {
		p.cached = &msg
	} else {
		p.cached = nil
	}
	p.loaded = true
	return nil
}

// Set durably overwrites the partial slot with a snapshot of the message.
func (p *PartialBuffer) Set(msg schema.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	snapshot := msg.Clone()
	if err := p.store.SavePartial(p.ws, snapshot); err != nil {
		return err
	}
	p.cached = &snapshot
	p.loaded = true
	return nil
}

// Get returns a copy of the current partial, or nil when the slot is empty.
func (p *PartialBuffer) Get() (*schema.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	if p.cached == nil {
		return nil, nil
	}
	clone := p.cached.Clone()
	return &clone, nil
}

// Clear empties the partial slot. Clearing an already-empty slot is a no-op.
func (p *PartialBuffer) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.ClearPartial(p.ws); err != nil {
		return err
	}
	p.cached = nil
	p.loaded = true
	return nil
}
