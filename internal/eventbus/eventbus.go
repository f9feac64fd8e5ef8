package eventbus

import (
	"context"
	"sync"

	"pkt.systems/parley/schema"
	"pkt.systems/pslog"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventChat carries a chat-channel event for a workspace.
	EventChat EventType = "chat"
	// EventMetadata carries a workspace-level metadata event.
	EventMetadata EventType = "metadata"
)

// Event wraps one event delivered to subscribers of a workspace.
type Event struct {
	Type     EventType
	Chat     schema.ChatEvent
	Metadata schema.MetadataEvent
}

// Bus fans events out to per-workspace subscribers. Publishing never blocks;
// a subscriber that falls behind loses events and is expected to recover via
// the replay contract.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.WorkspaceID]map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus with the given subscriber channel depth.
func New(logger pslog.Logger, depth int) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if depth <= 0 {
		depth = schema.DefaultEventBufferDepth
	}
	return &Bus{
		subs:  make(map[schema.WorkspaceID]map[chan Event]struct{}),
		log:   logger,
		depth: depth,
	}
}

// Subscribe registers a subscriber for the workspace and returns a channel
// plus a cancel func. Cancel is safe to call more than once.
func (b *Bus) Subscribe(id schema.WorkspaceID) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	wsSubs := b.subs[id]
	if wsSubs == nil {
		wsSubs = make(map[chan Event]struct{})
		b.subs[id] = wsSubs
	}
	wsSubs[ch] = struct{}{}
	count := len(wsSubs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("workspace", id).Debug("eventbus subscribe", "subs", count)
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[id]; subs != nil {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subs, id)
				}
			}
			close(ch)
			b.mu.Unlock()
			if b.log != nil {
				b.log.With("workspace", id).Debug("eventbus unsubscribe")
			}
		})
	}
}

// OnChat publishes a chat event to the workspace's subscribers.
func (b *Bus) OnChat(event schema.ChatEvent) {
	b.publish(event.Workspace, Event{Type: EventChat, Chat: event})
}

// OnMetadata publishes a metadata event to the workspace's subscribers.
func (b *Bus) OnMetadata(event schema.MetadataEvent) {
	b.publish(event.Workspace, Event{Type: EventMetadata, Metadata: event})
}

func (b *Bus) publish(id schema.WorkspaceID, event Event) {
	if b == nil {
		return
	}
	// Sends stay under the lock so a concurrent unsubscribe cannot close a
	// channel mid-send; sends are non-blocking so the lock is never held up.
	b.mu.Lock()
	dropped := 0
	for sub := range b.subs[id] {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 && b.log != nil {
		b.log.With("workspace", id).Trace("eventbus dropped", "count", dropped)
	}
}
