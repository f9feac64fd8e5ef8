package core

import "pkt.systems/parley/schema"

// EventSink receives chat and metadata events from workspace sessions.
type EventSink interface {
	OnChat(event schema.ChatEvent)
	OnMetadata(event schema.MetadataEvent)
}
