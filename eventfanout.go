package parley

import (
	"pkt.systems/parley/core"
	"pkt.systems/parley/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnChat(event schema.ChatEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnChat(event)
	}
}

func (f eventFanout) OnMetadata(event schema.MetadataEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnMetadata(event)
	}
}
