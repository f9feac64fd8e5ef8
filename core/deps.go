package core

import "pkt.systems/pslog"

// ServiceDeps captures dependencies for the session engine.
type ServiceDeps struct {
	Invoker   Invoker
	EventSink EventSink
	Logger    pslog.Logger
}
