package core

import (
	"context"
	"testing"

	"pkt.systems/parley/schema"
)

func TestRegistryLazyMaterialization(t *testing.T) {
	store := newTestStore(t)
	registry := NewRegistry(store, ServiceDeps{Invoker: &fakeInvoker{}}, "model-x")

	if _, ok := registry.Peek("ws1"); ok {
		t.Fatalf("expected no runtime before first use")
	}
	first := registry.Get("ws1")
	if first == nil {
		t.Fatalf("expected session runtime")
	}
	if again := registry.Get("ws1"); again != first {
		t.Fatalf("expected the same runtime on repeat access")
	}
	if peeked, ok := registry.Peek("ws1"); !ok || peeked != first {
		t.Fatalf("expected peek to find the materialized runtime")
	}
	if other := registry.Get("ws2"); other == first {
		t.Fatalf("expected distinct runtimes per workspace")
	}
}

func TestRegistryDisposeDropsRuntimeAndAnnounces(t *testing.T) {
	store := newTestStore(t)
	sink := &captureSink{}
	registry := NewRegistry(store, ServiceDeps{Invoker: &fakeInvoker{}, EventSink: sink}, "model-x")

	session := registry.Get("ws1")
	if _, err := session.history.Append(userMsg("m1", "keep me")); err != nil {
		t.Fatalf("append: %v", err)
	}

	registry.Dispose(context.Background(), "ws1")
	if _, ok := registry.Peek("ws1"); ok {
		t.Fatalf("expected runtime removed after dispose")
	}
	sink.mu.Lock()
	meta := append([]schema.MetadataEvent(nil), sink.meta...)
	sink.mu.Unlock()
	if len(meta) != 1 || meta[0].Type != schema.MetadataDisposed || meta[0].Workspace != "ws1" {
		t.Fatalf("expected disposed event, got %#v", meta)
	}
	if meta[0].Timestamp.IsZero() {
		t.Fatalf("expected disposed event timestamped")
	}

	// Durable state survives; a fresh runtime rebuilds from it.
	revived := registry.Get("ws1")
	messages, _, err := revived.GetHistory()
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != "m1" {
		t.Fatalf("expected durable history after dispose, got %#v", messages)
	}
}

func TestRegistryDisposeUnknownWorkspace(t *testing.T) {
	store := newTestStore(t)
	sink := &captureSink{}
	registry := NewRegistry(store, ServiceDeps{EventSink: sink}, "model-x")
	registry.Dispose(context.Background(), "never-used")
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.meta) != 1 || sink.meta[0].Type != schema.MetadataDisposed {
		t.Fatalf("expected disposed event even for unmaterialized workspace, got %#v", sink.meta)
	}
}
