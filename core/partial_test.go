package core

import (
	"testing"

	"pkt.systems/parley/schema"
)

func TestPartialBufferLifecycle(t *testing.T) {
	store := newTestStore(t)
	buf := NewPartialBuffer("ws1", store, nil)

	got, err := buf.Get()
	if err != nil {
		t.Fatalf("get empty: %v", err)
	}
	if got != nil {
		t.Fatalf("expected empty slot, got %#v", got)
	}

	partial := schema.Message{
		ID:   "p1",
		Role: schema.RoleAssistant,
		Parts: []schema.Part{
			{Type: schema.PartReasoning, Reasoning: "thinking"},
		},
		Meta: schema.Meta{Partial: true},
	}
	if err := buf.Set(partial); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err = buf.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.ID != "p1" || !got.Meta.Partial {
		t.Fatalf("unexpected partial: %#v", got)
	}

	// Returned copies do not alias the cached slot.
	got.Parts[0].Reasoning = "mutated"
	again, err := buf.Get()
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.Parts[0].Reasoning != "thinking" {
		t.Fatalf("cached partial mutated: %q", again.Parts[0].Reasoning)
	}

	if err := buf.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err = buf.Get()
	if err != nil {
		t.Fatalf("get cleared: %v", err)
	}
	if got != nil {
		t.Fatalf("expected cleared slot, got %#v", got)
	}
	if err := buf.Clear(); err != nil {
		t.Fatalf("clear empty slot: %v", err)
	}
}

func TestPartialBufferDurableAcrossInstances(t *testing.T) {
	store := newTestStore(t)
	first := NewPartialBuffer("ws1", store, nil)
	partial := schema.Message{
		ID:    "p1",
		Role:  schema.RoleAssistant,
		Parts: []schema.Part{{Type: schema.PartText, Text: "half an ans"}},
		Meta:  schema.Meta{Partial: true},
	}
	if err := first.Set(partial); err != nil {
		t.Fatalf("set: %v", err)
	}

	second := NewPartialBuffer("ws1", store, nil)
	got, err := second.Get()
	if err != nil {
		t.Fatalf("get from fresh buffer: %v", err)
	}
	if got == nil || got.Parts[0].Text != "half an ans" {
		t.Fatalf("expected durable partial, got %#v", got)
	}
}
