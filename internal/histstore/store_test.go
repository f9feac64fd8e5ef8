package histstore

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"pkt.systems/parley/schema"
)

func testMessage(id string, role schema.Role, text string, seq int64) schema.Message {
	msg := schema.Message{
		ID:   schema.MessageID(id),
		Role: role,
		Parts: []schema.Part{
			{Type: schema.PartText, Text: text},
		},
	}
	msg.SetSeq(seq)
	return msg
}

func TestAppendReadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ws := schema.WorkspaceID("ws1")
	first := testMessage("m1", schema.RoleUser, "hello", 0)
	second := testMessage("m2", schema.RoleAssistant, "hi there", 1)
	if err := store.Append(ws, first); err != nil {
		t.Fatalf("append first: %v", err)
	}
	if err := store.Append(ws, second); err != nil {
		t.Fatalf("append second: %v", err)
	}
	messages, err := store.ReadHistory(ws)
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if !reflect.DeepEqual(messages[0], first) || !reflect.DeepEqual(messages[1], second) {
		t.Fatalf("round trip mismatch: %#v", messages)
	}
}

func TestReadHistoryMissingFileIsEmpty(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	messages, err := store.ReadHistory("nothing")
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected empty history, got %d", len(messages))
	}
}

func TestReadHistorySkipsCorruptRecords(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ws := schema.WorkspaceID("ws1")
	if err := store.Append(ws, testMessage("m1", schema.RoleUser, "first", 0)); err != nil {
		t.Fatalf("append: %v", err)
	}
	path := filepath.Join(dir, "workspaces", "ws1", "history.jsonl")
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := file.WriteString("{not json at all\n"); err != nil {
		t.Fatalf("write corrupt line: %v", err)
	}
	_ = file.Close()
	if err := store.Append(ws, testMessage("m2", schema.RoleAssistant, "second", 1)); err != nil {
		t.Fatalf("append after corruption: %v", err)
	}
	messages, err := store.ReadHistory(ws)
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected corrupt line skipped, got %d messages", len(messages))
	}
	if messages[0].ID != "m1" || messages[1].ID != "m2" {
		t.Fatalf("unexpected ids: %s %s", messages[0].ID, messages[1].ID)
	}
}

func TestRewriteReplacesLog(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ws := schema.WorkspaceID("ws1")
	if err := store.Append(ws, testMessage("m1", schema.RoleUser, "old", 0)); err != nil {
		t.Fatalf("append: %v", err)
	}
	replacement := []schema.Message{testMessage("m9", schema.RoleSystem, "summary", 0)}
	if err := store.Rewrite(ws, replacement); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	messages, err := store.ReadHistory(ws)
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != "m9" {
		t.Fatalf("expected rewritten log, got %#v", messages)
	}
}

func TestPartialSlotLifecycle(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ws := schema.WorkspaceID("ws1")
	if _, ok, err := store.LoadPartial(ws); err != nil || ok {
		t.Fatalf("expected empty slot, ok=%v err=%v", ok, err)
	}
	partial := testMessage("p1", schema.RoleAssistant, "in fli", 0)
	partial.Meta.Seq = nil
	partial.Meta.Partial = true
	if err := store.SavePartial(ws, partial); err != nil {
		t.Fatalf("save partial: %v", err)
	}
	loaded, ok, err := store.LoadPartial(ws)
	if err != nil {
		t.Fatalf("load partial: %v", err)
	}
	if !ok || !reflect.DeepEqual(loaded, partial) {
		t.Fatalf("partial mismatch: ok=%v %#v", ok, loaded)
	}
	if err := store.ClearPartial(ws); err != nil {
		t.Fatalf("clear partial: %v", err)
	}
	if _, ok, err := store.LoadPartial(ws); err != nil || ok {
		t.Fatalf("expected cleared slot, ok=%v err=%v", ok, err)
	}
	if err := store.ClearPartial(ws); err != nil {
		t.Fatalf("clear empty slot: %v", err)
	}
}

func TestLoadPartialMalformedTreatedAsAbsent(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ws := schema.WorkspaceID("ws1")
	path := filepath.Join(dir, "workspaces", "ws1", "partial.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, ok, err := store.LoadPartial(ws)
	if err != nil {
		t.Fatalf("load partial: %v", err)
	}
	if ok {
		t.Fatalf("expected malformed slot to be treated as absent")
	}
}

func TestWorkspaceDirSanitized(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	got := store.workspaceDir("a/b c")
	if strings.ContainsAny(filepath.Base(got), "/ ") {
		t.Fatalf("expected sanitized dir, got %s", got)
	}
	if filepath.Base(got) != "a_b_c" {
		t.Fatalf("unexpected sanitized name: %s", filepath.Base(got))
	}
}
