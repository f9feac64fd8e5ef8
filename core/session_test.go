package core

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/parley/internal/histstore"
	"pkt.systems/parley/schema"
)

type scriptedStream struct {
	mu     sync.Mutex
	events []schema.AgentEvent
	idx    int
	gate   chan struct{}
	err    error
}

func (s *scriptedStream) Next(ctx context.Context) (schema.AgentEvent, error) {
	s.mu.Lock()
	if s.idx < len(s.events) {
		event := s.events[s.idx]
		s.idx++
		s.mu.Unlock()
		return event, nil
	}
	gate := s.gate
	err := s.err
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-ctx.Done():
			return schema.AgentEvent{}, ctx.Err()
		case <-gate:
		}
	}
	if err != nil {
		return schema.AgentEvent{}, err
	}
	return schema.AgentEvent{}, io.EOF
}

func (s *scriptedStream) Close() error { return nil }

type fakeHandle struct {
	stream   *scriptedStream
	exitCode int

	once       sync.Once
	mu         sync.Mutex
	cancelSeen bool
}

func (h *fakeHandle) Events() EventStream { return h.stream }

func (h *fakeHandle) Cancel(ctx context.Context) error {
	h.mu.Lock()
	h.cancelSeen = true
	h.mu.Unlock()
	h.once.Do(func() {
		if h.stream.gate != nil {
			close(h.stream.gate)
		}
	})
	return nil
}

func (h *fakeHandle) Wait(ctx context.Context) (InvokeResult, error) {
	return InvokeResult{ExitCode: h.exitCode}, nil
}

func (h *fakeHandle) Close() error { return nil }

func (h *fakeHandle) cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelSeen
}

type fakeInvoker struct {
	mu      sync.Mutex
	handles []*fakeHandle
	reqs    []InvokeRequest
	err     error
}

func (f *fakeInvoker) Invoke(ctx context.Context, req InvokeRequest) (StreamHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.handles) == 0 {
		return nil, errors.New("no scripted handle")
	}
	handle := f.handles[0]
	f.handles = f.handles[1:]
	return handle, nil
}

func (f *fakeInvoker) requests() []InvokeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]InvokeRequest, len(f.reqs))
	copy(out, f.reqs)
	return out
}

type captureSink struct {
	mu   sync.Mutex
	chat []schema.ChatEvent
	meta []schema.MetadataEvent
}

func (c *captureSink) OnChat(event schema.ChatEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chat = append(c.chat, event)
}

func (c *captureSink) OnMetadata(event schema.MetadataEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta = append(c.meta, event)
}

func (c *captureSink) chatEvents() []schema.ChatEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]schema.ChatEvent, len(c.chat))
	copy(out, c.chat)
	return out
}

func (c *captureSink) hasChat(eventType schema.ChatEventType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, event := range c.chat {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestSession(t *testing.T, invoker Invoker, sink EventSink) (*Session, *histstore.Store) {
	t.Helper()
	store := newTestStore(t)
	session := NewSession("ws1", store, ServiceDeps{Invoker: invoker, EventSink: sink}, "model-x")
	return session, store
}

func TestSendMessageStreamsAndCommits(t *testing.T) {
	usage := &schema.TokenUsage{InputTokens: 10, OutputTokens: 4}
	invoker := &fakeInvoker{handles: []*fakeHandle{{stream: &scriptedStream{events: []schema.AgentEvent{
		{Type: schema.AgentStarted, SessionID: "sess-1"},
		{Type: schema.AgentTextDelta, Text: "Hel"},
		{Type: schema.AgentTextDelta, Text: "lo"},
		{Type: schema.AgentCompleted, Usage: usage},
	}}}}}
	sink := &captureSink{}
	session, _ := newTestSession(t, invoker, sink)

	resp, err := session.SendMessage(context.Background(), "hi", schema.SendOptions{})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !resp.Accepted || resp.UserMessageID == "" || resp.AssistantMessageID == "" {
		t.Fatalf("unexpected response: %#v", resp)
	}
	waitFor(t, "stream end", func() bool { return sink.hasChat(schema.ChatStreamEnd) })

	messages, status, err := session.GetHistory()
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if status != schema.StatusIdle {
		t.Fatalf("expected idle, got %s", status)
	}
	if len(messages) != 2 {
		t.Fatalf("expected user + assistant, got %d messages", len(messages))
	}
	assistant := messages[1]
	if assistant.Role != schema.RoleAssistant || assistant.VisibleText() != "Hello" {
		t.Fatalf("unexpected assistant message: %#v", assistant)
	}
	if assistant.Meta.Partial {
		t.Fatalf("committed message still marked partial")
	}
	if assistant.Meta.Session != "sess-1" {
		t.Fatalf("expected session id recorded, got %q", assistant.Meta.Session)
	}
	if assistant.Meta.Usage == nil || assistant.Meta.Usage.OutputTokens != 4 {
		t.Fatalf("expected usage recorded, got %#v", assistant.Meta.Usage)
	}
	if seq, ok := assistant.Seq(); !ok || seq != 1 {
		t.Fatalf("expected assistant at seq 1, got %v %v", seq, ok)
	}

	partial, err := session.partial.Get()
	if err != nil {
		t.Fatalf("partial get: %v", err)
	}
	if partial != nil {
		t.Fatalf("expected partial cleared after commit")
	}

	types := make([]schema.ChatEventType, 0)
	for _, event := range sink.chatEvents() {
		types = append(types, event.Type)
	}
	want := []schema.ChatEventType{
		schema.ChatMessage,
		schema.ChatStreamStart,
		schema.ChatStreamDelta,
		schema.ChatStreamDelta,
		schema.ChatStreamEnd,
	}
	if len(types) != len(want) {
		t.Fatalf("unexpected events: %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], types[i])
		}
	}
}

func TestSendMessageRejectsEmptyWhileIdle(t *testing.T) {
	session, _ := newTestSession(t, &fakeInvoker{}, &captureSink{})
	if _, err := session.SendMessage(context.Background(), "  ", schema.SendOptions{}); !errors.Is(err, schema.ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestSendMessageConflictWhileStreaming(t *testing.T) {
	gated := &fakeHandle{stream: &scriptedStream{gate: make(chan struct{})}}
	invoker := &fakeInvoker{handles: []*fakeHandle{gated}}
	sink := &captureSink{}
	session, _ := newTestSession(t, invoker, sink)

	if _, err := session.SendMessage(context.Background(), "first", schema.SendOptions{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := session.SendMessage(context.Background(), "second", schema.SendOptions{}); !errors.Is(err, schema.ErrStreamActive) {
		t.Fatalf("expected ErrStreamActive on send, got %v", err)
	}
	if _, err := session.Resume(context.Background(), schema.SendOptions{}); !errors.Is(err, schema.ErrStreamActive) {
		t.Fatalf("expected ErrStreamActive on resume, got %v", err)
	}
	if _, err := session.TruncateByFraction(0.5); !errors.Is(err, schema.ErrStreamActive) {
		t.Fatalf("expected ErrStreamActive on truncate, got %v", err)
	}

	session.Interrupt(context.Background())
	waitFor(t, "session idle", func() bool { return session.Status() == schema.StatusIdle })
}

func TestInterruptIdleIsNoOp(t *testing.T) {
	session, _ := newTestSession(t, &fakeInvoker{}, &captureSink{})
	for i := 0; i < 2; i++ {
		if status := session.Interrupt(context.Background()); status != schema.StatusIdle {
			t.Fatalf("interrupt %d: expected idle, got %s", i, status)
		}
	}
}

func TestInterruptCommitsAccumulatedPartial(t *testing.T) {
	gated := &fakeHandle{stream: &scriptedStream{
		events: []schema.AgentEvent{
			{Type: schema.AgentStarted, SessionID: "sess-1"},
			{Type: schema.AgentTextDelta, Text: "partial ans"},
		},
		gate: make(chan struct{}),
	}}
	invoker := &fakeInvoker{handles: []*fakeHandle{gated}}
	sink := &captureSink{}
	session, _ := newTestSession(t, invoker, sink)

	if _, err := session.SendMessage(context.Background(), "go", schema.SendOptions{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "first delta", func() bool { return sink.hasChat(schema.ChatStreamDelta) })

	if status := session.Interrupt(context.Background()); status != schema.StatusInterrupting {
		t.Fatalf("expected interrupting, got %s", status)
	}
	if !gated.cancelled() {
		t.Fatalf("expected cancel forwarded to handle")
	}
	waitFor(t, "abort commit", func() bool { return sink.hasChat(schema.ChatStreamAbort) })

	messages, status, err := session.GetHistory()
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if status != schema.StatusIdle {
		t.Fatalf("expected idle after abort, got %s", status)
	}
	assistant := messages[len(messages)-1]
	if assistant.Role != schema.RoleAssistant || !assistant.Meta.Partial {
		t.Fatalf("expected aborted message committed as partial, got %#v", assistant)
	}
	if assistant.VisibleText() != "partial ans" {
		t.Fatalf("unexpected aborted text: %q", assistant.VisibleText())
	}
	partial, err := session.partial.Get()
	if err != nil {
		t.Fatalf("partial get: %v", err)
	}
	if partial != nil {
		t.Fatalf("expected partial slot cleared after abort commit")
	}
}

func TestStreamErrorCommitsBreadcrumb(t *testing.T) {
	failed := &fakeHandle{stream: &scriptedStream{events: []schema.AgentEvent{
		{Type: schema.AgentStarted, SessionID: "sess-1"},
		{Type: schema.AgentTextDelta, Text: "half an ans"},
		{Type: schema.AgentError, Message: "stream lost"},
	}}}
	invoker := &fakeInvoker{handles: []*fakeHandle{failed}}
	sink := &captureSink{}
	session, _ := newTestSession(t, invoker, sink)

	if _, err := session.SendMessage(context.Background(), "question", schema.SendOptions{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "stream error", func() bool { return sink.hasChat(schema.ChatStreamError) })

	partial, err := session.partial.Get()
	if err != nil {
		t.Fatalf("partial get: %v", err)
	}
	if partial != nil {
		t.Fatalf("expected partial slot cleared after failure, got %#v", partial)
	}

	messages, _, err := session.GetHistory()
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected user, partial assistant and breadcrumb, got %d messages", len(messages))
	}
	assistant := messages[1]
	if assistant.Role != schema.RoleAssistant || !assistant.Meta.Partial || assistant.VisibleText() != "half an ans" {
		t.Fatalf("expected accumulated content committed as partial, got %#v", assistant)
	}
	crumb := messages[2]
	if crumb.Role != schema.RoleSystem || !strings.Contains(crumb.VisibleText(), "stream lost") {
		t.Fatalf("unexpected breadcrumb: %#v", crumb)
	}

	for _, event := range sink.chatEvents() {
		if event.Type == schema.ChatStreamError && event.ErrorKind != schema.KindModel {
			t.Fatalf("expected model error kind, got %s", event.ErrorKind)
		}
	}

	if _, err := session.Resume(context.Background(), schema.SendOptions{}); !errors.Is(err, schema.ErrNothingToResume) {
		t.Fatalf("expected nothing to resume after failure commit, got %v", err)
	}
}

func TestResumeAfterCrashContinuesPartial(t *testing.T) {
	handle := &fakeHandle{stream: &scriptedStream{events: []schema.AgentEvent{
		{Type: schema.AgentTextDelta, Text: "wer"},
		{Type: schema.AgentCompleted},
	}}}
	invoker := &fakeInvoker{handles: []*fakeHandle{handle}}
	sink := &captureSink{}
	session, store := newTestSession(t, invoker, sink)

	if _, err := session.history.Append(userMsg("m1", "question")); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Simulate a process crash mid-stream: the slot is on disk, nothing
	// committed.
	seed := schema.Message{
		ID:    "p1",
		Role:  schema.RoleAssistant,
		Parts: []schema.Part{{Type: schema.PartText, Text: "half an ans"}},
		Meta:  schema.Meta{Partial: true, Session: "sess-1"},
	}
	if err := store.SavePartial("ws1", seed); err != nil {
		t.Fatalf("seed partial: %v", err)
	}

	resp, err := session.Resume(context.Background(), schema.SendOptions{})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !resp.Accepted || resp.AssistantMessageID != "p1" {
		t.Fatalf("expected resume of the stored partial, got %#v", resp)
	}
	waitFor(t, "resume commit", func() bool { return sink.hasChat(schema.ChatStreamEnd) })

	messages, _, err := session.GetHistory()
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected one user and one assistant message, got %d", len(messages))
	}
	assistant := messages[1]
	if assistant.VisibleText() != "half an answer" {
		t.Fatalf("expected merged continuation, got %q", assistant.VisibleText())
	}
	if assistant.ID != "p1" {
		t.Fatalf("resume committed a different message id")
	}
	if assistant.Meta.Partial {
		t.Fatalf("resumed commit still marked partial")
	}

	reqs := invoker.requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one invocation, got %d", len(reqs))
	}
	if reqs[0].Partial == nil || reqs[0].SessionID != "sess-1" {
		t.Fatalf("expected continuation request with partial and session, got %#v", reqs[0])
	}

	// The slot is cleared, so a second resume cannot duplicate the commit.
	if _, err := session.Resume(context.Background(), schema.SendOptions{}); !errors.Is(err, schema.ErrNothingToResume) {
		t.Fatalf("expected nothing to resume after commit, got %v", err)
	}
}

func TestResumeWithoutPartial(t *testing.T) {
	session, _ := newTestSession(t, &fakeInvoker{}, &captureSink{})
	if _, err := session.Resume(context.Background(), schema.SendOptions{}); !errors.Is(err, schema.ErrNothingToResume) {
		t.Fatalf("expected ErrNothingToResume, got %v", err)
	}
}

func TestResumeReasoningOnlyPartial(t *testing.T) {
	handle := &fakeHandle{stream: &scriptedStream{events: []schema.AgentEvent{
		{Type: schema.AgentTextDelta, Text: "final answer"},
		{Type: schema.AgentCompleted},
	}}}
	invoker := &fakeInvoker{handles: []*fakeHandle{handle}}
	sink := &captureSink{}
	session, store := newTestSession(t, invoker, sink)

	// A crash can leave a partial holding only reasoning output.
	seed := schema.Message{
		ID:   "p1",
		Role: schema.RoleAssistant,
		Parts: []schema.Part{
			{Type: schema.PartReasoning, Reasoning: "working through it"},
		},
		Meta: schema.Meta{Partial: true, Session: "sess-9"},
	}
	if err := store.SavePartial("ws1", seed); err != nil {
		t.Fatalf("seed partial: %v", err)
	}

	resp, err := session.Resume(context.Background(), schema.SendOptions{})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !resp.Accepted || resp.AssistantMessageID != "p1" {
		t.Fatalf("unexpected resume response: %#v", resp)
	}
	waitFor(t, "resume commit", func() bool { return sink.hasChat(schema.ChatStreamEnd) })

	messages, _, err := session.GetHistory()
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected one committed message, got %d", len(messages))
	}
	committed := messages[0]
	if len(committed.Parts) != 2 || committed.Parts[0].Type != schema.PartReasoning || committed.Parts[1].Type != schema.PartText {
		t.Fatalf("expected reasoning then text parts, got %#v", committed.Parts)
	}
}

func TestEmptySendWhileStreamingInterrupts(t *testing.T) {
	gated := &fakeHandle{stream: &scriptedStream{
		events: []schema.AgentEvent{{Type: schema.AgentTextDelta, Text: "some"}},
		gate:   make(chan struct{}),
	}}
	invoker := &fakeInvoker{handles: []*fakeHandle{gated}}
	sink := &captureSink{}
	session, _ := newTestSession(t, invoker, sink)

	if _, err := session.SendMessage(context.Background(), "start", schema.SendOptions{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "first delta", func() bool { return sink.hasChat(schema.ChatStreamDelta) })

	resp, err := session.SendMessage(context.Background(), "", schema.SendOptions{})
	if err != nil {
		t.Fatalf("empty send during stream: %v", err)
	}
	if resp.Accepted {
		t.Fatalf("empty send should not start a stream")
	}
	waitFor(t, "abort", func() bool { return sink.hasChat(schema.ChatStreamAbort) })
	if session.Status() != schema.StatusIdle {
		t.Fatalf("expected idle after interrupt, got %s", session.Status())
	}
}

func TestInvokeFailureLeavesSessionIdle(t *testing.T) {
	invoker := &fakeInvoker{err: errors.New("spawn failed")}
	session, _ := newTestSession(t, invoker, &captureSink{})
	if _, err := session.SendMessage(context.Background(), "hi", schema.SendOptions{}); err == nil {
		t.Fatalf("expected invoke error")
	}
	if session.Status() != schema.StatusIdle {
		t.Fatalf("expected idle after failed invoke, got %s", session.Status())
	}
	partial, err := session.partial.Get()
	if err != nil {
		t.Fatalf("partial get: %v", err)
	}
	if partial != nil {
		t.Fatalf("expected no partial after failed invoke")
	}
}

func TestCompactReplacePermittedWhileStreaming(t *testing.T) {
	gated := &fakeHandle{stream: &scriptedStream{gate: make(chan struct{})}}
	invoker := &fakeInvoker{handles: []*fakeHandle{gated}}
	sink := &captureSink{}
	session, _ := newTestSession(t, invoker, sink)

	if _, err := session.SendMessage(context.Background(), "long conversation", schema.SendOptions{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	summary := schema.NewSystemMessage("", "condensed")
	summary.ID = "sum"
	if _, _, err := session.ReplaceHistory(summary, false); !errors.Is(err, schema.ErrStreamActive) {
		t.Fatalf("expected plain replace rejected, got %v", err)
	}
	removed, stored, err := session.ReplaceHistory(summary, true)
	if err != nil {
		t.Fatalf("compact replace: %v", err)
	}
	if len(removed) == 0 {
		t.Fatalf("expected committed user message removed")
	}
	if !stored.Meta.Compacted {
		t.Fatalf("expected summary marked compacted")
	}

	session.Interrupt(context.Background())
	waitFor(t, "session idle", func() bool { return session.Status() == schema.StatusIdle })
}

func TestReplaceEmitsDeleteBeforeSummary(t *testing.T) {
	sink := &captureSink{}
	session, _ := newTestSession(t, &fakeInvoker{}, sink)
	if _, err := session.history.Append(userMsg("m1", "Remember the word X")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := session.history.Append(schema.Message{
		ID:    "m2",
		Role:  schema.RoleAssistant,
		Parts: []schema.Part{{Type: schema.PartText, Text: "noted"}},
	}); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	removed, stored, err := session.ReplaceHistory(schema.NewSystemMessage("sum", "summary of X"), false)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if !reflect.DeepEqual(removed, []int64{0, 1}) {
		t.Fatalf("expected seqs [0 1] removed, got %v", removed)
	}
	if seq, ok := stored.Seq(); !ok || seq != 0 {
		t.Fatalf("expected summary at seq 0, got %v %v", seq, ok)
	}

	messages, _, err := session.GetHistory()
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != "sum" {
		t.Fatalf("expected only the summary committed, got %#v", messages)
	}

	events := sink.chatEvents()
	deleteAt, messageAt := -1, -1
	for i, event := range events {
		switch event.Type {
		case schema.ChatDelete:
			deleteAt = i
			if !reflect.DeepEqual(event.Removed, []int64{0, 1}) {
				t.Fatalf("delete event removed %v", event.Removed)
			}
		case schema.ChatMessage:
			if event.Message != nil && event.Message.ID == "sum" {
				messageAt = i
			}
		}
	}
	if deleteAt < 0 || messageAt < 0 || deleteAt > messageAt {
		t.Fatalf("expected delete before summary message, got delete=%d message=%d", deleteAt, messageAt)
	}
}

func TestReplayEmitsHistoryPartialAndSentinel(t *testing.T) {
	session, store := newTestSession(t, &fakeInvoker{}, &captureSink{})
	if _, err := session.history.Append(userMsg("m1", "question")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := session.history.Append(schema.Message{
		ID:    "m2",
		Role:  schema.RoleAssistant,
		Parts: []schema.Part{{Type: schema.PartText, Text: "answer"}},
	}); err != nil {
		t.Fatalf("append assistant: %v", err)
	}
	partial := schema.Message{
		ID:    "p1",
		Role:  schema.RoleAssistant,
		Parts: []schema.Part{{Type: schema.PartText, Text: "draft"}},
		Meta:  schema.Meta{Partial: true},
	}
	if err := store.SavePartial("ws1", partial); err != nil {
		t.Fatalf("seed partial: %v", err)
	}

	var events []schema.ChatEvent
	if err := session.Replay(func(event schema.ChatEvent) {
		events = append(events, event)
	}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 replay events, got %d", len(events))
	}
	for i := 0; i < 3; i++ {
		if events[i].Type != schema.ChatMessage {
			t.Fatalf("event %d: expected message, got %s", i, events[i].Type)
		}
	}
	if events[2].Message == nil || !events[2].Message.Meta.Partial {
		t.Fatalf("expected third event to carry the partial, got %#v", events[2])
	}
	if events[3].Type != schema.ChatCaughtUp {
		t.Fatalf("expected caught-up sentinel last, got %s", events[3].Type)
	}
}

func TestReplayDoesNotHoldLockDuringEmit(t *testing.T) {
	session, _ := newTestSession(t, &fakeInvoker{}, &captureSink{})
	if _, err := session.history.Append(userMsg("m1", "question")); err != nil {
		t.Fatalf("append: %v", err)
	}

	var once sync.Once
	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = session.Replay(func(schema.ChatEvent) {
			once.Do(func() { close(entered) })
			<-release
		})
	}()
	<-entered

	// A stalled subscriber must not block the state machine.
	done := make(chan struct{})
	go func() {
		session.Status()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("session locked while replay emit was blocked")
	}
	close(release)
}

func TestUpdateMetaEmitsMetadataEvent(t *testing.T) {
	sink := &captureSink{}
	session, _ := newTestSession(t, &fakeInvoker{}, sink)
	session.UpdateMeta("My Workspace", "model-y")
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.meta) != 1 {
		t.Fatalf("expected one metadata event, got %d", len(sink.meta))
	}
	event := sink.meta[0]
	if event.Type != schema.MetadataUpdated || event.Name != "My Workspace" || event.Model != "model-y" {
		t.Fatalf("unexpected metadata event: %#v", event)
	}
}
