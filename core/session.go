package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"pkt.systems/parley/internal/histstore"
	"pkt.systems/parley/internal/logx"
	"pkt.systems/parley/schema"
	"pkt.systems/pslog"
)

// Session is the runtime state machine for one workspace conversation. It
// owns the workspace's history log and partial buffer and serializes all
// stream lifecycle transitions behind its mutex.
//
// Status transitions: Idle -> Streaming (send/resume), Streaming ->
// Interrupting (interrupt), and any streaming state -> Idle when the consume
// goroutine commits the terminal outcome.
type Session struct {
	ws      schema.WorkspaceID
	history *HistoryLog
	partial *PartialBuffer
	invoker Invoker
	sink    EventSink
	log     pslog.Logger

	mu      sync.Mutex
	status  schema.SessionStatus
	current *schema.Message
	handle  StreamHandle
	cancel  context.CancelFunc
	done    chan struct{}

	pendingErr error

	lastSession schema.SessionID
	sessionInit bool

	name  string
	model schema.ModelID
}

// NewSession builds the runtime for a workspace on top of the shared store.
func NewSession(ws schema.WorkspaceID, store *histstore.Store, deps ServiceDeps, defaultModel schema.ModelID) *Session {
	logger := deps.Logger
	if logger != nil {
		logger = logger.With("workspace", ws)
	}
	return &Session{
		ws:      ws,
		history: NewHistoryLog(ws, store, deps.Logger),
		partial: NewPartialBuffer(ws, store, deps.Logger),
		invoker: deps.Invoker,
		sink:    deps.EventSink,
		log:     logger,
		status:  schema.StatusIdle,
		model:   defaultModel,
	}
}

// Status reports the current stream status.
func (s *Session) Status() schema.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// History exposes the workspace's committed log.
func (s *Session) History() *HistoryLog {
	return s.history
}

// SendMessage commits the user message and starts a new model stream. An
// empty text while streaming interrupts the active stream instead; an empty
// text while idle is rejected.
func (s *Session) SendMessage(ctx context.Context, text string, opts schema.SendOptions) (schema.SendMessageResponse, error) {
	s.mu.Lock()
	if strings.TrimSpace(text) == "" {
		if s.status == schema.StatusIdle {
			s.mu.Unlock()
			return schema.SendMessageResponse{}, schema.ErrEmptyMessage
		}
		handle, cancel := s.interruptLocked()
		s.mu.Unlock()
		cancelInvocation(ctx, handle, cancel)
		return schema.SendMessageResponse{}, nil
	}
	defer s.mu.Unlock()
	if s.status != schema.StatusIdle {
		return schema.SendMessageResponse{}, schema.ErrStreamActive
	}
	if s.invoker == nil {
		return schema.SendMessageResponse{}, schema.ErrInvokerUnavailable
	}

	user := schema.NewUserMessage(newMessageID(), text)
	if _, err := s.history.Append(user); err != nil {
		return schema.SendMessageResponse{}, err
	}
	s.emitChat(schema.ChatEvent{Type: schema.ChatMessage, Message: &user})

	// A fresh turn supersedes any leftover partial from an earlier crash.
	if err := s.partial.Clear(); err != nil {
		return schema.SendMessageResponse{}, err
	}

	model := opts.Model
	if model == "" {
		model = s.model
	}
	assistant := schema.Message{
		ID:   newMessageID(),
		Role: schema.RoleAssistant,
		Meta: schema.Meta{
			Timestamp: time.Now().UTC(),
			Model:     model,
			Partial:   true,
		},
	}
	if err := s.startStreamLocked(ctx, assistant, nil, opts); err != nil {
		return schema.SendMessageResponse{}, err
	}
	return schema.SendMessageResponse{
		UserMessageID:      user.ID,
		AssistantMessageID: assistant.ID,
		Accepted:           true,
	}, nil
}

// Resume continues the durable partial message from where the previous
// stream left off. A partial holding only reasoning parts is still
// resumable.
func (s *Session) Resume(ctx context.Context, opts schema.SendOptions) (schema.ResumeStreamResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != schema.StatusIdle {
		return schema.ResumeStreamResponse{}, schema.ErrStreamActive
	}
	if s.invoker == nil {
		return schema.ResumeStreamResponse{}, schema.ErrInvokerUnavailable
	}
	partial, err := s.partial.Get()
	if err != nil {
		return schema.ResumeStreamResponse{}, err
	}
	if partial == nil {
		return schema.ResumeStreamResponse{}, schema.ErrNothingToResume
	}
	if opts.Model != "" {
		partial.Meta.Model = opts.Model
	}
	seed := partial.Clone()
	if err := s.startStreamLocked(ctx, *partial, &seed, opts); err != nil {
		return schema.ResumeStreamResponse{}, err
	}
	return schema.ResumeStreamResponse{AssistantMessageID: partial.ID, Accepted: true}, nil
}

// startStreamLocked launches the invocation and the consume goroutine. The
// assistant message becomes the durable partial before the first delta so a
// crash at any point leaves a resumable slot. Caller holds s.mu.
func (s *Session) startStreamLocked(ctx context.Context, assistant schema.Message, seed *schema.Message, opts schema.SendOptions) error {
	if err := s.partial.Set(assistant); err != nil {
		return err
	}
	messages, err := s.history.Read()
	if err != nil {
		return err
	}
	sessionID := s.sessionIDLocked(assistant)

	// The stream must outlive the request that started it.
	invCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	handle, err := s.invoker.Invoke(invCtx, InvokeRequest{
		Workspace:       s.ws,
		Messages:        messages,
		Partial:         seed,
		SessionID:       sessionID,
		Model:           assistant.Meta.Model,
		ReasoningEffort: opts.ReasoningEffort,
	})
	if err != nil {
		cancel()
		if clearErr := s.partial.Clear(); clearErr != nil && s.log != nil {
			s.log.Warn("partial clear after failed invoke", "error", clearErr)
		}
		return fmt.Errorf("invoke: %w", err)
	}

	current := assistant
	s.status = schema.StatusStreaming
	s.current = &current
	s.handle = handle
	s.cancel = cancel
	s.done = make(chan struct{})
	s.pendingErr = nil
	s.emitChat(schema.ChatEvent{Type: schema.ChatStreamStart, MessageID: current.ID})
	if s.log != nil {
		s.log.Info("stream started", "message", current.ID, "model", current.Meta.Model, "resume", seed != nil)
	}
	go s.consume(invCtx, handle, s.done, time.Now())
	return nil
}

// Interrupt requests the active stream stop. The session moves to
// Interrupting; the consume goroutine performs the abort commit and returns
// the session to Idle. Interrupting an idle session is a no-op.
func (s *Session) Interrupt(ctx context.Context) schema.SessionStatus {
	s.mu.Lock()
	if s.status != schema.StatusStreaming {
		status := s.status
		s.mu.Unlock()
		return status
	}
	handle, cancel := s.interruptLocked()
	s.mu.Unlock()
	cancelInvocation(ctx, handle, cancel)
	return schema.StatusInterrupting
}

func (s *Session) interruptLocked() (StreamHandle, context.CancelFunc) {
	s.status = schema.StatusInterrupting
	if s.log != nil {
		s.log.Info("stream interrupt requested")
	}
	return s.handle, s.cancel
}

func cancelInvocation(ctx context.Context, handle StreamHandle, cancel context.CancelFunc) {
	if handle != nil {
		_ = handle.Cancel(ctx)
	}
	if cancel != nil {
		cancel()
	}
}

// consume drains the invocation's event stream and performs the terminal
// commit. It is the only writer of the active assistant message.
func (s *Session) consume(ctx context.Context, handle StreamHandle, done chan struct{}, start time.Time) {
	defer close(done)
	stream := handle.Events()
	var streamErr error
	for {
		event, err := stream.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				streamErr = err
			}
			break
		}
		s.apply(event)
	}
	_ = stream.Close()

	waitCtx, waitCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	result, waitErr := handle.Wait(waitCtx)
	waitCancel()
	_ = handle.Close()

	s.finish(streamErr, result, waitErr, start)
}

// apply folds one stream unit into the in-flight message, persists the
// updated partial, and emits the corresponding chat event.
func (s *Session) apply(event schema.AgentEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	switch event.Type {
	case schema.AgentStarted:
		if s.log != nil && event.SessionID != s.lastSession {
			s.log = logx.WithSession(s.log, event.SessionID)
		}
		s.lastSession = event.SessionID
		s.sessionInit = true
		s.current.Meta.Session = event.SessionID
		s.persistPartialLocked()
	case schema.AgentTextDelta:
		s.mergeDeltaLocked(schema.PartText, event.Text)
		s.persistPartialLocked()
		s.emitChat(schema.ChatEvent{
			Type:      schema.ChatStreamDelta,
			MessageID: s.current.ID,
			Delta:     event.Text,
			DeltaKind: schema.DeltaText,
		})
	case schema.AgentReasoningDelta:
		s.mergeDeltaLocked(schema.PartReasoning, event.Text)
		s.persistPartialLocked()
		s.emitChat(schema.ChatEvent{
			Type:      schema.ChatStreamDelta,
			MessageID: s.current.ID,
			Delta:     event.Text,
			DeltaKind: schema.DeltaReasoning,
		})
	case schema.AgentToolCall:
		if event.ToolCall == nil {
			return
		}
		s.current.Parts = append(s.current.Parts, schema.Part{Type: schema.PartToolCall, ToolCall: event.ToolCall})
		s.persistPartialLocked()
		s.emitChat(schema.ChatEvent{
			Type:      schema.ChatToolCallStart,
			MessageID: s.current.ID,
			ToolCall:  event.ToolCall,
		})
	case schema.AgentToolResult:
		if event.ToolResult == nil {
			return
		}
		s.current.Parts = append(s.current.Parts, schema.Part{Type: schema.PartToolResult, ToolResult: event.ToolResult})
		s.persistPartialLocked()
		s.emitChat(schema.ChatEvent{
			Type:       schema.ChatToolCallEnd,
			MessageID:  s.current.ID,
			ToolResult: event.ToolResult,
		})
	case schema.AgentCompleted:
		if event.Usage != nil {
			usage := *event.Usage
			s.current.Meta.Usage = &usage
		}
		if event.SessionID != "" {
			s.lastSession = event.SessionID
			s.sessionInit = true
			s.current.Meta.Session = event.SessionID
		}
	case schema.AgentError:
		s.pendingErr = &schema.InvokerError{Message: event.Message}
	}
}

// mergeDeltaLocked extends the trailing part of the same kind, or opens a
// new part when the kind changes. Part order records the true interleaving.
func (s *Session) mergeDeltaLocked(kind schema.PartType, text string) {
	parts := s.current.Parts
	if n := len(parts); n > 0 && parts[n-1].Type == kind {
		switch kind {
		case schema.PartText:
			parts[n-1].Text += text
		case schema.PartReasoning:
			parts[n-1].Reasoning += text
		}
		return
	}
	part := schema.Part{Type: kind}
	switch kind {
	case schema.PartText:
		part.Text = text
	case schema.PartReasoning:
		part.Reasoning = text
	}
	s.current.Parts = append(s.current.Parts, part)
}

func (s *Session) persistPartialLocked() {
	if err := s.partial.Set(*s.current); err != nil && s.log != nil {
		s.log.Error("partial persist failed", "error", err)
	}
}

// finish performs the terminal commit for the stream and returns the session
// to Idle. Three outcomes: completion commits the finished message and
// clears the partial; interruption commits the accumulated content still
// marked partial; failure commits whatever accumulated, appends an error
// breadcrumb, and emits a stream-error event.
func (s *Session) finish(streamErr error, result InvokeResult, waitErr error, start time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.current
	interrupted := s.status == schema.StatusInterrupting
	if streamErr == nil {
		streamErr = s.pendingErr
	}
	if streamErr == nil && !interrupted {
		if waitErr != nil {
			streamErr = &schema.InvokerError{Err: waitErr}
		} else if result.ExitCode != 0 {
			streamErr = &schema.InvokerError{Message: fmt.Sprintf("exit code %d", result.ExitCode)}
		}
	}

	s.status = schema.StatusIdle
	s.current = nil
	s.handle = nil
	s.cancel = nil
	s.pendingErr = nil

	if msg == nil {
		return
	}
	msg.Meta.DurationMS = time.Since(start).Milliseconds()

	switch {
	case interrupted:
		s.commitLocked(msg, true)
	case streamErr != nil:
		if s.log != nil {
			s.log.Error("stream failed", "message", msg.ID, "error", streamErr)
		}
		s.commitFailureLocked(msg, streamErr)
	default:
		msg.Meta.Partial = false
		s.commitLocked(msg, false)
	}
}

// commitLocked appends the finished or aborted message to history and clears
// the partial slot. A stream that produced no content commits nothing.
func (s *Session) commitLocked(msg *schema.Message, aborted bool) {
	eventType := schema.ChatStreamEnd
	if aborted {
		eventType = schema.ChatStreamAbort
	}
	if len(msg.Parts) == 0 {
		if err := s.partial.Clear(); err != nil && s.log != nil {
			s.log.Error("partial clear failed", "error", err)
		}
		s.emitChat(schema.ChatEvent{Type: eventType, MessageID: msg.ID})
		return
	}
	// A reserved sequence from before a crash may be stale; commit with a
	// freshly assigned one.
	msg.Meta.Seq = nil
	seq, err := s.history.Append(*msg)
	if err != nil {
		if s.log != nil {
			s.log.Error("stream commit failed", "message", msg.ID, "error", err)
		}
		s.emitChat(schema.ChatEvent{
			Type:         schema.ChatStreamError,
			MessageID:    msg.ID,
			ErrorKind:    schema.KindOf(err),
			ErrorMessage: err.Error(),
		})
		return
	}
	if err := s.partial.Clear(); err != nil && s.log != nil {
		s.log.Error("partial clear failed", "error", err)
	}
	s.emitChat(schema.ChatEvent{Type: eventType, MessageID: msg.ID, Seq: &seq})
	if s.log != nil {
		s.log.Info("stream committed", "message", msg.ID, "seq", seq, "aborted", aborted)
	}
}

// commitFailureLocked records a failed stream in the durable log: whatever
// content accumulated is committed still marked partial, followed by a
// breadcrumb message naming the error, so the record reflects what was
// attempted. The partial slot is cleared either way.
func (s *Session) commitFailureLocked(msg *schema.Message, streamErr error) {
	if len(msg.Parts) > 0 {
		msg.Meta.Seq = nil
		if _, err := s.history.Append(*msg); err != nil && s.log != nil {
			s.log.Error("failed stream commit", "message", msg.ID, "error", err)
		}
	}
	if err := s.partial.Clear(); err != nil && s.log != nil {
		s.log.Error("partial clear failed", "error", err)
	}
	kind := schema.KindOf(streamErr)
	breadcrumb := schema.NewSystemMessage(newMessageID(), fmt.Sprintf("stream failed (%s): %s", kind, streamErr.Error()))
	if _, err := s.history.Append(breadcrumb); err != nil {
		if s.log != nil {
			s.log.Error("breadcrumb commit failed", "error", err)
		}
	} else {
		s.emitChat(schema.ChatEvent{Type: schema.ChatMessage, Message: &breadcrumb})
	}
	s.emitChat(schema.ChatEvent{
		Type:         schema.ChatStreamError,
		MessageID:    msg.ID,
		ErrorKind:    kind,
		ErrorMessage: streamErr.Error(),
	})
}

// sessionIDLocked resolves the provider continuation id: from the message
// being resumed, then from the most recent committed message that carries
// one.
func (s *Session) sessionIDLocked(msg schema.Message) schema.SessionID {
	if msg.Meta.Session != "" {
		return msg.Meta.Session
	}
	if !s.sessionInit {
		s.sessionInit = true
		if messages, err := s.history.Read(); err == nil {
			for i := len(messages) - 1; i >= 0; i-- {
				if messages[i].Meta.Session != "" {
					s.lastSession = messages[i].Meta.Session
					break
				}
			}
		}
	}
	return s.lastSession
}

// GetHistory returns the committed messages and the session status.
func (s *Session) GetHistory() ([]schema.Message, schema.SessionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages, err := s.history.Read()
	if err != nil {
		return nil, s.status, err
	}
	return messages, s.status, nil
}

// Replay emits the workspace's durable state to one subscriber: every
// committed message in order, the in-flight partial if present, then the
// caught-up sentinel. History and partial are snapshotted together under the
// session lock, but the emit callbacks run after it is released so a slow
// subscriber cannot stall the state machine.
func (s *Session) Replay(emit func(schema.ChatEvent)) error {
	s.mu.Lock()
	messages, err := s.history.Read()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	partial, err := s.partial.Get()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	now := time.Now().UTC()
	for i := range messages {
		msg := messages[i]
		emit(schema.ChatEvent{Workspace: s.ws, Type: schema.ChatMessage, Timestamp: now, Message: &msg})
	}
	if partial != nil {
		emit(schema.ChatEvent{Workspace: s.ws, Type: schema.ChatMessage, Timestamp: now, MessageID: partial.ID, Message: partial})
	}
	emit(schema.ChatEvent{Workspace: s.ws, Type: schema.ChatCaughtUp, Timestamp: now})
	return nil
}

// UpdateMessage replaces a committed message in place, matched by sequence.
// Rejected while a stream is active.
func (s *Session) UpdateMessage(msg schema.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireIdleLocked(); err != nil {
		return err
	}
	if err := s.history.Update(msg); err != nil {
		return err
	}
	s.emitChat(schema.ChatEvent{Type: schema.ChatMessage, Message: &msg})
	return nil
}

// TruncateByFraction evicts the oldest fraction of the log. Rejected while a
// stream is active. The partial buffer is untouched; it remains resumable
// against the shortened history.
func (s *Session) TruncateByFraction(p float64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireIdleLocked(); err != nil {
		return nil, err
	}
	removed, err := s.history.TruncateByFraction(p)
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		s.emitChat(schema.ChatEvent{Type: schema.ChatDelete, Removed: removed})
	}
	return removed, nil
}

// TruncateAfter removes the identified message and everything after it.
// Rejected while a stream is active.
func (s *Session) TruncateAfter(id schema.MessageID) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireIdleLocked(); err != nil {
		return nil, err
	}
	removed, err := s.history.TruncateAfter(id)
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		s.emitChat(schema.ChatEvent{Type: schema.ChatDelete, Removed: removed})
	}
	return removed, nil
}

// ReplaceHistory swaps the whole log for a single summary message. Only a
// compacting replace is permitted while a stream is winding down; a plain
// replace requires Idle and also drops any leftover partial, since the
// context it continued from no longer exists.
func (s *Session) ReplaceHistory(summary schema.Message, compact bool) ([]int64, schema.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !compact {
		if err := s.requireIdleLocked(); err != nil {
			return nil, schema.Message{}, err
		}
	}
	if summary.ID == "" {
		summary.ID = newMessageID()
	}
	if summary.Meta.Timestamp.IsZero() {
		summary.Meta.Timestamp = time.Now().UTC()
	}
	summary.Meta.Compacted = compact
	removed, stored, err := s.history.Replace(summary)
	if err != nil {
		return nil, schema.Message{}, err
	}
	if s.status == schema.StatusIdle {
		if err := s.partial.Clear(); err != nil {
			return nil, schema.Message{}, err
		}
	}
	if len(removed) > 0 {
		s.emitChat(schema.ChatEvent{Type: schema.ChatDelete, Removed: removed})
	}
	s.emitChat(schema.ChatEvent{Type: schema.ChatMessage, Message: &stored})
	return removed, stored, nil
}

// UpdateMeta changes the workspace display metadata and announces it.
func (s *Session) UpdateMeta(name string, model schema.ModelID) {
	s.mu.Lock()
	if name != "" {
		s.name = name
	}
	if model != "" {
		s.model = model
	}
	name = s.name
	model = s.model
	s.mu.Unlock()
	s.emitMetadata(schema.MetadataEvent{Type: schema.MetadataUpdated, Name: name, Model: model})
}

// Meta returns the workspace display metadata.
func (s *Session) Meta() (string, schema.ModelID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name, s.model
}

// Shutdown interrupts any active stream and waits for the consume goroutine
// to finish its terminal commit.
func (s *Session) Shutdown(ctx context.Context) {
	s.mu.Lock()
	done := s.done
	var handle StreamHandle
	var cancel context.CancelFunc
	if s.status == schema.StatusStreaming {
		handle, cancel = s.interruptLocked()
	}
	s.mu.Unlock()
	cancelInvocation(ctx, handle, cancel)
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Session) requireIdleLocked() error {
	if s.status != schema.StatusIdle {
		return schema.ErrStreamActive
	}
	return nil
}

func (s *Session) emitChat(event schema.ChatEvent) {
	if s.sink == nil {
		return
	}
	event.Workspace = s.ws
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	s.sink.OnChat(event)
}

func (s *Session) emitMetadata(event schema.MetadataEvent) {
	if s.sink == nil {
		return
	}
	event.Workspace = s.ws
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	s.sink.OnMetadata(event)
}
