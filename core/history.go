package core

import (
	"fmt"
	"math"
	"sync"

	"pkt.systems/parley/internal/histstore"
	"pkt.systems/parley/schema"
	"pkt.systems/pslog"
)

// HistoryLog is the durable, append-only, sequence-numbered message store for
// one workspace. All mutations are serialized behind the log's own mutex;
// reads take a read lock and return copies, so a reader never observes a torn
// record. The sequence counter is lazily initialized from the committed log's
// maximum, which keeps it correct across process restarts.
type HistoryLog struct {
	ws    schema.WorkspaceID
	store *histstore.Store
	log   pslog.Logger

	mu       sync.RWMutex
	loaded   bool
	messages []schema.Message
	next     int64
}

// NewHistoryLog constructs the history log for a workspace.
func NewHistoryLog(ws schema.WorkspaceID, store *histstore.Store, logger pslog.Logger) *HistoryLog {
	if logger != nil {
		logger = logger.With("workspace", ws)
	}
	return &HistoryLog{ws: ws, store: store, log: logger}
}

func (h *HistoryLog) ensureLoadedLocked() error {
	if h.loaded {
		return nil
	}
	messages, err := h.store.ReadHistory(h.ws)
	if err != nil {
		return err
	}
	h.messages = messages
	h.next = 0
	for _, msg := range messages {
		if seq, ok := msg.Seq(); ok && seq >= h.next {
			h.next = seq + 1
		}
	}
	h.loaded = true
	if h.log != nil {
		h.log.Debug("history loaded", "messages", len(messages), "next_seq", h.next)
	}
	return nil
}

// Append durably writes the message after all previously appended messages.
// A message without a sequence number is assigned the next counter value; a
// pre-assigned sequence is validated against the counter and recorded. The
// assigned sequence is returned.
func (h *HistoryLog) Append(msg schema.Message) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.ensureLoadedLocked(); err != nil {
		return 0, err
	}
	seq, ok := msg.Seq()
	if !ok {
		seq = h.next
		msg.SetSeq(seq)
	} else if seq < h.next {
		return 0, fmt.Errorf("%w: seq %d, next %d", schema.ErrSeqRegression, seq, h.next)
	}
	if err := h.store.Append(h.ws, msg); err != nil {
		return 0, err
	}
	h.messages = append(h.messages, msg)
	h.next = seq + 1
	if h.log != nil {
		h.log.Debug("history appended", "seq", seq, "role", msg.Role, "parts", len(msg.Parts))
	}
	return seq, nil
}

// Read returns the full ordered list of committed messages as copies.
func (h *HistoryLog) Read() ([]schema.Message, error) {
	h.mu.Lock()
	if err := h.ensureLoadedLocked(); err != nil {
		h.mu.Unlock()
		return nil, err
	}
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]schema.Message, len(h.messages))
	for i, msg := range h.messages {
		out[i] = msg.Clone()
	}
	return out, nil
}

// Update replaces the stored message whose sequence matches the argument's,
// preserving the sequence number.
func (h *HistoryLog) Update(msg schema.Message) error {
	seq, ok := msg.Seq()
	if !ok {
		return fmt.Errorf("%w: message has no sequence", schema.ErrSeqNotFound)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.ensureLoadedLocked(); err != nil {
		return err
	}
	for i, current := range h.messages {
		got, ok := current.Seq()
		if !ok || got != seq {
			continue
		}
		updated := append([]schema.Message(nil), h.messages...)
		updated[i] = msg
		if err := h.store.Rewrite(h.ws, updated); err != nil {
			return err
		}
		h.messages = updated
		if h.log != nil {
			h.log.Debug("history updated", "seq", seq)
		}
		return nil
	}
	return fmt.Errorf("%w: %d", schema.ErrSeqNotFound, seq)
}

// TruncateAfter removes the identified message and everything appended after
// it, returning the removed sequence numbers.
func (h *HistoryLog) TruncateAfter(id schema.MessageID) ([]int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	index := -1
	for i, msg := range h.messages {
		if msg.ID == id {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, fmt.Errorf("%w: %s", schema.ErrMessageNotFound, id)
	}
	removed := collectSeqs(h.messages[index:])
	kept := append([]schema.Message(nil), h.messages[:index]...)
	if err := h.rewriteLocked(kept); err != nil {
		return nil, err
	}
	if h.log != nil {
		h.log.Info("history truncated after", "message", id, "removed", len(removed))
	}
	return removed, nil
}

// TruncateByFraction removes the earliest ceil(p*N) messages (oldest-first
// eviction) and returns their sequence numbers. p=0 is a no-op; p=1 clears
// the log and resets the sequence counter.
func (h *HistoryLog) TruncateByFraction(p float64) ([]int64, error) {
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("%w: %v", schema.ErrInvalidFraction, p)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	total := len(h.messages)
	if total == 0 || p == 0 {
		return nil, nil
	}
	drop := int(math.Ceil(p * float64(total)))
	if drop > total {
		drop = total
	}
	removed := collectSeqs(h.messages[:drop])
	kept := append([]schema.Message(nil), h.messages[drop:]...)
	if err := h.rewriteLocked(kept); err != nil {
		return nil, err
	}
	if h.log != nil {
		h.log.Info("history truncated by fraction", "fraction", p, "removed", len(removed), "kept", len(kept))
	}
	return removed, nil
}

// Replace drops every committed message and appends the single summary
// message, returning the removed sequence numbers and the stored summary.
func (h *HistoryLog) Replace(summary schema.Message) ([]int64, schema.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.ensureLoadedLocked(); err != nil {
		return nil, schema.Message{}, err
	}
	removed := collectSeqs(h.messages)
	h.next = 0
	if _, ok := summary.Seq(); !ok {
		summary.SetSeq(h.next)
	}
	if err := h.store.Rewrite(h.ws, []schema.Message{summary}); err != nil {
		return nil, schema.Message{}, err
	}
	h.messages = []schema.Message{summary}
	seq, _ := summary.Seq()
	h.next = seq + 1
	if h.log != nil {
		h.log.Info("history replaced", "removed", len(removed), "summary_seq", seq)
	}
	return removed, summary, nil
}

// Clear empties the log and resets the sequence counter to 0, returning the
// removed sequence numbers.
func (h *HistoryLog) Clear() ([]int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	if len(h.messages) == 0 {
		h.next = 0
		return nil, nil
	}
	removed := collectSeqs(h.messages)
	if err := h.rewriteLocked(nil); err != nil {
		return nil, err
	}
	if h.log != nil {
		h.log.Info("history cleared", "removed", len(removed))
	}
	return removed, nil
}

// rewriteLocked replaces the stored log, resetting the counter when the
// result is empty.
func (h *HistoryLog) rewriteLocked(messages []schema.Message) error {
	if err := h.store.Rewrite(h.ws, messages); err != nil {
		return err
	}
	h.messages = messages
	if len(messages) == 0 {
		h.next = 0
	}
	return nil
}

func collectSeqs(messages []schema.Message) []int64 {
	seqs := make([]int64, 0, len(messages))
	for _, msg := range messages {
		if seq, ok := msg.Seq(); ok {
			seqs = append(seqs, seq)
		}
	}
	return seqs
}
