package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pkt.systems/parley/core"
	"pkt.systems/parley/internal/eventbus"
	"pkt.systems/parley/internal/logx"
	"pkt.systems/parley/schema"
)

const shutdownTimeout = 5 * time.Second

// StreamEvent is one SSE payload on /api/stream.
type StreamEvent struct {
	Type      string                `json:"type"`
	Chat      *schema.ChatEvent     `json:"chat,omitempty"`
	Metadata  *schema.MetadataEvent `json:"metadata,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// Server serves the HTTP API.
type Server struct {
	cfg     Config
	service core.Service
	bus     *eventbus.Bus

	baseCtx context.Context
}

// NewServer constructs an HTTP server over the session engine.
func NewServer(cfg Config, service core.Service, bus *eventbus.Bus) *Server {
	return &Server{cfg: cfg, service: service, bus: bus, baseCtx: context.Background()}
}

// SetBaseContext sets the parent context for stream lifetimes.
func (s *Server) SetBaseContext(ctx context.Context) {
	if s == nil || ctx == nil {
		return
	}
	s.baseCtx = ctx
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/send", s.handleSend)
	mux.HandleFunc("/api/resume", s.handleResume)
	mux.HandleFunc("/api/interrupt", s.handleInterrupt)
	mux.HandleFunc("/api/truncate", s.handleTruncate)
	mux.HandleFunc("/api/replace", s.handleReplace)
	mux.HandleFunc("/api/message", s.handleUpdateMessage)
	mux.HandleFunc("/api/workspace/meta", s.handleWorkspaceMeta)
	mux.HandleFunc("/api/workspace/dispose", s.handleDispose)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/stream", s.handleStream)
	return withRequestLogging(mux)
}

type sendPayload struct {
	Workspace       string `json:"workspace"`
	Text            string `json:"text"`
	Model           string `json:"model,omitempty"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var payload sendPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.SendMessage(r.Context(), schema.SendMessageRequest{
		Workspace: schema.WorkspaceID(payload.Workspace),
		Text:      payload.Text,
		Options: schema.SendOptions{
			Model:           schema.ModelID(payload.Model),
			ReasoningEffort: payload.ReasoningEffort,
		},
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted":             resp.Accepted,
		"user_message_id":      resp.UserMessageID,
		"assistant_message_id": resp.AssistantMessageID,
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var payload sendPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.ResumeStream(r.Context(), schema.ResumeStreamRequest{
		Workspace: schema.WorkspaceID(payload.Workspace),
		Options: schema.SendOptions{
			Model:           schema.ModelID(payload.Model),
			ReasoningEffort: payload.ReasoningEffort,
		},
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted":             resp.Accepted,
		"assistant_message_id": resp.AssistantMessageID,
	})
}

type workspacePayload struct {
	Workspace string `json:"workspace"`
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var payload workspacePayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.InterruptStream(r.Context(), schema.InterruptStreamRequest{
		Workspace: schema.WorkspaceID(payload.Workspace),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": resp.Status})
}

type truncatePayload struct {
	Workspace string   `json:"workspace"`
	Fraction  *float64 `json:"fraction,omitempty"`
	MessageID string   `json:"message_id,omitempty"`
}

// handleTruncate serves both truncation shapes: fraction evicts the oldest
// portion of the log, message_id cuts from a message to the end.
func (s *Server) handleTruncate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var payload truncatePayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var removed []int64
	var err error
	switch {
	case payload.MessageID != "":
		var resp schema.TruncateAfterResponse
		resp, err = s.service.TruncateAfter(r.Context(), schema.TruncateAfterRequest{
			Workspace: schema.WorkspaceID(payload.Workspace),
			MessageID: schema.MessageID(payload.MessageID),
		})
		removed = resp.Removed
	case payload.Fraction != nil:
		var resp schema.TruncateHistoryResponse
		resp, err = s.service.TruncateHistory(r.Context(), schema.TruncateHistoryRequest{
			Workspace: schema.WorkspaceID(payload.Workspace),
			Fraction:  *payload.Fraction,
		})
		removed = resp.Removed
	default:
		writeError(w, http.StatusBadRequest, errors.New("fraction or message_id is required"))
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

type replacePayload struct {
	Workspace string `json:"workspace"`
	Summary   string `json:"summary"`
	Compact   bool   `json:"compact,omitempty"`
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var payload replacePayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	summary := schema.Message{
		Role: schema.RoleSystem,
		Parts: []schema.Part{
			{Type: schema.PartText, Text: payload.Summary},
		},
	}
	resp, err := s.service.ReplaceHistory(r.Context(), schema.ReplaceHistoryRequest{
		Workspace: schema.WorkspaceID(payload.Workspace),
		Summary:   summary,
		Compact:   payload.Compact,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": resp.Removed, "summary": resp.Summary})
}

type updateMessagePayload struct {
	Workspace string         `json:"workspace"`
	Message   schema.Message `json:"message"`
}

func (s *Server) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var payload updateMessagePayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.service.UpdateMessage(r.Context(), schema.UpdateMessageRequest{
		Workspace: schema.WorkspaceID(payload.Workspace),
		Message:   payload.Message,
	}); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type workspaceMetaPayload struct {
	Workspace string `json:"workspace"`
	Name      string `json:"name,omitempty"`
	Model     string `json:"model,omitempty"`
}

func (s *Server) handleWorkspaceMeta(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var payload workspaceMetaPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.service.UpdateWorkspaceMeta(r.Context(), schema.UpdateWorkspaceMetaRequest{
		Workspace: schema.WorkspaceID(payload.Workspace),
		Name:      payload.Name,
		Model:     schema.ModelID(payload.Model),
	}); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDispose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var payload workspacePayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.service.DisposeWorkspace(r.Context(), schema.DisposeWorkspaceRequest{
		Workspace: schema.WorkspaceID(payload.Workspace),
	}); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	workspace := schema.WorkspaceID(r.URL.Query().Get("workspace"))
	resp, err := s.service.GetHistory(r.Context(), schema.GetHistoryRequest{Workspace: workspace})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": resp.Messages, "status": resp.Status})
}

// handleStream serves an SSE feed: live subscription first, then the durable
// replay ending in the caught-up sentinel, then live events. The overlap can
// duplicate an event; clients dedup by message id.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	workspace := schema.WorkspaceID(r.URL.Query().Get("workspace"))
	log := logx.WithWorkspace(r.Context(), workspace)
	ctx := logx.ContextWithWorkspaceLogger(r.Context(), log, workspace)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.bus.Subscribe(workspace)
	defer unsubscribe()

	replayCount := 0
	err := s.service.Replay(ctx, schema.ReplayRequest{Workspace: workspace}, func(event schema.ChatEvent) {
		replayCount++
		_ = writeSSEvent(w, StreamEvent{Type: "chat", Chat: &event, Timestamp: event.Timestamp})
	})
	if err != nil {
		// Headers are already on the wire; surface the failure in-band.
		log.Warn("http stream replay failed", "err", err)
		failure := schema.ChatEvent{
			Workspace:    workspace,
			Type:         schema.ChatStreamError,
			Timestamp:    time.Now().UTC(),
			ErrorKind:    schema.KindOf(err),
			ErrorMessage: err.Error(),
		}
		_ = writeSSEvent(w, StreamEvent{Type: "chat", Chat: &failure, Timestamp: failure.Timestamp})
		flusher.Flush()
		return
	}
	flusher.Flush()

	notify := ctx.Done()
	log.Info("http stream opened", "replay", replayCount)
	for {
		select {
		case <-notify:
			log.Info("http stream closed")
			return
		case event, open := <-ch:
			if !open {
				return
			}
			_ = writeSSEvent(w, toStreamEvent(event))
			flusher.Flush()
		}
	}
}

func toStreamEvent(event eventbus.Event) StreamEvent {
	switch event.Type {
	case eventbus.EventMetadata:
		metadata := event.Metadata
		return StreamEvent{Type: "metadata", Metadata: &metadata, Timestamp: metadata.Timestamp}
	default:
		chat := event.Chat
		return StreamEvent{Type: "chat", Chat: &chat, Timestamp: chat.Timestamp}
	}
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

// writeServiceError maps the engine's error taxonomy to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, schema.ErrMessageNotFound), errors.Is(err, schema.ErrSeqNotFound):
		status = http.StatusNotFound
	default:
		switch schema.KindOf(err) {
		case schema.KindValidation:
			status = http.StatusBadRequest
		case schema.KindConflict:
			status = http.StatusConflict
		case schema.KindModel:
			status = http.StatusBadGateway
		}
	}
	writeJSON(w, status, map[string]any{"error": err.Error(), "kind": schema.KindOf(err)})
}

func writeSSEvent(w http.ResponseWriter, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Chat != nil && event.Chat.Seq != nil {
		_, _ = fmt.Fprintf(w, "id: %d\n", *event.Chat.Seq)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return nil
}
