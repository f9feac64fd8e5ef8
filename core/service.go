package core

import (
	"context"
	"fmt"
	"strings"

	"pkt.systems/parley/internal/histstore"
	"pkt.systems/parley/schema"
	"pkt.systems/pslog"
)

// Service is the verb surface of the session engine. Transports (HTTP, CLI)
// call these operations; all durable state and stream lifecycle live behind
// them.
type Service interface {
	// SendMessage commits the user message and starts a model stream.
	SendMessage(ctx context.Context, req schema.SendMessageRequest) (schema.SendMessageResponse, error)
	// ResumeStream continues the workspace's durable partial message.
	ResumeStream(ctx context.Context, req schema.ResumeStreamRequest) (schema.ResumeStreamResponse, error)
	// InterruptStream cancels the active stream, if any.
	InterruptStream(ctx context.Context, req schema.InterruptStreamRequest) (schema.InterruptStreamResponse, error)
	// GetHistory reads the committed history and session status.
	GetHistory(ctx context.Context, req schema.GetHistoryRequest) (schema.GetHistoryResponse, error)
	// Replay emits the workspace's durable state followed by the caught-up
	// sentinel. Callers subscribe to live events first, then replay; dedup by
	// message id bridges the overlap.
	Replay(ctx context.Context, req schema.ReplayRequest, emit func(schema.ChatEvent)) error
	// UpdateMessage replaces a committed message in place.
	UpdateMessage(ctx context.Context, req schema.UpdateMessageRequest) (schema.UpdateMessageResponse, error)
	// TruncateHistory evicts the oldest fraction of the history log.
	TruncateHistory(ctx context.Context, req schema.TruncateHistoryRequest) (schema.TruncateHistoryResponse, error)
	// TruncateAfter removes a message and everything after it.
	TruncateAfter(ctx context.Context, req schema.TruncateAfterRequest) (schema.TruncateAfterResponse, error)
	// ReplaceHistory swaps the whole log for one summary message.
	ReplaceHistory(ctx context.Context, req schema.ReplaceHistoryRequest) (schema.ReplaceHistoryResponse, error)
	// UpdateWorkspaceMeta changes workspace display metadata.
	UpdateWorkspaceMeta(ctx context.Context, req schema.UpdateWorkspaceMetaRequest) (schema.UpdateWorkspaceMetaResponse, error)
	// DisposeWorkspace drops the workspace runtime.
	DisposeWorkspace(ctx context.Context, req schema.DisposeWorkspaceRequest) (schema.DisposeWorkspaceResponse, error)
	// Shutdown interrupts all active streams and waits for their commits.
	Shutdown(ctx context.Context) error
}

type service struct {
	cfg      schema.ServiceConfig
	registry *Registry
	log      pslog.Logger
}

// New constructs the session engine.
func New(cfg schema.ServiceConfig, deps ServiceDeps) (Service, error) {
	cfg, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger := deps.Logger
	store, err := histstore.NewStore(cfg.StateDir, logger)
	if err != nil {
		return nil, err
	}
	return &service{
		cfg:      cfg,
		registry: NewRegistry(store, deps, cfg.DefaultModel),
		log:      logger,
	}, nil
}

func (s *service) SendMessage(ctx context.Context, req schema.SendMessageRequest) (schema.SendMessageResponse, error) {
	if err := schema.ValidateWorkspaceID(req.Workspace); err != nil {
		return schema.SendMessageResponse{}, err
	}
	if err := s.checkModel(req.Options.Model); err != nil {
		return schema.SendMessageResponse{}, err
	}
	return s.registry.Get(req.Workspace).SendMessage(ctx, req.Text, req.Options)
}

func (s *service) ResumeStream(ctx context.Context, req schema.ResumeStreamRequest) (schema.ResumeStreamResponse, error) {
	if err := schema.ValidateWorkspaceID(req.Workspace); err != nil {
		return schema.ResumeStreamResponse{}, err
	}
	if err := s.checkModel(req.Options.Model); err != nil {
		return schema.ResumeStreamResponse{}, err
	}
	return s.registry.Get(req.Workspace).Resume(ctx, req.Options)
}

func (s *service) InterruptStream(ctx context.Context, req schema.InterruptStreamRequest) (schema.InterruptStreamResponse, error) {
	if err := schema.ValidateWorkspaceID(req.Workspace); err != nil {
		return schema.InterruptStreamResponse{}, err
	}
	status := s.registry.Get(req.Workspace).Interrupt(ctx)
	return schema.InterruptStreamResponse{Status: status}, nil
}

func (s *service) GetHistory(ctx context.Context, req schema.GetHistoryRequest) (schema.GetHistoryResponse, error) {
	if err := schema.ValidateWorkspaceID(req.Workspace); err != nil {
		return schema.GetHistoryResponse{}, err
	}
	messages, status, err := s.registry.Get(req.Workspace).GetHistory()
	if err != nil {
		return schema.GetHistoryResponse{}, err
	}
	return schema.GetHistoryResponse{Messages: messages, Status: status}, nil
}

func (s *service) Replay(ctx context.Context, req schema.ReplayRequest, emit func(schema.ChatEvent)) error {
	if err := schema.ValidateWorkspaceID(req.Workspace); err != nil {
		return err
	}
	if emit == nil {
		return fmt.Errorf("%w: replay sink is required", schema.ErrInvalidRequest)
	}
	return s.registry.Get(req.Workspace).Replay(emit)
}

func (s *service) UpdateMessage(ctx context.Context, req schema.UpdateMessageRequest) (schema.UpdateMessageResponse, error) {
	if err := schema.ValidateWorkspaceID(req.Workspace); err != nil {
		return schema.UpdateMessageResponse{}, err
	}
	if err := s.registry.Get(req.Workspace).UpdateMessage(req.Message); err != nil {
		return schema.UpdateMessageResponse{}, err
	}
	return schema.UpdateMessageResponse{}, nil
}

func (s *service) TruncateHistory(ctx context.Context, req schema.TruncateHistoryRequest) (schema.TruncateHistoryResponse, error) {
	if err := schema.ValidateWorkspaceID(req.Workspace); err != nil {
		return schema.TruncateHistoryResponse{}, err
	}
	removed, err := s.registry.Get(req.Workspace).TruncateByFraction(req.Fraction)
	if err != nil {
		return schema.TruncateHistoryResponse{}, err
	}
	return schema.TruncateHistoryResponse{Removed: removed}, nil
}

func (s *service) TruncateAfter(ctx context.Context, req schema.TruncateAfterRequest) (schema.TruncateAfterResponse, error) {
	if err := schema.ValidateWorkspaceID(req.Workspace); err != nil {
		return schema.TruncateAfterResponse{}, err
	}
	if req.MessageID == "" {
		return schema.TruncateAfterResponse{}, fmt.Errorf("%w: message id is required", schema.ErrInvalidRequest)
	}
	removed, err := s.registry.Get(req.Workspace).TruncateAfter(req.MessageID)
	if err != nil {
		return schema.TruncateAfterResponse{}, err
	}
	return schema.TruncateAfterResponse{Removed: removed}, nil
}

func (s *service) ReplaceHistory(ctx context.Context, req schema.ReplaceHistoryRequest) (schema.ReplaceHistoryResponse, error) {
	if err := schema.ValidateWorkspaceID(req.Workspace); err != nil {
		return schema.ReplaceHistoryResponse{}, err
	}
	if len(req.Summary.Parts) == 0 {
		return schema.ReplaceHistoryResponse{}, fmt.Errorf("%w: summary message is required", schema.ErrInvalidRequest)
	}
	removed, stored, err := s.registry.Get(req.Workspace).ReplaceHistory(req.Summary, req.Compact)
	if err != nil {
		return schema.ReplaceHistoryResponse{}, err
	}
	return schema.ReplaceHistoryResponse{Removed: removed, Summary: stored}, nil
}

func (s *service) UpdateWorkspaceMeta(ctx context.Context, req schema.UpdateWorkspaceMetaRequest) (schema.UpdateWorkspaceMetaResponse, error) {
	if err := schema.ValidateWorkspaceID(req.Workspace); err != nil {
		return schema.UpdateWorkspaceMetaResponse{}, err
	}
	if strings.TrimSpace(req.Name) == "" && req.Model == "" {
		return schema.UpdateWorkspaceMetaResponse{}, fmt.Errorf("%w: nothing to update", schema.ErrInvalidRequest)
	}
	if err := s.checkModel(req.Model); err != nil {
		return schema.UpdateWorkspaceMetaResponse{}, err
	}
	s.registry.Get(req.Workspace).UpdateMeta(strings.TrimSpace(req.Name), req.Model)
	return schema.UpdateWorkspaceMetaResponse{}, nil
}

func (s *service) DisposeWorkspace(ctx context.Context, req schema.DisposeWorkspaceRequest) (schema.DisposeWorkspaceResponse, error) {
	if err := schema.ValidateWorkspaceID(req.Workspace); err != nil {
		return schema.DisposeWorkspaceResponse{}, err
	}
	s.registry.Dispose(ctx, req.Workspace)
	return schema.DisposeWorkspaceResponse{}, nil
}

func (s *service) Shutdown(ctx context.Context) error {
	s.registry.Shutdown(ctx)
	return nil
}

func (s *service) checkModel(model schema.ModelID) error {
	if model == "" {
		return nil
	}
	if _, err := schema.NormalizeModelID(string(model)); err != nil {
		return err
	}
	if !s.cfg.ModelAllowed(model) {
		return fmt.Errorf("%w: %s", schema.ErrInvalidModel, model)
	}
	return nil
}
