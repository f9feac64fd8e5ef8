package schema

import (
	"os"
	"path/filepath"
)

// ServiceConfig defines defaults and limits for the session engine.
type ServiceConfig struct {
	// StateDir is the root directory for per-workspace durable state.
	StateDir      string
	DefaultModel  ModelID
	AllowedModels []ModelID
	// EventBufferDepth is the per-subscriber channel depth before events are
	// dropped (late subscribers recover via replay).
	EventBufferDepth int
}

// DefaultEventBufferDepth is the default per-subscriber channel depth.
const DefaultEventBufferDepth = 256

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ServiceConfig{}, err
		}
		cfg.StateDir = filepath.Join(home, ".parley", "state")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = ModelID("gpt-5.2-codex")
	}
	if len(cfg.AllowedModels) == 0 {
		cfg.AllowedModels = []ModelID{cfg.DefaultModel}
	}
	if cfg.EventBufferDepth <= 0 {
		cfg.EventBufferDepth = DefaultEventBufferDepth
	}
	return cfg, nil
}

// ModelAllowed reports whether the model is in the allowed set.
func (c ServiceConfig) ModelAllowed(model ModelID) bool {
	if model == "" {
		return true
	}
	for _, allowed := range c.AllowedModels {
		if allowed == model {
			return true
		}
	}
	return false
}
