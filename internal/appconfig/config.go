package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/parley/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string        `mapstructure:"state_dir" yaml:"state_dir"`
	Models        ModelsConfig  `mapstructure:"models" yaml:"models"`
	Service       ServiceConfig `mapstructure:"service" yaml:"service"`
	Agent         AgentConfig   `mapstructure:"agent" yaml:"agent"`
	HTTP          HTTPConfig    `mapstructure:"http" yaml:"http"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// ModelsConfig controls allowed and default LLM models.
type ModelsConfig struct {
	Default string   `mapstructure:"default" yaml:"default"`
	Allowed []string `mapstructure:"allowed" yaml:"allowed"`
}

// ServiceConfig controls session engine behavior.
type ServiceConfig struct {
	EventBufferDepth int `mapstructure:"event_buffer_depth" yaml:"event_buffer_depth"`
}

// AgentConfig configures the agent CLI backend.
type AgentConfig struct {
	Binary string   `mapstructure:"binary" yaml:"binary"`
	Args   []string `mapstructure:"args" yaml:"args"`
	Env    []string `mapstructure:"env" yaml:"env"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".parley", "state"),
		Models: ModelsConfig{
			Default: "gpt-5.2-codex",
			Allowed: []string{"gpt-5.2-codex", "gpt-5.1-codex-max", "gpt-5.1-codex-mini"},
		},
		Service: ServiceConfig{
			EventBufferDepth: schema.DefaultEventBufferDepth,
		},
		Agent: AgentConfig{
			Binary: "codex",
			Args:   []string{},
			Env:    []string{},
		},
		HTTP: HTTPConfig{
			Addr: ":27490",
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".parley", "config.yaml"), nil
}
