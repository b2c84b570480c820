// Package config loads switchboard's YAML configuration file: agents,
// providers, bindings, cron jobs, channel credentials, and the data
// directory. Grounded on the teacher's internal/config/loader.go (env var
// expansion before parse) and internal/config/config.go (per-section
// structs, Load + applyDefaults shape).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relaymesh/switchboard/internal/switchmodels"
)

// Config is switchboard's top-level configuration.
type Config struct {
	DataDir   string                        `yaml:"data_dir"`
	Agents    []switchmodels.AgentConfig    `yaml:"agents"`
	Providers []switchmodels.ProviderConfig `yaml:"providers"`
	Bindings  []switchmodels.Binding        `yaml:"bindings"`
	Cron      []switchmodels.CronJob        `yaml:"cron"`
	Channels  ChannelsConfig                `yaml:"channels"`
	Logging   LoggingConfig                 `yaml:"logging"`
}

// ChannelsConfig holds per-transport credentials. A channel is started
// only when Enabled is true.
type ChannelsConfig struct {
	Telegram    TelegramConfig    `yaml:"telegram"`
	Discord     DiscordConfig     `yaml:"discord"`
	Slack       SlackConfig       `yaml:"slack"`
	Interactive InteractiveConfig `yaml:"interactive"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

type DiscordConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	AppToken string `yaml:"app_token"`
}

type InteractiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig configures the slog handler cmd/switchboard installs.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, env-expands, and parses the config file at path, then applies
// defaults and validates cross-section invariants.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Channels.Interactive.Enabled && cfg.Channels.Interactive.Addr == "" {
		cfg.Channels.Interactive.Addr = ":8088"
	}
	for i := range cfg.Cron {
		if cfg.Cron[i].CreatedAt.IsZero() {
			cfg.Cron[i].CreatedAt = time.Now()
		}
	}
}

// Validate checks the cross-section invariants spec.md §3/§4.2 depend on:
// at least one agent, exactly one default agent, exactly one default
// provider, and every agent/provider referenced by a binding or cron job
// must exist.
func (cfg *Config) Validate() error {
	if len(cfg.Agents) == 0 {
		return fmt.Errorf("config: at least one agent is required")
	}
	agentIDs := make(map[string]bool, len(cfg.Agents))
	defaultAgents := 0
	for _, a := range cfg.Agents {
		if a.ID == "" {
			return fmt.Errorf("config: agent missing id")
		}
		agentIDs[a.ID] = true
		if a.IsDefault {
			defaultAgents++
		}
	}
	if defaultAgents == 0 {
		return fmt.Errorf("config: no agent marked default")
	}
	if defaultAgents > 1 {
		return fmt.Errorf("config: more than one agent marked default")
	}

	if len(cfg.Providers) == 0 {
		return fmt.Errorf("config: at least one provider is required")
	}
	defaultProviders := 0
	for _, p := range cfg.Providers {
		if p.IsDefault {
			defaultProviders++
		}
	}
	if defaultProviders == 0 {
		return fmt.Errorf("config: no provider marked default")
	}
	if defaultProviders > 1 {
		return fmt.Errorf("config: more than one provider marked default")
	}

	for _, b := range cfg.Bindings {
		if b.AgentID != "" && !agentIDs[b.AgentID] {
			return fmt.Errorf("config: binding %q references unknown agent %q", b.ID, b.AgentID)
		}
	}
	for _, j := range cfg.Cron {
		if j.AgentID != "" && !agentIDs[j.AgentID] {
			return fmt.Errorf("config: cron job %q references unknown agent %q", j.JobID, j.AgentID)
		}
		if j.Schedule == "" {
			return fmt.Errorf("config: cron job %q missing schedule", j.JobID)
		}
	}
	return nil
}

// DefaultAgent returns the agent marked default. Validate guarantees
// exactly one exists.
func (cfg *Config) DefaultAgent() switchmodels.AgentConfig {
	for _, a := range cfg.Agents {
		if a.IsDefault {
			return a
		}
	}
	return switchmodels.AgentConfig{}
}

// AgentsByID indexes the configured agents for O(1) lookup.
func (cfg *Config) AgentsByID() map[string]switchmodels.AgentConfig {
	out := make(map[string]switchmodels.AgentConfig, len(cfg.Agents))
	for _, a := range cfg.Agents {
		out[a.ID] = a
	}
	return out
}
