package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Voice provider
	if cfg.Voice.APIKey == "" {
		errs = append(errs, errors.New("voice.api_key is required"))
	}
	if cfg.Voice.AgentID == "" {
		slog.Warn("voice.agent_id is empty; every interview request must carry its own agent id")
	}

	// Storage availability
	if cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required"))
	}

	// Events
	if cfg.Events.Enabled {
		if len(cfg.Events.Brokers) == 0 {
			errs = append(errs, errors.New("events.brokers is required when events.enabled is true"))
		}
		if cfg.Events.Topic == "" {
			errs = append(errs, errors.New("events.topic is required when events.enabled is true"))
		}
	}

	// LLM ↔ summaries
	if cfg.LLM.APIKey != "" && cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required when llm.api_key is set"))
	}
	if cfg.LLM.APIKey == "" {
		slog.Warn("llm.api_key is empty; post-call summaries are disabled")
	}

	// Engine tuning
	if cfg.Engine.Debounce < 0 {
		errs = append(errs, fmt.Errorf("engine.debounce %v must not be negative", cfg.Engine.Debounce))
	}
	if cfg.Engine.FlushInterval < 0 {
		errs = append(errs, fmt.Errorf("engine.flush_interval %v must not be negative", cfg.Engine.FlushInterval))
	}
	if cfg.Engine.MaxBatchAttempts < 0 {
		errs = append(errs, fmt.Errorf("engine.max_batch_attempts %d must not be negative", cfg.Engine.MaxBatchAttempts))
	}
	if cfg.Engine.MaxBackoff < 0 {
		errs = append(errs, fmt.Errorf("engine.max_backoff %v must not be negative", cfg.Engine.MaxBackoff))
	}
	if cfg.Engine.MaxBackoff != 0 && cfg.Engine.FlushInterval > cfg.Engine.MaxBackoff {
		errs = append(errs, fmt.Errorf("engine.max_backoff %v must not be smaller than engine.flush_interval %v", cfg.Engine.MaxBackoff, cfg.Engine.FlushInterval))
	}

	return errors.Join(errs...)
}
