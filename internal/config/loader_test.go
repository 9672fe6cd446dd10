package config

import (
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
voice:
  api_key: vk-test
  agent_id: agent-1
storage:
  postgres_dsn: postgres://localhost/verbatim
events:
  enabled: true
  brokers: ["localhost:9092"]
  topic: transcripts.final
llm:
  api_key: sk-test
  model: gpt-4o-mini
engine:
  debounce: 500ms
  flush_interval: 2s
  max_batch_attempts: 10
  max_backoff: 30s
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Voice.AgentID != "agent-1" {
		t.Errorf("AgentID = %q", cfg.Voice.AgentID)
	}
	if cfg.Engine.Debounce != 500*time.Millisecond {
		t.Errorf("Debounce = %v", cfg.Engine.Debounce)
	}
	if cfg.Engine.MaxBackoff != 30*time.Second {
		t.Errorf("MaxBackoff = %v", cfg.Engine.MaxBackoff)
	}
	if !cfg.Events.Enabled || len(cfg.Events.Brokers) != 1 {
		t.Errorf("Events = %+v", cfg.Events)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	yaml := validYAML + "\nunknown_section:\n  foo: bar\n"
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Voice:   VoiceConfig{APIKey: "vk", AgentID: "a"},
			Storage: StorageConfig{PostgresDSN: "postgres://x"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }, "log_level"},
		{"missing api key", func(c *Config) { c.Voice.APIKey = "" }, "voice.api_key"},
		{"missing dsn", func(c *Config) { c.Storage.PostgresDSN = "" }, "postgres_dsn"},
		{"events enabled without brokers", func(c *Config) {
			c.Events.Enabled = true
			c.Events.Topic = "t"
		}, "events.brokers"},
		{"events enabled without topic", func(c *Config) {
			c.Events.Enabled = true
			c.Events.Brokers = []string{"b:9092"}
		}, "events.topic"},
		{"llm key without model", func(c *Config) { c.LLM.APIKey = "sk" }, "llm.model"},
		{"negative debounce", func(c *Config) { c.Engine.Debounce = -time.Second }, "engine.debounce"},
		{"backoff below interval", func(c *Config) {
			c.Engine.FlushInterval = time.Minute
			c.Engine.MaxBackoff = time.Second
		}, "max_backoff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_JoinsMultipleErrors(t *testing.T) {
	err := Validate(&Config{})
	if err == nil {
		t.Fatal("expected errors for empty config")
	}
	msg := err.Error()
	if !strings.Contains(msg, "voice.api_key") || !strings.Contains(msg, "postgres_dsn") {
		t.Errorf("expected all failures listed, got: %v", err)
	}
}
