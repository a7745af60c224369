package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if cfg.Orchestrator.MaxStepParallelism != 4 {
		t.Errorf("MaxStepParallelism = %d, want 4", cfg.Orchestrator.MaxStepParallelism)
	}
	if cfg.Server.IdleTimeout != 300*time.Second {
		t.Errorf("IdleTimeout = %v, want 300s", cfg.Server.IdleTimeout)
	}
	if cfg.LLM.BaseURL != "http://localhost:11434/v1" && os.Getenv("GROQ_API_KEY") == "" &&
		os.Getenv("TOGETHER_API_KEY") == "" && os.Getenv("OPENROUTER_API_KEY") == "" {
		t.Errorf("BaseURL = %q, want local fallback", cfg.LLM.BaseURL)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conductor.yaml")
	data := `
server:
  port: 9999
  max_connections: 8
llm:
  provider: mock
sessions:
  backend: memory
  ttl_hours: 2
orchestrator:
  replan_budget: 5
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Server.MaxConnections != 8 {
		t.Errorf("MaxConnections = %d, want 8", cfg.Server.MaxConnections)
	}
	if cfg.LLM.Provider != "mock" {
		t.Errorf("Provider = %q, want mock", cfg.LLM.Provider)
	}
	if cfg.Orchestrator.ReplanBudget != 5 {
		t.Errorf("ReplanBudget = %d, want 5", cfg.Orchestrator.ReplanBudget)
	}
	// Unset fields keep defaults.
	if cfg.Orchestrator.MaxStepParallelism != 4 {
		t.Errorf("MaxStepParallelism = %d, want default 4", cfg.Orchestrator.MaxStepParallelism)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults ok", func(c *Config) {}, false},
		{"bad provider", func(c *Config) { c.LLM.Provider = "grok9000" }, true},
		{"postgres without dsn", func(c *Config) { c.Sessions.Backend = "postgres" }, true},
		{"postgres with dsn", func(c *Config) {
			c.Sessions.Backend = "postgres"
			c.Sessions.DSN = "postgres://localhost/conductor"
		}, false},
		{"bad sampling", func(c *Config) { c.Observability.TraceSampling = 1.5 }, true},
		{"zero parallelism", func(c *Config) { c.Orchestrator.MaxStepParallelism = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
