// Package config defines the conductor configuration model and loader.
package config

import "time"

// Config is the root configuration for the conductor runtime.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	LLM           LLMConfig           `yaml:"llm"`
	Embeddings    EmbeddingsConfig    `yaml:"embeddings"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the gateway listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// MaxConnections bounds concurrent websocket channels.
	MaxConnections int `yaml:"max_connections"`

	// IdleTimeout closes channels with no inbound traffic.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// AuthTimeout bounds how long a channel may stay unauthenticated.
	AuthTimeout time.Duration `yaml:"auth_timeout"`
}

// AuthConfig configures bearer-token verification.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`

	// AllowInsecure accepts unsigned dev tokens. Never enable in production.
	AllowInsecure bool `yaml:"allow_insecure"`
}

// LLMConfig configures the inference backend.
type LLMConfig struct {
	// Provider selects the backend: "openai", "anthropic", or "mock".
	Provider string `yaml:"provider"`

	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries bounds retry attempts for transient failures.
	MaxRetries int `yaml:"max_retries"`
}

// EmbeddingsConfig configures the embedding backend.
type EmbeddingsConfig struct {
	Provider string `yaml:"provider"` // openai, mock
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

// SessionsConfig configures the session store.
type SessionsConfig struct {
	// Backend selects the store: "memory" or "postgres".
	Backend string `yaml:"backend"`

	// DSN is the Postgres connection string when Backend is "postgres".
	DSN string `yaml:"dsn"`

	// TTLHours is the default session lifetime; 0 disables expiry.
	TTLHours int `yaml:"ttl_hours"`

	// MaxMessagesPerSession rejects appends beyond this count.
	MaxMessagesPerSession int `yaml:"max_messages_per_session"`

	// CleanupInterval is how often expired sessions are purged.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// OrchestratorConfig tunes the request loop.
type OrchestratorConfig struct {
	// MaxStepParallelism caps concurrently running plan steps.
	MaxStepParallelism int `yaml:"max_step_parallelism"`

	// ReplanBudget is how many times a request may replan after failures.
	ReplanBudget int `yaml:"replan_budget"`

	// HILTimeout is the default pending-interaction deadline.
	HILTimeout time.Duration `yaml:"hil_timeout"`

	// StepTimeout is the soft per-step deadline; 0 disables it.
	StepTimeout time.Duration `yaml:"step_timeout"`
}

// ObservabilityConfig configures logging, tracing, and metrics.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json or text

	// OTLPEndpoint enables trace export when set (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// TraceSampling is the probabilistic sampling rate in [0, 1].
	TraceSampling float64 `yaml:"trace_sampling"`

	// MetricsAddr serves Prometheus metrics when set (e.g. ":9090").
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultConfig returns the configuration used when no file is provided.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			MaxConnections: 256,
			IdleTimeout:    300 * time.Second,
			AuthTimeout:    30 * time.Second,
		},
		LLM: LLMConfig{
			Provider:   "openai",
			BaseURL:    "http://localhost:11434/v1",
			Model:      "llama3.2",
			Timeout:    60 * time.Second,
			MaxRetries: 2,
		},
		Embeddings: EmbeddingsConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		Sessions: SessionsConfig{
			Backend:               "memory",
			TTLHours:              24,
			MaxMessagesPerSession: 1000,
			CleanupInterval:       10 * time.Minute,
		},
		Orchestrator: OrchestratorConfig{
			MaxStepParallelism: 4,
			ReplanBudget:       2,
			HILTimeout:         300 * time.Second,
			StepTimeout:        120 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			LogFormat:     "text",
			TraceSampling: 1.0,
		},
	}
}
