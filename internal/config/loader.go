package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from path, layering it over DefaultConfig and
// then applying environment overrides. An empty path loads defaults plus
// environment only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// inferenceEndpoints maps provider API-key environment variables to their
// OpenAI-compatible endpoints. First match wins, in this order.
var inferenceEndpoints = []struct {
	envKey  string
	baseURL string
	model   string
}{
	{"GROQ_API_KEY", "https://api.groq.com/openai/v1", "llama-3.3-70b-versatile"},
	{"TOGETHER_API_KEY", "https://api.together.xyz/v1", "meta-llama/Llama-3.3-70B-Instruct-Turbo"},
	{"OPENROUTER_API_KEY", "https://openrouter.ai/api/v1", "meta-llama/llama-3.3-70b-instruct"},
}

// applyEnv overlays environment-derived settings. Explicit config file
// values for api_key win over the environment.
func applyEnv(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		for _, ep := range inferenceEndpoints {
			if key := os.Getenv(ep.envKey); key != "" {
				cfg.LLM.APIKey = key
				cfg.LLM.BaseURL = ep.baseURL
				if cfg.LLM.Model == "" || cfg.LLM.Model == DefaultConfig().LLM.Model {
					cfg.LLM.Model = ep.model
				}
				break
			}
		}
	}
	if cfg.Embeddings.APIKey == "" {
		cfg.Embeddings.APIKey = cfg.LLM.APIKey
		if cfg.Embeddings.BaseURL == "" {
			cfg.Embeddings.BaseURL = cfg.LLM.BaseURL
		}
	}
	if secret := os.Getenv("CONDUCTOR_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if dsn := os.Getenv("CONDUCTOR_SESSIONS_DSN"); dsn != "" {
		cfg.Sessions.DSN = dsn
		cfg.Sessions.Backend = "postgres"
	}
}

// Validate rejects configurations that cannot possibly serve.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic", "mock":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	switch c.Sessions.Backend {
	case "memory":
	case "postgres":
		if c.Sessions.DSN == "" {
			return fmt.Errorf("sessions backend postgres requires a dsn")
		}
	default:
		return fmt.Errorf("unknown sessions backend %q", c.Sessions.Backend)
	}
	if c.Observability.TraceSampling < 0 || c.Observability.TraceSampling > 1 {
		return fmt.Errorf("trace_sampling must be in [0, 1]")
	}
	if c.Orchestrator.MaxStepParallelism <= 0 {
		return fmt.Errorf("max_step_parallelism must be positive")
	}
	return nil
}
