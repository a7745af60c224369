package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/conductorhq/conductor/internal/config"
	"github.com/conductorhq/conductor/internal/embeddings"
	"github.com/conductorhq/conductor/internal/gateway"
	"github.com/conductorhq/conductor/internal/knowledge"
	"github.com/conductorhq/conductor/internal/llm"
	"github.com/conductorhq/conductor/internal/observability"
	"github.com/conductorhq/conductor/internal/orchestrator"
	"github.com/conductorhq/conductor/internal/sessions"
	"github.com/conductorhq/conductor/internal/subagents"
	"github.com/conductorhq/conductor/internal/tools"
)

// runServe wires the runtime and blocks until the context is cancelled.
func runServe(ctx context.Context, configPath string, debug, mock bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Observability.LogLevel = "debug"
	}
	if mock {
		cfg.LLM.Provider = "mock"
		cfg.Embeddings.Provider = "mock"
		cfg.Sessions.Backend = "memory"
		cfg.Auth.AllowInsecure = true
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	_, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "conductor",
		ServiceVersion: version,
		Endpoint:       cfg.Observability.OTLPEndpoint,
		SamplingRate:   cfg.Observability.TraceSampling,
		EnableInsecure: true,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "tracer shutdown failed", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	provider := buildLLMProvider(cfg)
	embedder := buildEmbeddingProvider(cfg)

	store, err := buildSessionStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	go sessions.CleanupLoop(ctx, store, cfg.Sessions.CleanupInterval, logger)

	retriever := knowledge.NewRetriever(knowledge.NewGraph(), embedder, logger)

	toolRegistry := tools.NewRegistry()
	toolExec := tools.NewExecutor(toolRegistry, tools.DefaultExecConfig(), tools.DefaultApprovalPolicy{}, logger, metrics)

	agentCfg := subagents.Config{
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	}
	planner := subagents.NewPlanner(provider, retriever, agentCfg, logger)
	executor := subagents.NewExecutor(provider, retriever, toolRegistry, toolExec, agentCfg, logger)
	synthesizer := subagents.NewSynthesizer(provider, retriever, agentCfg, logger)

	orch := orchestrator.New(planner, synthesizer, executor, store, orchestrator.Config{
		MaxStepParallelism: cfg.Orchestrator.MaxStepParallelism,
		ReplanBudget:       cfg.Orchestrator.ReplanBudget,
		StepTimeout:        cfg.Orchestrator.StepTimeout,
		HILTimeout:         cfg.Orchestrator.HILTimeout,
		SessionTTL:         time.Duration(cfg.Sessions.TTLHours) * time.Hour,
		SamplingRate:       cfg.Observability.TraceSampling,
	}, logger, metrics, nil)
	orch.RegisterSubAgent(subagents.NewResearcher(provider, retriever, agentCfg, logger))
	orch.RegisterSubAgent(subagents.NewAnalyzer(provider, retriever, agentCfg, logger))

	auth := gateway.NewAuthenticator(cfg.Auth)
	server := gateway.NewServer(cfg.Server, auth, orch, logger, metrics, registry)

	logger.Info(ctx, "conductor starting",
		"version", version,
		"llm_provider", cfg.LLM.Provider,
		"llm_base_url", cfg.LLM.BaseURL,
		"sessions_backend", cfg.Sessions.Backend)
	return server.ListenAndServe(ctx)
}

// buildLLMProvider selects the inference backend. The config loader has
// already resolved the endpoint from the environment key, falling back to the
// local OpenAI-compatible server.
func buildLLMProvider(cfg *config.Config) llm.Provider {
	switch cfg.LLM.Provider {
	case "mock":
		return llm.NewMockProvider()
	case "anthropic":
		return llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
		})
	}
	return llm.NewOpenAIProvider(llm.OpenAIConfig{
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		Model:      cfg.LLM.Model,
		MaxRetries: cfg.LLM.MaxRetries,
	})
}

func buildEmbeddingProvider(cfg *config.Config) embeddings.Provider {
	if cfg.Embeddings.Provider == "mock" {
		return embeddings.NewMockProvider()
	}
	return embeddings.NewOpenAIProvider(embeddings.OpenAIConfig{
		APIKey:  cfg.Embeddings.APIKey,
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
	})
}

func buildSessionStore(cfg *config.Config) (sessions.Store, error) {
	if cfg.Sessions.Backend == "postgres" {
		return sessions.NewPostgresStore(sessions.PostgresConfig{
			DSN:                   cfg.Sessions.DSN,
			MaxMessagesPerSession: cfg.Sessions.MaxMessagesPerSession,
		})
	}
	return sessions.NewMemoryStore(cfg.Sessions.MaxMessagesPerSession), nil
}
