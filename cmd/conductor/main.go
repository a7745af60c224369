// Package main is the conductor CLI: a multi-agent orchestration runtime that
// turns natural-language queries into execution plans, coordinates sub-agents
// over a shared blackboard, and streams results over a framed WebSocket
// protocol.
//
// Start the server:
//
//	conductor serve --config conductor.yaml
//
// Run the development harness with in-process mock providers:
//
//	conductor serve --mock
//
// Environment variables GROQ_API_KEY, TOGETHER_API_KEY, and OPENROUTER_API_KEY
// select the remote inference endpoint; with none set the server falls back to
// a local OpenAI-compatible endpoint at http://localhost:11434/v1 with model
// llama3.2.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	ctx, stop := signal.NotifyContext(rootCmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "conductor",
		Short:         "Multi-agent orchestration runtime",
		Long:          "Conductor accepts natural-language queries, plans them into sub-agent steps, and streams answers with human-in-the-loop approval for destructive actions.",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(buildServeCmd(), buildVersionCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
		mock       bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the conductor gateway server",
		Long: `Start the gateway server: load configuration, initialize the LLM and
embedding providers, open the session store, and serve the framed WebSocket
protocol. Graceful shutdown on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  conductor serve

  # Start with custom config
  conductor serve --config /etc/conductor/production.yaml

  # Development harness with mock providers
  conductor serve --mock`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug, mock)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&mock, "mock", false, "Use in-process mock LLM and embedding providers")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("conductor %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
