package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/redworks/red/internal/config"
)

// Version information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfg *config.Config

func main() {
	// A .env next to the binary is a convenience for local runs; real
	// deployments set the environment directly.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "red",
		Short: "Red - conversational AI orchestration runtime",
		Long: `Red is a self-hosted conversational AI runtime. It plans each
turn, runs tools over its bus-based RPC, and streams replies through an
OpenAI-compatible HTTP API.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Red %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", buildDate)
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Server:")
			fmt.Printf("  Addr:     %s\n", cfg.Addr())
			fmt.Printf("  API key:  %s\n", maskSecret(cfg.Server.APIKey))
			fmt.Println()

			fmt.Println("Bus / Store:")
			fmt.Printf("  Bus URL:   %s\n", orDefault(cfg.Bus.URL, "(in-memory)"))
			fmt.Printf("  Store URL: %s\n", orDefault(cfg.Store.URL, "(in-memory)"))
			fmt.Println()

			fmt.Println("LLM:")
			fmt.Printf("  URL:         %s\n", cfg.LLM.URL)
			fmt.Printf("  Model:       %s\n", cfg.LLM.Model)
			fmt.Printf("  Max tokens:  %d\n", cfg.LLM.MaxTokens)
			fmt.Printf("  Temperature: %.2f\n", cfg.LLM.Temperature)
			fmt.Printf("  API key:     %s\n", maskSecret(cfg.LLM.APIKey))
			fmt.Println()

			fmt.Println("Tools:")
			fmt.Printf("  Search:    %s\n", boolStatus(cfg.IsSearchConfigured()))
			fmt.Printf("  Embedding: %s\n", boolStatus(cfg.IsEmbeddingConfigured()))
			fmt.Printf("  Commands:  %v\n", cfg.Command.AllowedCommands)
			fmt.Printf("  RAG path:  %s\n", cfg.RAG.Path)
			return nil
		},
	}
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}

func boolStatus(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
