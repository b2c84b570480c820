// Package main provides the CLI entry point for switchboard, a
// multi-channel AI-assistant control plane.
//
// switchboard connects messaging platforms (Telegram, Discord, Slack, and a
// local interactive console) to LLM providers (Anthropic, OpenAI) with tool
// execution, background subagents, and scheduled cron turns.
//
// # Basic Usage
//
// Start the gateway:
//
//	switchboard serve --config switchboard.yaml
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to keep it testable.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "switchboard",
		Short: "switchboard - multi-channel AI-assistant control plane",
		Long: `switchboard routes messages from Telegram, Discord, Slack, and a local
interactive console to LLM providers (Anthropic, OpenAI), with per-turn tool
execution, background subagents, and scheduled cron turns.`,
		Version:      version + " (commit: " + commit + ", built: " + date + ")",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Printf("switchboard %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("SWITCHBOARD_CONFIG"); env != "" {
		return env
	}
	return "switchboard.yaml"
}
