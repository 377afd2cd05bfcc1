// Package main provides the CLI entry point for the session kernel: a
// per-conversation state machine that drives a model through tool calls
// inside a sandbox, journaling every turn to disk.
//
// # Basic Usage
//
// Start an interactive session:
//
//	nexus-kernel run --config kernel.yaml
//
// Run a single turn non-interactively:
//
//	nexus-kernel exec "list the files in this repo" --sandbox-policy read_only
//
// # Environment Variables
//
//   - KERNEL_CONFIG: path to the YAML configuration file (default: kernel.yaml)
//   - KERNEL_MODEL: overrides defaults.model
//   - KERNEL_LOG_LEVEL: overrides logging.level
//   - KERNEL_OPENAI_API_KEY / KERNEL_ANTHROPIC_API_KEY: override the
//     matching provider's api_key
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "nexus-kernel",
		Short:   "Session kernel: single-conversation coding agent state machine",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Long: `nexus-kernel runs one conversation at a time through a model, a tool
dispatcher, and a sandbox executor, journaling every turn to disk so a
session can be resumed or forked later.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildExecCmd(),
	)

	return rootCmd
}
