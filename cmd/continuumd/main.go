// Package main provides the CLI entry point for continuumd, the per-persona
// AI agent runtime host: it loads a persona's channel registry, module
// runtime, and pipeline executor, and drives them from the command line.
//
// # Basic Usage
//
// Start the runtime:
//
//	continuumd serve --config continuum.yaml
//
// Validate configuration without starting anything:
//
//	continuumd doctor --config continuum.yaml
//
// Run a single pipeline definition to completion:
//
//	continuumd pipeline run --config continuum.yaml --file ./pipeline.json
package main

import (
	"fmt"
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
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "continuumd",
		Short: "continuumd - per-persona AI agent runtime host",
		Long: `continuumd hosts one or more persona runtimes: a six-domain
channel registry, a prefix-routed module runtime, and a pipeline executor,
backed by a pluggable sqlite/postgres storage adapter.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildDoctorCmd(),
		buildPipelineCmd(),
	)

	return rootCmd
}
