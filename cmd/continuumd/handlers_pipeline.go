package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cambriantech/continuum-core/internal/config"
	"github.com/cambriantech/continuum-core/internal/moduleruntime"
	"github.com/cambriantech/continuum-core/internal/observability"
	"github.com/cambriantech/continuum-core/internal/pipeline"
	"github.com/cambriantech/continuum-core/internal/shell"
)

// runPipeline loads a pipeline definition from file, runs it to completion
// against a standalone (non-scheduler-backed) runtime, and prints its
// PipelineResult as JSON.
func runPipeline(cmd *cobra.Command, configPath, file, handle string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read pipeline file: %w", err)
	}
	var p pipeline.Pipeline
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("failed to parse pipeline file: %w", err)
	}
	if p.Handle == "" {
		p.Handle = handle
	}

	logger := slog.Default()
	metrics := observability.NewMetrics()
	runtime := moduleruntime.New(nil, logger)
	providerRegistry := buildProviderRegistry(cmd.Context(), cfg, logger)
	executor := pipeline.NewExecutor(
		dispatcherFor(runtime, metrics),
		newLLMCaller(providerRegistry, cfg, metrics),
		runtime.EventBus(),
		shell.NewProcessRegistry(logger),
		metrics,
		logger,
	)

	_, result := executor.Run(cmd.Context(), p, nil)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
