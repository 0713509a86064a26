package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cambriantech/continuum-core/internal/channelregistry"
	"github.com/cambriantech/continuum-core/internal/channelregistry/selftask"
	"github.com/cambriantech/continuum-core/internal/channelregistry/storetasks"
	"github.com/cambriantech/continuum-core/internal/config"
	"github.com/cambriantech/continuum-core/internal/moduleruntime"
	"github.com/cambriantech/continuum-core/internal/observability"
	"github.com/cambriantech/continuum-core/internal/storage"
)

// runServe implements the serve command: load config, open storage, wire
// the module runtime and channel-registry scheduler, then block until
// SIGINT/SIGTERM.
func runServe(ctx context.Context, configPath string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}
	logger := slog.Default()

	logger.Info("starting continuumd", "version", version, "commit", commit, "config", configPath)

	watcher, err := config.NewWatcher(configPath, logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := watcher.Current()

	store, dbPath, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config file watch disabled", "error", err)
	}
	defer watcher.Close()

	registry := channelregistry.New()
	taskStore := storetasks.New(store, dbPath)
	scheduler := channelregistry.NewScheduler(registry, taskStore, noopGenomeTrigger{}, selftask.New(time.Now), logger)

	runtime := moduleruntime.New(nil, logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go scheduler.Run(ctx)

	logger.Info("continuumd running", "db_path", dbPath)
	<-ctx.Done()
	logger.Info("shutting down continuumd")
	return runtime.Shutdown(context.Background())
}

// noopGenomeTrigger satisfies channelregistry.GenomeTrigger when no external
// genome/training host command is configured; training-readiness ticks are
// logged by the scheduler itself but never dispatched.
type noopGenomeTrigger struct{}

func (noopGenomeTrigger) TriggerTraining(ctx context.Context, personaID string) error { return nil }

// dispatcherFor adapts moduleruntime.Runtime into pipeline.CommandDispatcher,
// translating its richer CommandResult into the plain (any, error) shape
// Command steps expect.
type dispatcherAdapter struct {
	runtime *moduleruntime.Runtime
	metrics *observability.Metrics
}

func dispatcherFor(runtime *moduleruntime.Runtime, metrics *observability.Metrics) dispatcherAdapter {
	return dispatcherAdapter{runtime: runtime, metrics: metrics}
}

func (d dispatcherAdapter) Dispatch(ctx context.Context, name string, params map[string]any) (any, error) {
	result, err := d.runtime.Dispatch(ctx, name, params)
	if err != nil {
		if d.metrics != nil {
			d.metrics.RecordError("pipeline.command", name)
		}
		return nil, err
	}
	return result, nil
}

// runDoctor validates configuration and confirms the storage adapter can be
// opened and its schema touched, without starting the scheduler.
func runDoctor(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	raw, err := config.LoadRaw(configPath)
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	if err := config.ValidateRaw(raw); err != nil {
		return fmt.Errorf("config schema invalid: %w", err)
	}

	store, dbPath, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("storage unreachable: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	if err := store.EnsureSchema(ctx, dbPath, "self_tasks", []storage.Column{
		{Name: "persona_id", Type: "text", Indexed: true},
		{Name: "status", Type: "text", Indexed: true},
	}); err != nil {
		return fmt.Errorf("storage schema check failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "config ok: %s\nstorage ok: %s\n", configPath, dbPath)
	return nil
}
