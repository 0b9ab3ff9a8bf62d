// findingstored is the report-store server daemon: it opens the
// server-wide configuration store, starts the background task workers,
// and serves until signalled. The RPC transport is hosted externally and
// drives the façade through its Go API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/findingstore/findingstore/internal/config"
	"github.com/findingstore/findingstore/internal/facade"
	"github.com/findingstore/findingstore/internal/ingest"
	"github.com/findingstore/findingstore/internal/registry"
	"github.com/findingstore/findingstore/internal/taskmgr"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "findingstored",
		Short:         "Static-analysis report store server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to server config TOML (defaults apply when omitted)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "findingstored: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	// Instruments across the storage, ingestion, and task packages record
	// through the global meter; without a provider they are no-ops.
	meterProvider := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(meterProvider)
	defer func() { _ = meterProvider.Shutdown(context.Background()) }()

	reg, err := registry.Open(ctx, registry.Config{
		BaseDir:         cfg.DataDir,
		ConfigDir:       cfg.ConfigDBDir,
		DefaultPoolSize: cfg.PoolSize,
		CommitterName:   cfg.CommitterName,
		CommitterEmail:  cfg.CommitterEmail,
	}, log)
	if err != nil {
		return err
	}
	defer func() { _ = reg.Close() }()

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	tasks := taskmgr.New(reg.Tasks(), workers, cfg.QueueCapacity, log)
	if err := tasks.Start(ctx); err != nil {
		return err
	}
	defer tasks.Stop()

	ing := ingest.New(tasks, cfg.MaxBundleSizeBytes(), log)
	// The externally-hosted transport resolves identities and their
	// permissions; until it attaches a real predicate the server runs
	// closed (every check denies).
	deny := func(ctx context.Context, id facade.Identity, perm facade.Permission, productID int64) bool {
		return false
	}
	_ = facade.New(reg, tasks, ing, deny, log)

	log.Infow("findingstored started", "data_dir", cfg.DataDir, "workers", workers,
		"max_bundle_size_mb", cfg.MaxBundleSizeMB)
	<-ctx.Done()
	log.Infow("findingstored shutting down")
	return nil
}
