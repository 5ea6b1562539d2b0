package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"doc-reconciler/core/bus"
	"doc-reconciler/core/config"
	"doc-reconciler/core/database"
	"doc-reconciler/core/extract"
	"doc-reconciler/core/failurelog"
	"doc-reconciler/core/history"
	"doc-reconciler/core/logger"
	"doc-reconciler/core/metrics"
	"doc-reconciler/core/reconcile"
	"doc-reconciler/core/storage"
	"doc-reconciler/feature/deletion"
	"doc-reconciler/feature/ingest"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Flags for the run command. Each one overrides its RECONCILE_* or STORAGE_* setting.
	runBucket    string
	runWatch     bool
	runFailedLog string
	runRetryFile string
	runWorkers   int
	runInterval  int
	runSchedule  string
)

// runCmd performs reconciliation once or keeps watching the bucket.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile the bucket with the message bus",
	Long: `Runs one ingest pass followed by one deletion sweep.

Objects without a processed marker for their current version are fetched,
extracted and published, then marked. Markers whose source object is gone
produce a deletion event and are removed.

Examples:
  # Single pass
  doc-reconciler run

  # Keep watching, one cycle every 30 seconds
  doc-reconciler run --watch --interval 30

  # Cron schedule
  doc-reconciler run --watch --schedule "*/5 * * * *"

  # Retry only the keys that failed last time
  doc-reconciler run --retry-file failed_objects.txt --failed-log failed_again.txt`,
	RunE: runReconcile,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runBucket, "bucket", "", "Bucket to reconcile (overrides STORAGE_BUCKET)")
	f.BoolVar(&runWatch, "watch", false, "Keep running cycles until interrupted")
	f.StringVar(&runFailedLog, "failed-log", "", "File that failed object keys are appended to")
	f.StringVar(&runRetryFile, "retry-file", "", "Only process the keys listed in this file")
	f.IntVar(&runWorkers, "workers", 0, "Objects processed concurrently during ingest")
	f.IntVar(&runInterval, "interval", 0, "Seconds between watch cycles")
	f.StringVar(&runSchedule, "schedule", "", "Cron expression for watch cycles (overrides --interval)")

	RootCmd.AddCommand(runCmd)
}

// applyRunFlags copies explicitly set flags over the loaded configuration.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("bucket") {
		cfg.Storage.Bucket = runBucket
	}
	if f.Changed("watch") {
		cfg.Reconcile.Watch = runWatch
	}
	if f.Changed("failed-log") {
		cfg.Reconcile.FailedLog = runFailedLog
	}
	if f.Changed("retry-file") {
		cfg.Reconcile.RetryFile = runRetryFile
	}
	if f.Changed("workers") {
		cfg.Reconcile.Workers = runWorkers
	}
	if f.Changed("interval") {
		cfg.Reconcile.PollIntervalSeconds = runInterval
	}
	if f.Changed("schedule") {
		cfg.Reconcile.Schedule = runSchedule
	}
	return cfg.Validate()
}

func runReconcile(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	// Initialize logger
	logg, err := logger.New(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logg.Sync()
	zap.ReplaceGlobals(logg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to storage and require the bucket up front
	store, err := storage.NewClient(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	if err := storage.EnsureBucket(ctx, store, cfg.Storage.Bucket); err != nil {
		return err
	}

	m := metrics.New()

	// Connect to the message bus
	handle, err := bus.Open(ctx, cfg.Bus, logg)
	if err != nil {
		return fmt.Errorf("failed to connect to message bus: %w", err)
	}
	handle.OnReconnect = m.BusReconnected
	defer func() {
		if err := handle.Close(); err != nil {
			logg.Warn("Failed to close message bus", zap.Error(err))
		}
	}()

	hist := openHistory(cfg.Database, logg)

	retryKeys, err := loadRetryKeys(cfg.Reconcile.RetryFile, logg)
	if err != nil {
		return err
	}

	var failures failurelog.Recorder = failurelog.Discard{}
	if cfg.Reconcile.FailedLog != "" {
		fl, err := failurelog.Open(cfg.Reconcile.FailedLog)
		if err != nil {
			return err
		}
		defer fl.Close()
		failures = fl
	}

	ing := ingest.NewReconciler(store, handle, extract.New(cfg.Extract), ingest.Config{
		Bucket:       cfg.Storage.Bucket,
		MarkerPrefix: cfg.Reconcile.MarkerPrefix,
		Binding:      cfg.Bus.Ingest(),
		Workers:      cfg.Reconcile.Workers,
		TempDir:      cfg.Reconcile.TempDir,
		RetryKeys:    retryKeys,
	}, m, logg)

	sweep := deletion.NewSweeper(store, handle, deletion.Config{
		Bucket:       cfg.Storage.Bucket,
		MarkerPrefix: cfg.Reconcile.MarkerPrefix,
		Binding:      cfg.Bus.Deletion(),
	}, m, logg)

	var schedule cron.Schedule
	if cfg.Reconcile.Watch {
		schedule, err = reconcile.NewSchedule(cfg.Reconcile.Schedule, cfg.Reconcile.PollInterval())
		if err != nil {
			return err
		}
	}

	loop := reconcile.New(reconcile.Options{
		Ingest: func(ctx context.Context, log *zap.Logger) (reconcile.IngestReport, error) {
			sum, err := ing.RunWithLogger(ctx, failures, log)
			return reconcile.IngestReport(sum), err
		},
		Sweep: func(ctx context.Context, log *zap.Logger) (reconcile.SweepReport, error) {
			sum, err := sweep.RunWithLogger(ctx, log)
			return reconcile.SweepReport(sum), err
		},
		Schedule: schedule,
		Bucket:   cfg.Storage.Bucket,
		History:  hist,
		Metrics:  m,
		Logger:   logg,
	})

	if cfg.Server.Enabled {
		app, err := newStatusApp(cfg.Server, loop, hist, handle, m, logg)
		if err != nil {
			return err
		}
		go func() {
			logg.Info("Starting status server", zap.String("port", cfg.Server.Port))
			if err := app.Listen(cfg.Server.Addr()); err != nil {
				logg.Error("Status server stopped", zap.Error(err))
			}
		}()
		defer func() {
			_ = app.ShutdownWithTimeout(statusShutdownTimeout)
		}()
	}

	if cfg.Reconcile.Watch {
		return loop.Watch(ctx)
	}

	if _, err := loop.RunOnce(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logg.Info("Interrupted, stopping")
			return nil
		}
		return err
	}
	return nil
}

// openHistory connects the optional cycle history store. A failed connection is
// logged and history is disabled for this run.
func openHistory(cfg database.Config, logg *zap.Logger) history.Recorder {
	if !cfg.Enabled {
		return nil
	}
	db, err := database.Connect(cfg)
	if err != nil {
		logg.Warn("Optional database connection failed, cycle history disabled", zap.Error(err))
		return nil
	}
	store := history.NewStore(db)
	if err := store.Migrate(); err != nil {
		logg.Warn("Failed to migrate cycle history, cycle history disabled", zap.Error(err))
		return nil
	}
	logg.Info("Recording cycle history", zap.String("driver", cfg.Driver))
	return store
}

// loadRetryKeys returns nil when no retry file is configured, and a non-nil slice
// otherwise so an empty file still restricts ingest to nothing.
func loadRetryKeys(path string, logg *zap.Logger) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	keys, err := failurelog.ReadKeys(path)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []string{}
	}
	logg.Info("Retrying keys from file", zap.String("file", path), zap.Int("keys", len(keys)))
	return keys, nil
}
