package reconcile

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"doc-reconciler/core/history"
	"doc-reconciler/core/logger"
	"doc-reconciler/core/metrics"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// IngestFunc runs one ingest pass.
type IngestFunc func(ctx context.Context, log *zap.Logger) (IngestReport, error)

// SweepFunc runs one deletion sweep.
type SweepFunc func(ctx context.Context, log *zap.Logger) (SweepReport, error)

// Options configures a Loop.
type Options struct {
	Ingest   IngestFunc
	Sweep    SweepFunc
	Schedule cron.Schedule
	Bucket   string
	// History is optional.
	History history.Recorder
	// Metrics is optional.
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Loop drives ingest followed by the deletion sweep, once or on a schedule.
type Loop struct {
	ingest   IngestFunc
	sweep    SweepFunc
	schedule cron.Schedule
	bucket   string
	history  history.Recorder
	metrics  *metrics.Metrics
	logger   *zap.Logger

	now   func() time.Time
	newID func() string

	mu   sync.RWMutex
	last *Report
}

// New creates a Loop.
func New(opts Options) *Loop {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		ingest:   opts.Ingest,
		sweep:    opts.Sweep,
		schedule: opts.Schedule,
		bucket:   opts.Bucket,
		history:  opts.History,
		metrics:  opts.Metrics,
		logger:   log,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// RunOnce runs a single ingest pass and a single sweep. An ingest error skips the
// sweep and is returned.
func (l *Loop) RunOnce(ctx context.Context) (Report, error) {
	return l.cycle(ctx, history.ModeOnce)
}

// Watch runs cycles until ctx is cancelled, sleeping until the next scheduled time
// between them. Errors and panics of a cycle are logged and the loop continues.
func (l *Loop) Watch(ctx context.Context) error {
	if l.schedule == nil {
		return fmt.Errorf("watch mode requires a schedule")
	}
	l.logger.Info("Watching bucket", zap.String("bucket", l.bucket))

	for {
		if ctx.Err() != nil {
			l.logger.Info("Watch stopped")
			return nil
		}

		l.safeCycle(ctx)

		next := l.schedule.Next(l.now())
		l.logger.Debug("Next cycle scheduled", zap.Time("at", next))
		if !sleepUntil(ctx, next, l.now) {
			l.logger.Info("Watch stopped")
			return nil
		}
	}
}

// Last returns the report of the most recent finished cycle.
func (l *Loop) Last() (Report, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.last == nil {
		return Report{}, false
	}
	return *l.last, true
}

func (l *Loop) safeCycle(ctx context.Context) {
	started := l.now()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Cycle panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			l.metrics.Cycle(started, l.now(), fmt.Errorf("panic: %v", r))
		}
	}()

	if _, err := l.cycle(ctx, history.ModeWatch); err != nil {
		l.logger.Error("Cycle failed", zap.Error(err))
	}
}

func (l *Loop) cycle(ctx context.Context, mode string) (Report, error) {
	report := Report{
		RunID:     l.newID(),
		Mode:      mode,
		Bucket:    l.bucket,
		StartedAt: l.now(),
	}
	log := logger.WithRun(l.logger, report.RunID)

	err := l.stages(ctx, log, &report)

	report.FinishedAt = l.now()
	if err != nil {
		report.Error = err.Error()
	}
	l.finish(ctx, log, report, err)

	return report, err
}

func (l *Loop) stages(ctx context.Context, log *zap.Logger, report *Report) error {
	ing, err := l.ingest(ctx, log)
	report.Ingest = ing
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	sw, err := l.sweep(ctx, log)
	report.Sweep = sw
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	return nil
}

func (l *Loop) finish(ctx context.Context, log *zap.Logger, report Report, err error) {
	l.mu.Lock()
	l.last = &report
	l.mu.Unlock()

	l.metrics.Cycle(report.StartedAt, report.FinishedAt, err)

	if l.history != nil {
		// The cycle's own context may already be cancelled on shutdown.
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if herr := l.history.Record(hctx, report.CycleRun()); herr != nil {
			log.Warn("Failed to record cycle history", zap.Error(herr))
		}
	}

	log.Info("Cycle finished",
		zap.String("mode", report.Mode),
		zap.Int("processed", report.Ingest.Processed),
		zap.Int("skipped", report.Ingest.Skipped),
		zap.Int("failed", report.Ingest.Failed),
		zap.Int("markers_removed", report.Sweep.Removed),
		zap.Duration("duration", report.Duration()),
	)
}

// sleepUntil waits until t or ctx is done. It reports whether t was reached.
func sleepUntil(ctx context.Context, t time.Time, now func() time.Time) bool {
	d := t.Sub(now())
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
