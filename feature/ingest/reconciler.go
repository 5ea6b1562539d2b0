package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"doc-reconciler/core/bus"
	"doc-reconciler/core/events"
	"doc-reconciler/core/extract"
	"doc-reconciler/core/failurelog"
	"doc-reconciler/core/fault"
	"doc-reconciler/core/marker"
	"doc-reconciler/core/metrics"
	"doc-reconciler/core/retry"
	"doc-reconciler/core/storage"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config holds the settings of one Reconciler.
type Config struct {
	// Bucket holds the source documents.
	Bucket string
	// MarkerPrefix is the key prefix of processed markers.
	MarkerPrefix string
	// Binding is where ingest events are published.
	Binding bus.Binding
	// Workers bounds concurrent objects. Values below 2 process sequentially.
	Workers int
	// TempDir receives fetched objects. Empty uses the OS default.
	TempDir string
	// RetryKeys, when non-nil, replaces the bucket listing with exactly these keys.
	RetryKeys []string
	// Fetch is the download retry policy. The zero value selects retry.Default.
	Fetch retry.Policy
}

// Summary counts the outcomes of one pass.
type Summary struct {
	// Candidates is the number of objects considered.
	Candidates int
	// Processed objects were announced and marked in this pass.
	Processed int
	// Skipped objects already had a marker for their version.
	Skipped int
	// Failed objects were recorded in the failure log.
	Failed int
	// Untouched objects had an inconclusive marker check.
	Untouched int
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeUntouched
)

func (o outcome) label() string {
	switch o {
	case outcomeProcessed:
		return metrics.OutcomeProcessed
	case outcomeSkipped:
		return metrics.OutcomeSkipped
	case outcomeFailed:
		return metrics.OutcomeFailed
	default:
		return metrics.OutcomeUntouched
	}
}

func (s *Summary) add(o outcome) {
	switch o {
	case outcomeProcessed:
		s.Processed++
	case outcomeSkipped:
		s.Skipped++
	case outcomeFailed:
		s.Failed++
	case outcomeUntouched:
		s.Untouched++
	}
}

// Reconciler announces every source object version that has no processed marker yet.
type Reconciler struct {
	client    storage.Client
	publisher bus.Publisher
	extractor extract.Extractor
	cfg       Config
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewReconciler creates a Reconciler. m may be nil.
func NewReconciler(client storage.Client, publisher bus.Publisher, extractor extract.Extractor, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Reconciler {
	if cfg.Fetch.Attempts == 0 {
		cfg.Fetch = retry.Default
	}
	return &Reconciler{
		client:    client,
		publisher: publisher,
		extractor: extractor,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
	}
}

// Run performs one ingest pass. Per-object failures are settled by the fault policy:
// recorded in failures, left for the next pass, or, for fatal ones, returned after
// the objects in flight finish. A listing failure is returned. Cancelling ctx stops
// the pass before the next object while objects already in flight complete.
func (r *Reconciler) Run(ctx context.Context, failures failurelog.Recorder) (Summary, error) {
	return r.RunWithLogger(ctx, failures, r.logger)
}

// RunWithLogger is Run with a cycle-scoped logger.
func (r *Reconciler) RunWithLogger(ctx context.Context, failures failurelog.Recorder, log *zap.Logger) (Summary, error) {
	var sum Summary

	candidates, err := r.candidates(ctx, failures, log, &sum)
	if err != nil {
		return sum, err
	}
	sum.Candidates += len(candidates)

	poolErr := r.runPool(ctx, candidates, failures, log, &sum)

	if sum.Processed > 0 || sum.Failed > 0 {
		log.Info("Ingest pass finished",
			zap.String("bucket", r.cfg.Bucket),
			zap.Int("candidates", sum.Candidates),
			zap.Int("processed", sum.Processed),
			zap.Int("skipped", sum.Skipped),
			zap.Int("failed", sum.Failed),
			zap.Int("untouched", sum.Untouched),
		)
	} else {
		log.Debug("Ingest pass found nothing new", zap.Int("candidates", sum.Candidates))
	}

	if poolErr != nil {
		return sum, poolErr
	}
	if err := ctx.Err(); err != nil {
		return sum, fault.New(fault.Fatal, "ingest", "", err)
	}
	return sum, nil
}

// runPool processes candidates on at most Workers goroutines. Objects already started
// run on a context that ignores cancellation so their announcement and marker stay
// paired. The first fatal object error stops the feed.
func (r *Reconciler) runPool(ctx context.Context, candidates []minio.ObjectInfo, failures failurelog.Recorder, log *zap.Logger, sum *Summary) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.cfg.Workers, 1))

	var mu sync.Mutex
	for _, obj := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			o, err := r.process(context.WithoutCancel(ctx), obj, failures, log)
			mu.Lock()
			sum.add(o)
			mu.Unlock()
			return err
		})
	}
	return g.Wait()
}

// candidates lists the bucket, or stats the retry keys in retry mode.
func (r *Reconciler) candidates(ctx context.Context, failures failurelog.Recorder, log *zap.Logger, sum *Summary) ([]minio.ObjectInfo, error) {
	if r.cfg.RetryKeys != nil {
		return r.retryCandidates(ctx, failures, log, sum), nil
	}

	root := marker.Root(r.cfg.MarkerPrefix)
	var out []minio.ObjectInfo
	for obj := range r.client.ListObjects(ctx, r.cfg.Bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, fault.New(fault.Fatal, "list", r.cfg.Bucket, obj.Err)
		}
		if strings.HasPrefix(obj.Key, root) || strings.HasSuffix(obj.Key, "/") {
			continue
		}
		out = append(out, obj)
	}
	return out, nil
}

func (r *Reconciler) retryCandidates(ctx context.Context, failures failurelog.Recorder, log *zap.Logger, sum *Summary) []minio.ObjectInfo {
	if len(r.cfg.RetryKeys) == 0 {
		log.Warn("Retry list is empty")
		return nil
	}
	log.Info("Retry mode", zap.Int("objects", len(r.cfg.RetryKeys)))

	var out []minio.ObjectInfo
	for _, key := range r.cfg.RetryKeys {
		info, err := r.client.StatObject(ctx, r.cfg.Bucket, key, minio.StatObjectOptions{})
		if err != nil {
			klog := log.With(zap.String("key", key))
			klog.Warn("Retry object unavailable", zap.Error(err))
			sum.Candidates++
			sum.Failed++
			r.metrics.Object(metrics.OutcomeFailed)
			r.record(failures, klog, key)
			continue
		}
		info.Key = key
		out = append(out, info)
	}
	return out
}

// process runs marker check, fetch, extract, publish and mark for one object. The
// error is non-nil only when the fault policy says the pass must stop.
func (r *Reconciler) process(ctx context.Context, obj minio.ObjectInfo, failures failurelog.Recorder, log *zap.Logger) (outcome, error) {
	o, err := r.processObject(ctx, obj, failures, log.With(zap.String("key", obj.Key), zap.String("etag", obj.ETag)))
	r.metrics.Object(o.label())
	return o, err
}

func (r *Reconciler) processObject(ctx context.Context, obj minio.ObjectInfo, failures failurelog.Recorder, log *zap.Logger) (outcome, error) {
	markerPath := marker.Encode(r.cfg.MarkerPrefix, obj.Key, obj.ETag)

	exists, err := r.markerExists(ctx, markerPath)
	if err != nil {
		return r.settle(err, "Marker check failed", failures, log, obj.Key)
	}
	if exists {
		log.Debug("Already processed")
		return outcomeSkipped, nil
	}

	file, cleanup, err := r.fetch(ctx, obj, log)
	if err != nil {
		return r.settle(err, "Fetch failed", failures, log, obj.Key)
	}
	defer cleanup()

	res, err := r.extractor.Extract(ctx, extract.Document{
		Path:        file,
		Key:         obj.Key,
		ContentType: obj.ContentType,
		Size:        obj.Size,
	})
	if err != nil {
		return r.settle(tag(fault.Permanent, "extract", obj.Key, err), "Extraction failed", failures, log, obj.Key)
	}

	if err := r.publish(ctx, obj, res); err != nil {
		return r.settle(tag(fault.Permanent, "publish", obj.Key, err), "Publish not confirmed, marker withheld", failures, log, obj.Key)
	}
	r.metrics.Published(events.TypeIngest)

	if err := r.mark(ctx, markerPath, obj); err != nil {
		log.Warn("Marker write failed, object will be re-announced", zap.String("marker", markerPath), zap.Error(err))
	} else {
		r.metrics.MarkerWritten()
	}

	log.Info("Document announced")
	return outcomeProcessed, nil
}

// settle applies the fault policy to a failed step. Retryable failures reach here only
// once their attempts are spent and are recorded like permanent ones.
func (r *Reconciler) settle(err error, msg string, failures failurelog.Recorder, log *zap.Logger, key string) (outcome, error) {
	kind := fault.Classify(err)
	switch fault.ActionFor(kind) {
	case fault.ActionLeaveUntouched:
		log.Warn(msg+", leaving object untouched", zap.String("kind", string(kind)), zap.Error(err))
		return outcomeUntouched, nil
	case fault.ActionPropagate:
		log.Error(msg+", stopping pass", zap.String("kind", string(kind)), zap.Error(err))
		return outcomeUntouched, err
	default:
		log.Warn(msg, zap.String("kind", string(kind)), zap.Error(err))
		r.record(failures, log, key)
		return outcomeFailed, nil
	}
}

// tag gives err a kind unless it already carries one.
func tag(kind fault.Kind, op, key string, err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	return fault.New(kind, op, key, err)
}

// fetchKind is the fault kind of a download error.
func fetchKind(err error) fault.Kind {
	if storage.IsTransient(err) {
		return fault.Transient
	}
	return fault.Permanent
}

func retryable(err error) bool {
	return fault.ActionFor(fetchKind(err)) == fault.ActionRetry
}

func (r *Reconciler) markerExists(ctx context.Context, markerPath string) (bool, error) {
	_, err := r.client.StatObject(ctx, r.cfg.Bucket, markerPath, minio.StatObjectOptions{})
	switch {
	case err == nil:
		return true, nil
	case storage.IsNotFound(err):
		return false, nil
	default:
		return false, fault.New(fault.Ambiguous, "stat marker", markerPath, err)
	}
}

// fetch downloads the listed version of obj into a temp file. The returned cleanup
// removes the file and must always be called when err is nil.
func (r *Reconciler) fetch(ctx context.Context, obj minio.ObjectInfo, log *zap.Logger) (string, func(), error) {
	f, err := os.CreateTemp(r.cfg.TempDir, "ingest-*"+path.Ext(marker.Normalize(obj.Key)))
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	f.Close()
	cleanup := func() { _ = os.Remove(name) }

	opts := minio.GetObjectOptions{}
	if obj.ETag != "" {
		_ = opts.SetMatchETag(obj.ETag)
	}

	err = retry.Do(ctx, r.cfg.Fetch, retryable, func(attempt int) error {
		err := r.client.FGetObject(ctx, r.cfg.Bucket, obj.Key, name, opts)
		if err != nil && attempt < r.cfg.Fetch.Attempts && retryable(err) {
			log.Warn("Fetch failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", r.cfg.Fetch.Backoff(attempt)),
				zap.Error(err),
			)
		}
		return err
	})
	if err != nil {
		cleanup()
		return "", nil, fault.New(fetchKind(err), "fetch", obj.Key, err)
	}
	return name, cleanup, nil
}

func (r *Reconciler) publish(ctx context.Context, obj minio.ObjectInfo, res extract.Result) error {
	ev := events.NewIngest(events.Source{
		Bucket: r.cfg.Bucket,
		Object: obj.Key,
		ETag:   obj.ETag,
	}, res.Metadata, res.Text)

	body, err := events.Encode(ev)
	if err != nil {
		return err
	}

	return r.publisher.Publish(ctx, bus.Message{
		Exchange:    r.cfg.Binding.Exchange,
		RoutingKey:  r.cfg.Binding.RoutingKey,
		MessageID:   ev.MessageID(),
		DedupeID:    events.DedupeID(ev.Source, ev.MessageID(), obj.LastModified),
		ContentType: "application/json",
		Body:        body,
	})
}

func (r *Reconciler) mark(ctx context.Context, markerPath string, obj minio.ObjectInfo) error {
	_, err := r.client.PutObject(ctx, r.cfg.Bucket, markerPath, bytes.NewReader(nil), 0, minio.PutObjectOptions{
		ContentType: "text/plain",
		UserMetadata: map[string]string{
			"source": obj.Key,
			"etag":   obj.ETag,
		},
	})
	return err
}

func (r *Reconciler) record(failures failurelog.Recorder, log *zap.Logger, key string) {
	if err := failures.Record(key); err != nil {
		log.Error("Failed to record failed object", zap.Error(err))
	}
}
