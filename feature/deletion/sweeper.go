package deletion

import (
	"context"
	"errors"

	"doc-reconciler/core/bus"
	"doc-reconciler/core/events"
	"doc-reconciler/core/fault"
	"doc-reconciler/core/marker"
	"doc-reconciler/core/metrics"
	"doc-reconciler/core/storage"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// Config holds the settings of one Sweeper.
type Config struct {
	// Bucket holds the source documents and their markers.
	Bucket string
	// MarkerPrefix is the key prefix of processed markers.
	MarkerPrefix string
	// Binding is where deletion events are published.
	Binding bus.Binding
}

// Summary counts the outcomes of one sweep.
type Summary struct {
	// Removed is the number of markers deleted.
	Removed int
	// Deleted is the number of deletion events confirmed by the bus.
	Deleted int
	// Malformed markers were skipped and left in place.
	Malformed int
	// Inconclusive keys could not be checked against the store.
	Inconclusive int
	// Retained keys kept their markers because the deletion event was not confirmed.
	Retained int
}

// Sweeper retires documents whose source object disappeared.
type Sweeper struct {
	client    storage.Client
	publisher bus.Publisher
	cfg       Config
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewSweeper creates a Sweeper. m may be nil.
func NewSweeper(client storage.Client, publisher bus.Publisher, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		client:    client,
		publisher: publisher,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
	}
}

// group collects the markers of one document key.
type group struct {
	key    string
	latest minio.ObjectInfo
	// version of latest.
	version string
}

// Run performs one sweep. A marker listing failure is returned, and so is an existence
// check failure the fault policy says must stop the sweep.
func (s *Sweeper) Run(ctx context.Context) (Summary, error) {
	return s.RunWithLogger(ctx, s.logger)
}

// RunWithLogger is Run with a cycle-scoped logger.
func (s *Sweeper) RunWithLogger(ctx context.Context, log *zap.Logger) (Summary, error) {
	var sum Summary

	groups, err := s.collect(ctx, log, &sum)
	if err != nil {
		return sum, err
	}

	for _, g := range groups {
		if ctx.Err() != nil {
			break
		}
		if err := s.resolve(context.WithoutCancel(ctx), g, log.With(zap.String("key", g.key)), &sum); err != nil {
			return sum, err
		}
	}

	if sum.Removed > 0 {
		log.Info("Deletion sweep finished",
			zap.String("bucket", s.cfg.Bucket),
			zap.Int("deleted", sum.Deleted),
			zap.Int("markers_removed", sum.Removed),
			zap.Int("retained", sum.Retained),
			zap.Int("inconclusive", sum.Inconclusive),
		)
	}

	if err := ctx.Err(); err != nil {
		return sum, fault.New(fault.Fatal, "sweep", "", err)
	}
	return sum, nil
}

// collect lists every marker once and keeps, per key, the one modified last.
// Keys are returned in the order they were first listed.
func (s *Sweeper) collect(ctx context.Context, log *zap.Logger, sum *Summary) ([]*group, error) {
	var order []*group
	byKey := make(map[string]*group)

	opts := minio.ListObjectsOptions{Prefix: marker.Root(s.cfg.MarkerPrefix), Recursive: true}
	for obj := range s.client.ListObjects(ctx, s.cfg.Bucket, opts) {
		if obj.Err != nil {
			return nil, fault.New(fault.Fatal, "list markers", s.cfg.Bucket, obj.Err)
		}

		key, version, err := marker.Decode(s.cfg.MarkerPrefix, obj.Key)
		if err != nil {
			log.Warn("Skipping malformed marker", zap.String("marker", obj.Key))
			sum.Malformed++
			continue
		}

		g, ok := byKey[key]
		if !ok {
			g = &group{key: key}
			byKey[key] = g
			order = append(order, g)
		}
		if !ok || !obj.LastModified.Before(g.latest.LastModified) {
			g.latest = obj
			g.version = version
		}
	}
	return order, nil
}

// resolve checks one key against the store and retires it when the source is gone.
func (s *Sweeper) resolve(ctx context.Context, g *group, log *zap.Logger, sum *Summary) error {
	gone, source, err := s.sourceGone(ctx, g)
	if err != nil {
		kind := fault.Classify(err)
		if fault.ActionFor(kind) == fault.ActionPropagate {
			log.Error("Existence check failed, stopping sweep", zap.String("kind", string(kind)), zap.Error(err))
			return err
		}
		log.Warn("Existence check inconclusive, keeping markers", zap.String("kind", string(kind)), zap.Error(err))
		sum.Inconclusive++
		return nil
	}
	if !gone {
		return nil
	}

	if err := s.publish(ctx, g, source); err != nil {
		log.Error("Deletion event not confirmed, keeping markers", zap.String("etag", g.version), zap.Error(err))
		sum.Retained++
		return nil
	}
	sum.Deleted++
	s.metrics.Published(events.TypeDeletion)

	removed, err := s.removeMarkers(ctx, g.key)
	sum.Removed += removed
	s.metrics.MarkersRemoved(removed)
	if err != nil {
		log.Warn("Some markers could not be removed", zap.Int("removed", removed), zap.Error(err))
		return nil
	}
	log.Info("Document retired", zap.String("source", source), zap.String("etag", g.version), zap.Int("markers_removed", removed))
	return nil
}

// sourceGone reports whether the document behind g is absent from the store and the
// key it was stored under. Markers carry the normalized key, so when nothing exists
// under it the original key recorded on the latest marker is checked as well.
func (s *Sweeper) sourceGone(ctx context.Context, g *group) (bool, string, error) {
	exists, err := s.exists(ctx, g.key)
	if err != nil || exists {
		return false, g.key, err
	}

	info, err := s.client.StatObject(ctx, s.cfg.Bucket, g.latest.Key, minio.StatObjectOptions{})
	if err != nil {
		// A marker that vanished since listing tells nothing about the original key.
		return false, g.key, tag(fault.Ambiguous, "stat marker", g.latest.Key, err)
	}
	orig, ok := storage.UserMetadata(info, "source")
	if !ok || orig == g.key || marker.Normalize(orig) != g.key {
		return true, g.key, nil
	}

	exists, err = s.exists(ctx, orig)
	if err != nil || exists {
		return false, orig, err
	}
	return true, orig, nil
}

// exists stats key. Only an object-level not-found answers no.
func (s *Sweeper) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.cfg.Bucket, key, minio.StatObjectOptions{})
	switch {
	case err == nil:
		return true, nil
	case storage.IsNotFound(err):
		return false, nil
	default:
		return false, tag(fault.Ambiguous, "stat", key, err)
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

func (s *Sweeper) publish(ctx context.Context, g *group, source string) error {
	ev := events.NewDeletion(events.Source{
		Bucket: s.cfg.Bucket,
		Object: source,
		ETag:   g.version,
	})
	body, err := events.Encode(ev)
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, bus.Message{
		Exchange:    s.cfg.Binding.Exchange,
		RoutingKey:  s.cfg.Binding.RoutingKey,
		MessageID:   ev.MessageID(),
		DedupeID:    events.DedupeID(ev.Source, ev.MessageID(), g.latest.LastModified),
		ContentType: "application/json",
		Body:        body,
	})
}

// removeMarkers deletes every marker of key. The listing prefix also matches keys
// that merely extend key with a dot, so each marker is decoded and compared.
func (s *Sweeper) removeMarkers(ctx context.Context, key string) (int, error) {
	var targets []minio.ObjectInfo
	opts := minio.ListObjectsOptions{Prefix: marker.KeyPrefix(s.cfg.MarkerPrefix, key), Recursive: true}
	for obj := range s.client.ListObjects(ctx, s.cfg.Bucket, opts) {
		if obj.Err != nil {
			return 0, fault.New(fault.Transient, "list markers", key, obj.Err)
		}
		if k, _, err := marker.Decode(s.cfg.MarkerPrefix, obj.Key); err == nil && k == key {
			targets = append(targets, obj)
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}

	objCh := make(chan minio.ObjectInfo, len(targets))
	for _, t := range targets {
		objCh <- t
	}
	close(objCh)

	var errs []error
	for rerr := range s.client.RemoveObjects(ctx, s.cfg.Bucket, objCh, minio.RemoveObjectsOptions{}) {
		errs = append(errs, fault.New(fault.Transient, "remove marker", rerr.ObjectName, rerr.Err))
	}
	return len(targets) - len(errs), errors.Join(errs...)
}
