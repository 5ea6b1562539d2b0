package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"doc-reconciler/core/bus"
	"doc-reconciler/core/bus/bustest"
	"doc-reconciler/core/events"
	"doc-reconciler/core/extract"
	"doc-reconciler/core/failurelog"
	"doc-reconciler/core/fault"
	"doc-reconciler/core/marker"
	"doc-reconciler/core/retry"
	"doc-reconciler/core/storage/storagetest"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	bucket = "documents"
	prefix = ".processed"
)

var fastRetry = retry.Policy{Attempts: 4, Base: time.Millisecond, Max: 2 * time.Millisecond}

var slowDown = minio.ErrorResponse{Code: "SlowDown", StatusCode: http.StatusServiceUnavailable}

type fixture struct {
	store    *storagetest.Store
	bus      *bustest.Recorder
	failures *failurelog.Memory
	cfg      Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		store:    storagetest.New(bucket),
		bus:      bustest.New(),
		failures: &failurelog.Memory{},
		cfg: Config{
			Bucket:       bucket,
			MarkerPrefix: prefix,
			Binding:      bus.Binding{Exchange: "events", RoutingKey: "text"},
			TempDir:      t.TempDir(),
			Fetch:        fastRetry,
		},
	}
}

func (f *fixture) run(t *testing.T) Summary {
	t.Helper()
	sum, err := NewReconciler(f.store, f.bus, extract.Text{}, f.cfg, nil, zap.NewNop()).Run(context.Background(), f.failures)
	require.NoError(t, err)
	return sum
}

func TestRun_Idempotent(t *testing.T) {
	f := newFixture(t)
	etagA := f.store.Put(bucket, "a.txt", []byte("alpha"))
	etagB := f.store.Put(bucket, "papers/b.txt", []byte("beta"))

	sum := f.run(t)
	assert.Equal(t, Summary{Candidates: 2, Processed: 2}, sum)
	assert.True(t, f.store.Has(bucket, marker.Encode(prefix, "a.txt", etagA)))
	assert.True(t, f.store.Has(bucket, marker.Encode(prefix, "papers/b.txt", etagB)))
	assert.Len(t, f.bus.Messages(), 2)

	sum = f.run(t)
	assert.Equal(t, Summary{Candidates: 2, Skipped: 2}, sum)
	assert.Len(t, f.bus.Messages(), 2, "no re-announcement of marked versions")
	assert.Empty(t, f.failures.Keys())
}

func TestRun_VersionChange(t *testing.T) {
	f := newFixture(t)
	v1 := f.store.Put(bucket, "a.txt", []byte("first"))
	f.run(t)

	v2 := f.store.Put(bucket, "a.txt", []byte("second"))
	require.NotEqual(t, v1, v2)

	sum := f.run(t)
	assert.Equal(t, 1, sum.Processed)

	msgs := f.bus.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, v2, msgs[1].MessageID)
	assert.True(t, f.store.Has(bucket, marker.Encode(prefix, "a.txt", v1)))
	assert.True(t, f.store.Has(bucket, marker.Encode(prefix, "a.txt", v2)))
}

func TestRun_EventContent(t *testing.T) {
	f := newFixture(t)
	etag := f.store.Put(bucket, "notes/intro.txt", []byte("hello"))
	f.run(t)

	msgs := f.bus.Messages()
	require.Len(t, msgs, 1)
	msg := msgs[0]
	assert.Equal(t, "events", msg.Exchange)
	assert.Equal(t, "text", msg.RoutingKey)
	assert.Equal(t, etag, msg.MessageID)
	assert.Equal(t, "application/json", msg.ContentType)

	var ev events.IngestEvent
	require.NoError(t, bustest.Decode(msg, &ev))
	assert.Equal(t, events.SchemaVersion, ev.Schema)
	assert.Equal(t, events.TypeIngest, ev.Event)
	assert.Equal(t, events.Source{Bucket: bucket, Object: "notes/intro.txt", ETag: etag}, ev.Source)
	assert.Equal(t, "hello", ev.Text)
	assert.Equal(t, "intro", ev.Metadata["title"])

	meta := f.store.Metadata(bucket, marker.Encode(prefix, "notes/intro.txt", etag))
	assert.Equal(t, map[string]string{"source": "notes/intro.txt", "etag": etag}, meta)
}

func TestRun_ExcludesMarkersAndFolders(t *testing.T) {
	f := newFixture(t)
	f.store.Put(bucket, "folder/", nil)
	f.store.Put(bucket, prefix+"/stray.txt.abc.done", nil)
	f.store.Put(bucket, "doc.txt", []byte("x"))

	sum := f.run(t)
	assert.Equal(t, 1, sum.Candidates)
	assert.Equal(t, 1, sum.Processed)
}

func TestRun_BackslashKey(t *testing.T) {
	f := newFixture(t)
	etag := f.store.Put(bucket, `dir\file.txt`, []byte("x"))

	f.run(t)
	assert.True(t, f.store.Has(bucket, prefix+"/dir/file.txt."+etag+".done"))

	sum := f.run(t)
	assert.Equal(t, 1, sum.Skipped)
}

func TestRun_PublishFailureWithholdsMarker(t *testing.T) {
	f := newFixture(t)
	etag := f.store.Put(bucket, "a.txt", []byte("alpha"))
	f.bus.FailOn(etag, fmt.Errorf("%w: a.txt", bus.ErrNacked))

	sum := f.run(t)
	assert.Equal(t, 1, sum.Failed)
	assert.Zero(t, sum.Processed)
	assert.False(t, f.store.Has(bucket, marker.Encode(prefix, "a.txt", etag)))
	assert.Equal(t, []string{"a.txt"}, f.failures.Keys())

	f.bus.FailOn(etag, nil)
	sum = f.run(t)
	assert.Equal(t, 1, sum.Processed)
	assert.True(t, f.store.Has(bucket, marker.Encode(prefix, "a.txt", etag)))
}

func TestRun_MarkerWriteFailure(t *testing.T) {
	f := newFixture(t)
	etag := f.store.Put(bucket, "a.txt", []byte("alpha"))
	markerPath := marker.Encode(prefix, "a.txt", etag)
	f.store.FailOn(storagetest.OpPut, markerPath, slowDown)

	sum := f.run(t)
	assert.Equal(t, 1, sum.Processed)
	assert.Len(t, f.bus.Messages(), 1)
	assert.False(t, f.store.Has(bucket, markerPath))
	assert.Empty(t, f.failures.Keys())

	// The object is announced again on the next pass.
	f.store.FailOn(storagetest.OpPut, markerPath, nil)
	sum = f.run(t)
	assert.Equal(t, 1, sum.Processed)
	assert.Len(t, f.bus.Messages(), 2)
}

func TestRun_InconclusiveMarkerCheck(t *testing.T) {
	f := newFixture(t)
	etag := f.store.Put(bucket, "a.txt", []byte("alpha"))
	f.store.FailOn(storagetest.OpStat, marker.Encode(prefix, "a.txt", etag), slowDown)

	sum := f.run(t)
	assert.Equal(t, Summary{Candidates: 1, Untouched: 1}, sum)
	assert.Empty(t, f.bus.Messages())
	assert.Empty(t, f.failures.Keys())
	assert.Zero(t, f.store.Calls(storagetest.OpFGet))
}

func TestRun_MissingBucketDuringMarkerCheck(t *testing.T) {
	f := newFixture(t)
	etag := f.store.Put(bucket, "a.txt", []byte("alpha"))
	f.store.FailOn(storagetest.OpStat, marker.Encode(prefix, "a.txt", etag), minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: http.StatusNotFound})

	sum := f.run(t)
	assert.Equal(t, Summary{Candidates: 1, Untouched: 1}, sum)
	assert.Empty(t, f.bus.Messages())
	assert.Zero(t, f.store.Calls(storagetest.OpFGet))
}

func TestRun_SameContentUnderTwoKeys(t *testing.T) {
	f := newFixture(t)
	etagA := f.store.Put(bucket, "a.txt", []byte("same"))
	etagB := f.store.Put(bucket, "copy-of-a.txt", []byte("same"))
	require.Equal(t, etagA, etagB)

	sum := f.run(t)
	assert.Equal(t, Summary{Candidates: 2, Processed: 2}, sum)

	msgs := f.bus.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, msgs[0].MessageID, msgs[1].MessageID)
	assert.NotEqual(t, msgs[0].BrokerID(), msgs[1].BrokerID())
	for _, msg := range msgs {
		assert.Contains(t, msg.DedupeID, bucket+"/")
		assert.Contains(t, msg.DedupeID, ":"+etagA+"@")
	}
	assert.True(t, f.store.Has(bucket, marker.Encode(prefix, "a.txt", etagA)))
	assert.True(t, f.store.Has(bucket, marker.Encode(prefix, "copy-of-a.txt", etagB)))
}

func TestRun_ReuploadGetsNewBrokerID(t *testing.T) {
	f := newFixture(t)
	f.store.Put(bucket, "a.txt", []byte("same"))
	f.run(t)

	// Removing the marker stands in for a delete and re-upload of identical bytes.
	f.store.Delete(bucket, marker.Encode(prefix, "a.txt", f.bus.Messages()[0].MessageID))
	f.store.Put(bucket, "a.txt", []byte("same"))
	f.run(t)

	msgs := f.bus.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, msgs[0].MessageID, msgs[1].MessageID)
	assert.NotEqual(t, msgs[0].DedupeID, msgs[1].DedupeID)
}

func TestRun_FatalErrorStopsPass(t *testing.T) {
	f := newFixture(t)
	f.store.Put(bucket, "a.txt", []byte("alpha"))
	f.store.Put(bucket, "b.txt", []byte("beta"))

	broken := errors.New("extractor unavailable")
	ex := extract.Func(func(ctx context.Context, doc extract.Document) (extract.Result, error) {
		return extract.Result{}, fault.New(fault.Fatal, "extract", doc.Key, broken)
	})

	sum, err := NewReconciler(f.store, f.bus, ex, f.cfg, nil, zap.NewNop()).Run(context.Background(), f.failures)
	require.Error(t, err)
	assert.ErrorIs(t, err, broken)
	assert.True(t, fault.Is(err, fault.Fatal))
	assert.Equal(t, Summary{Candidates: 2, Untouched: 1}, sum)
	assert.Empty(t, f.bus.Messages())
	assert.Empty(t, f.failures.Keys(), "a stopped pass records nothing")
}

func TestRun_AmbiguousExtractionLeavesObject(t *testing.T) {
	f := newFixture(t)
	f.store.Put(bucket, "a.txt", []byte("alpha"))
	ex := extract.Func(func(ctx context.Context, doc extract.Document) (extract.Result, error) {
		return extract.Result{}, fault.New(fault.Ambiguous, "extract", doc.Key, errors.New("worker lost"))
	})

	sum, err := NewReconciler(f.store, f.bus, ex, f.cfg, nil, zap.NewNop()).Run(context.Background(), f.failures)
	require.NoError(t, err)
	assert.Equal(t, Summary{Candidates: 1, Untouched: 1}, sum)
	assert.Empty(t, f.failures.Keys())
}

func TestRun_FetchRetry(t *testing.T) {
	t.Run("transient errors exhaust attempts", func(t *testing.T) {
		f := newFixture(t)
		f.store.Put(bucket, "a.txt", []byte("alpha"))
		f.store.FailOn(storagetest.OpFGet, "a.txt", slowDown)

		sum := f.run(t)
		assert.Equal(t, 1, sum.Failed)
		assert.Equal(t, 4, f.store.Calls(storagetest.OpFGet))
		assert.Equal(t, []string{"a.txt"}, f.failures.Keys())
		assert.Empty(t, f.bus.Messages())
	})

	t.Run("permanent error is not retried", func(t *testing.T) {
		f := newFixture(t)
		f.store.Put(bucket, "a.txt", []byte("alpha"))
		f.store.FailOn(storagetest.OpFGet, "a.txt", minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden})

		sum := f.run(t)
		assert.Equal(t, 1, sum.Failed)
		assert.Equal(t, 1, f.store.Calls(storagetest.OpFGet))
	})

	t.Run("recovers within attempts", func(t *testing.T) {
		f := newFixture(t)
		f.store.Put(bucket, "a.txt", []byte("alpha"))
		client := &flakyStore{Store: f.store, failures: 2}

		sum, err := NewReconciler(client, f.bus, extract.Text{}, f.cfg, nil, zap.NewNop()).Run(context.Background(), f.failures)
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Processed)
		assert.Equal(t, int32(3), client.calls.Load())
		assert.Empty(t, f.failures.Keys())
	})
}

// flakyStore fails the first n downloads with a transient error.
type flakyStore struct {
	*storagetest.Store
	failures int32
	calls    atomic.Int32
}

func (s *flakyStore) FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error {
	if s.calls.Add(1) <= s.failures {
		return slowDown
	}
	return s.Store.FGetObject(ctx, bucketName, objectName, filePath, opts)
}

func TestRun_ExtractionFailure(t *testing.T) {
	f := newFixture(t)
	f.store.Put(bucket, "scan.pdf", []byte{0xff, 0xfe, 0x00})
	f.store.Put(bucket, "ok.txt", []byte("fine"))

	sum := f.run(t)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, []string{"scan.pdf"}, f.failures.Keys())
	assert.Len(t, f.bus.Messages(), 1)
}

func TestRun_ListingFailure(t *testing.T) {
	f := newFixture(t)
	f.store.FailOn(storagetest.OpList, "", minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: http.StatusNotFound})

	_, err := NewReconciler(f.store, f.bus, extract.Text{}, f.cfg, nil, zap.NewNop()).Run(context.Background(), f.failures)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Fatal))
}

func TestRun_RetryMode(t *testing.T) {
	f := newFixture(t)
	f.store.Put(bucket, "a.txt", []byte("alpha"))
	f.store.Put(bucket, "b.txt", []byte("beta"))
	f.cfg.RetryKeys = []string{"a.txt", "gone.txt"}

	sum := f.run(t)
	assert.Equal(t, Summary{Candidates: 2, Processed: 1, Failed: 1}, sum)
	assert.Equal(t, []string{"gone.txt"}, f.failures.Keys())

	msgs := f.bus.Messages()
	require.Len(t, msgs, 1)
	var ev events.IngestEvent
	require.NoError(t, bustest.Decode(msgs[0], &ev))
	assert.Equal(t, "a.txt", ev.Source.Object)

	t.Run("empty list", func(t *testing.T) {
		f.cfg.RetryKeys = []string{}
		sum := f.run(t)
		assert.Equal(t, Summary{}, sum)
	})
}

func TestRun_Workers(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 25; i++ {
		f.store.Put(bucket, fmt.Sprintf("doc-%02d.txt", i), []byte(fmt.Sprintf("content %d", i)))
	}
	f.cfg.Workers = 4

	sum := f.run(t)
	assert.Equal(t, 25, sum.Processed)
	assert.Len(t, f.bus.Messages(), 25)
	assert.Len(t, f.store.Keys(bucket, prefix+"/"), 25)

	sum = f.run(t)
	assert.Equal(t, 25, sum.Skipped)
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.store.Put(bucket, "a.txt", []byte("alpha"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := NewReconciler(f.store, f.bus, extract.Text{}, f.cfg, nil, zap.NewNop()).Run(ctx, f.failures)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sum.Processed)
	assert.Empty(t, f.bus.Messages())
}

func TestRun_InFlightObjectCompletesAfterCancel(t *testing.T) {
	f := newFixture(t)
	etagA := f.store.Put(bucket, "a.txt", []byte("alpha"))
	f.store.Put(bucket, "b.txt", []byte("beta"))

	ctx, cancel := context.WithCancel(context.Background())
	ex := extract.Func(func(c context.Context, doc extract.Document) (extract.Result, error) {
		cancel()
		return extract.Text{}.Extract(c, doc)
	})

	sum, err := NewReconciler(f.store, f.bus, ex, f.cfg, nil, zap.NewNop()).Run(ctx, f.failures)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sum.Processed)
	assert.True(t, f.store.Has(bucket, marker.Encode(prefix, "a.txt", etagA)))
	assert.Len(t, f.bus.Messages(), 1)
}
