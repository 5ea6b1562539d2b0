package deletion_test

import (
	"context"
	"testing"
	"time"

	"doc-reconciler/core/bus"
	"doc-reconciler/core/bus/bustest"
	"doc-reconciler/core/events"
	"doc-reconciler/core/extract"
	"doc-reconciler/core/failurelog"
	"doc-reconciler/core/marker"
	"doc-reconciler/core/retry"
	"doc-reconciler/core/storage/storagetest"
	"doc-reconciler/feature/deletion"
	"doc-reconciler/feature/ingest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestDocumentLifecycle follows one document from upload through two versions to
// deletion.
func TestDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New("documents")
	rec := bustest.New()
	failures := &failurelog.Memory{}

	ing := ingest.NewReconciler(store, rec, extract.Text{}, ingest.Config{
		Bucket:       "documents",
		MarkerPrefix: ".processed",
		Binding:      bus.Binding{Exchange: "events", RoutingKey: "text"},
		TempDir:      t.TempDir(),
		Fetch:        retry.Policy{Attempts: 2, Base: time.Millisecond},
	}, nil, zap.NewNop())
	sweep := deletion.NewSweeper(store, rec, deletion.Config{
		Bucket:       "documents",
		MarkerPrefix: ".processed",
		Binding:      bus.Binding{Exchange: "events", RoutingKey: "deletions"},
	}, nil, zap.NewNop())

	cycle := func() (ingest.Summary, deletion.Summary) {
		t.Helper()
		is, err := ing.Run(ctx, failures)
		require.NoError(t, err)
		ds, err := sweep.Run(ctx)
		require.NoError(t, err)
		return is, ds
	}

	v1 := store.Put("documents", "papers/x.txt", []byte("draft"))
	is, ds := cycle()
	assert.Equal(t, 1, is.Processed)
	assert.Zero(t, ds.Removed)

	v2 := store.Put("documents", "papers/x.txt", []byte("final"))
	is, _ = cycle()
	assert.Equal(t, 1, is.Processed)
	assert.ElementsMatch(t, []string{
		marker.Encode(".processed", "papers/x.txt", v1),
		marker.Encode(".processed", "papers/x.txt", v2),
	}, sortedMarkers(store))

	is, ds = cycle()
	assert.Zero(t, is.Processed)
	assert.Zero(t, ds.Removed)

	store.Delete("documents", "papers/x.txt")
	is, ds = cycle()
	assert.Zero(t, is.Candidates)
	assert.Equal(t, 2, ds.Removed)
	assert.Equal(t, 1, ds.Deleted)
	assert.Empty(t, sortedMarkers(store))

	dels := rec.RoutedTo("deletions")
	require.Len(t, dels, 1)
	var ev events.DeletionEvent
	require.NoError(t, bustest.Decode(dels[0], &ev))
	assert.Equal(t, v2, ev.Source.ETag)

	_, ds = cycle()
	assert.Equal(t, deletion.Summary{}, ds)
	assert.Len(t, rec.RoutedTo("text"), 2)
	assert.Empty(t, failures.Keys())
}

// TestBackslashKeyLifecycle keeps a document whose key uses backslashes stable across
// cycles, then retires it under the key it was uploaded with.
func TestBackslashKeyLifecycle(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New("documents")
	rec := bustest.New()
	failures := &failurelog.Memory{}

	ing := ingest.NewReconciler(store, rec, extract.Text{}, ingest.Config{
		Bucket:       "documents",
		MarkerPrefix: ".processed",
		Binding:      bus.Binding{Exchange: "events", RoutingKey: "text"},
		TempDir:      t.TempDir(),
		Fetch:        retry.Policy{Attempts: 2, Base: time.Millisecond},
	}, nil, zap.NewNop())
	sweep := deletion.NewSweeper(store, rec, deletion.Config{
		Bucket:       "documents",
		MarkerPrefix: ".processed",
		Binding:      bus.Binding{Exchange: "events", RoutingKey: "deletions"},
	}, nil, zap.NewNop())

	const key = `dir\file.txt`
	etag := store.Put("documents", key, []byte("content"))

	for i := 0; i < 3; i++ {
		_, err := ing.Run(ctx, failures)
		require.NoError(t, err)
		ds, err := sweep.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, deletion.Summary{}, ds, "cycle %d", i)
	}
	assert.Len(t, rec.RoutedTo("text"), 1)
	assert.Empty(t, rec.RoutedTo("deletions"))
	assert.Equal(t, []string{marker.Encode(".processed", key, etag)}, sortedMarkers(store))

	store.Delete("documents", key)
	ds, err := sweep.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, deletion.Summary{Removed: 1, Deleted: 1}, ds)

	dels := rec.RoutedTo("deletions")
	require.Len(t, dels, 1)
	var ev events.DeletionEvent
	require.NoError(t, bustest.Decode(dels[0], &ev))
	assert.Equal(t, events.Source{Bucket: "documents", Object: key, ETag: etag}, ev.Source)
	assert.Empty(t, sortedMarkers(store))
	assert.Empty(t, failures.Keys())
}

func sortedMarkers(store *storagetest.Store) []string {
	return store.Keys("documents", ".processed/")
}
