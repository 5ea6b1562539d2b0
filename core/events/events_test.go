package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngest_WireShape(t *testing.T) {
	ev := NewIngest(Source{Bucket: "docs", Object: "a/b.pdf", ETag: "e1"}, map[string]any{"title": "B"}, "hello")

	body, err := Encode(ev)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, float64(1), got["schema"])
	assert.Equal(t, "ingest", got["event"])
	assert.Equal(t, map[string]any{"bucket": "docs", "object": "a/b.pdf", "etag": "e1"}, got["source"])
	assert.Equal(t, map[string]any{"title": "B"}, got["metadata"])
	assert.Equal(t, "hello", got["text"])
	assert.Equal(t, "e1", ev.MessageID())
}

func TestIngest_NilMetadataIsObject(t *testing.T) {
	body, err := Encode(NewIngest(Source{ETag: "e"}, nil, ""))
	require.NoError(t, err)
	assert.Contains(t, string(body), `"metadata":{}`)
}

func TestDeletion_WireShape(t *testing.T) {
	ev := NewDeletion(Source{Bucket: "docs", Object: "doc1", ETag: "etag1"})

	body, err := Encode(ev)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "deletion", got["event"])
	assert.NotContains(t, got, "text")
	assert.NotContains(t, got, "metadata")
	assert.Equal(t, "del-etag1", ev.MessageID())
}

func TestDedupeID(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	a := Source{Bucket: "docs", Object: "a.txt", ETag: "e1"}
	b := Source{Bucket: "docs", Object: "copy.txt", ETag: "e1"}

	assert.Equal(t, "docs/a.txt:e1", DedupeID(a, "e1", time.Time{}))
	assert.Equal(t, "docs/a.txt:e1@"+"1767323045000000006", DedupeID(a, "e1", at))
	assert.NotEqual(t, DedupeID(a, "e1", at), DedupeID(b, "e1", at))
	assert.NotEqual(t, DedupeID(a, "e1", at), DedupeID(a, "e1", at.Add(time.Second)))
	assert.Equal(t, DedupeID(a, "del-e1", at), DedupeID(a, "del-e1", at))
}
