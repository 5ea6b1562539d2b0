package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// SchemaVersion is the envelope version carried in every event.
const SchemaVersion = 1

// Event types.
const (
	TypeIngest   = "ingest"
	TypeDeletion = "deletion"
)

// DeletionIDPrefix distinguishes deletion message ids from ingest ids for the same version.
const DeletionIDPrefix = "del-"

// Source identifies one version of one stored object.
type Source struct {
	// Bucket is the object store bucket.
	Bucket string `json:"bucket"`
	// Object is the object key.
	Object string `json:"object"`
	// ETag is the content version of the object.
	ETag string `json:"etag"`
}

// IngestEvent announces that a document version is available.
type IngestEvent struct {
	Schema   int            `json:"schema"`
	Event    string         `json:"event"`
	Source   Source         `json:"source"`
	Metadata map[string]any `json:"metadata"`
	Text     string         `json:"text"`
}

// DeletionEvent announces that a document no longer exists in the store.
type DeletionEvent struct {
	Schema int    `json:"schema"`
	Event  string `json:"event"`
	Source Source `json:"source"`
}

// NewIngest builds an ingest envelope. A nil metadata map is sent as an empty object.
func NewIngest(src Source, metadata map[string]any, text string) IngestEvent {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return IngestEvent{
		Schema:   SchemaVersion,
		Event:    TypeIngest,
		Source:   src,
		Metadata: metadata,
		Text:     text,
	}
}

// NewDeletion builds a deletion envelope.
func NewDeletion(src Source) DeletionEvent {
	return DeletionEvent{
		Schema: SchemaVersion,
		Event:  TypeDeletion,
		Source: src,
	}
}

// MessageID is the bus message id for the event: the content version.
func (e IngestEvent) MessageID() string {
	return e.Source.ETag
}

// MessageID is the bus message id for the event: "del-" plus the content version.
func (e DeletionEvent) MessageID() string {
	return DeletionIDPrefix + e.Source.ETag
}

// DedupeID builds the broker deduplication id for one announcement:
// "<bucket>/<object>:<message id>", followed by "@<unix nanos>" of written when it is
// set. The object key keeps identical copies apart. The write time keeps a re-upload or
// a re-deletion of the same bytes apart from the earlier announcement, while a retry of
// the same announcement reuses the id.
func DedupeID(src Source, messageID string, written time.Time) string {
	id := src.Bucket + "/" + src.Object + ":" + messageID
	if !written.IsZero() {
		id += "@" + strconv.FormatInt(written.UnixNano(), 10)
	}
	return id
}

// Encode marshals an event to its JSON wire form.
func Encode(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return body, nil
}
