package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUnsupported is returned when an extractor cannot read the document's format.
var ErrUnsupported = errors.New("unsupported document format")

// Document is a fetched source object on local disk.
type Document struct {
	// Path is the local temp file holding the object content.
	Path string
	// Key is the object key in the bucket.
	Key string
	// ContentType as reported by the object store.
	ContentType string
	// Size in bytes.
	Size int64
}

// Result is the outcome of extraction, carried verbatim in the ingest event.
type Result struct {
	Metadata map[string]any `json:"metadata"`
	Text     string         `json:"text"`
}

// Extractor turns a fetched document into metadata and text.
type Extractor interface {
	Extract(ctx context.Context, doc Document) (Result, error)
}

// Func adapts a function to the Extractor interface.
type Func func(ctx context.Context, doc Document) (Result, error)

// Extract calls f.
func (f Func) Extract(ctx context.Context, doc Document) (Result, error) {
	return f(ctx, doc)
}

// Text reads UTF-8 documents as-is.
type Text struct{}

// Extract returns the file content as text. Binary content yields ErrUnsupported.
func (Text) Extract(ctx context.Context, doc Document) (Result, error) {
	data, err := os.ReadFile(doc.Path)
	if err != nil {
		return Result{}, err
	}
	if !utf8.Valid(data) {
		return Result{}, ErrUnsupported
	}

	name := filepath.Base(filepath.FromSlash(doc.Key))
	return Result{
		Metadata: map[string]any{
			"title":        strings.TrimSuffix(name, filepath.Ext(name)),
			"content_type": doc.ContentType,
			"size":         doc.Size,
		},
		Text: string(data),
	}, nil
}

// New returns the extractor selected by cfg: an external command when one is
// configured, otherwise Text.
func New(cfg Config) Extractor {
	if cfg.Command == "" {
		return Text{}
	}
	return &Command{Path: cfg.Command, Args: cfg.Args, Timeout: cfg.timeout()}
}
