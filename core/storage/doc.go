// Package storage provides an abstraction layer for object storage services.
//
// It wraps the MinIO Go client behind the Client interface so the reconciler can be tested
// against core/storage/mocks (testify) or core/storage/storagetest (in-memory bucket).
// Both AWS S3 and self-hosted MinIO are supported.
//
// # Operations
//
//   - BucketExists: Verifies access to the target bucket (see EnsureBucket).
//   - ListObjects: Lists documents and processed markers (supports prefix/recursive).
//   - StatObject: Reads an object's ETag, the content version used in marker names.
//   - FGetObject: Downloads a document into a local temporary file.
//   - PutObject: Writes zero-byte markers.
//   - RemoveObjects: Deletes markers after a deletion is announced.
//
// # Errors
//
// IsNotFound reports only an object-level "no such key"; a missing bucket or an uncoded 404
// is left to the caller as inconclusive. IsTransient marks errors worth retrying (timeouts,
// resets, 5xx, throttling).
//
// # Usage
//
//	client, err := storage.NewClient(cfg.Storage)
//	if err := storage.EnsureBucket(ctx, client, cfg.Storage.Bucket); err != nil {
//	    return err
//	}
package storage
