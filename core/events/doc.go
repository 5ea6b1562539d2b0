// Package events defines the wire envelopes published to the message bus.
//
// Ingest:
//
//	{"schema":1,"event":"ingest","source":{"bucket":"...","object":"...","etag":"..."},
//	 "metadata":{...},"text":"..."}
//
// Deletion:
//
//	{"schema":1,"event":"deletion","source":{"bucket":"...","object":"...","etag":"..."}}
//
// Consumers must be idempotent per (object, etag): the reconciler may re-announce a version
// after a crash between publish confirmation and marker write.
package events
