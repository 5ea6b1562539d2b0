// Package ingest implements the ingest side of document reconciliation.
//
// A pass lists the bucket and, for every object version without a processed
// marker, fetches the object, extracts its content and publishes an ingest event.
// The marker is written only after the bus confirmed the event, so a crash between
// the two re-announces the version on the next pass instead of losing it.
//
// Failed steps are settled by the fault policy. Permanent failures, and transient
// ones whose retries are spent, are appended to the failure log and skipped. An
// inconclusive marker check leaves the object for the next pass. The pass itself
// fails when the bucket cannot be listed or a step reports a fatal error.
package ingest
