// Package reconcile drives the reconciliation cycle: an ingest pass that announces
// new or changed documents, followed by a deletion sweep that retires documents
// which disappeared from the bucket.
//
// RunOnce performs a single cycle and returns its error. Watch repeats cycles on a
// cron schedule until the context is cancelled; a failing or panicking cycle is
// logged and the next one still runs.
//
// Each cycle gets a run id attached to its logger. The resulting Report is kept
// for the status endpoint, exported as metrics and, when a history store is
// configured, persisted as a CycleRun.
package reconcile
