// Package deletion implements the deletion sweep of document reconciliation.
//
// The sweep reads the processed markers, and for every document key whose source
// object no longer exists it publishes one deletion event carrying the version of
// the most recently written marker. Only after the bus confirmed the event are the
// key's markers removed; an unconfirmed event keeps them so the next sweep retries.
//
// Markers carry the normalized key. When nothing exists under it, the key recorded
// in the latest marker's metadata is checked as well and named in the event.
//
// Markers are matched by listing prefix and by decoded key, so retiring "a/b" never
// touches the markers of "a/bb" or "a/b.v2".
package deletion
