// Package fault defines the error taxonomy shared by the ingest and deletion stages.
//
// Every failure is one of four kinds and each kind has exactly one handling rule:
//
//	Transient -> retry (bounded, see core/retry)
//	Permanent -> record the key in the failure log and move on
//	Ambiguous -> log and leave the object or key untouched
//	Fatal     -> propagate to the reconciliation loop
//
// Producers tag errors with New; consumers call Classify and ActionFor.
package fault
