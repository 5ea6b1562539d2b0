package reconcile

import (
	"time"

	"doc-reconciler/core/history"
)

// IngestReport counts the outcomes of one ingest pass.
type IngestReport struct {
	Candidates int `json:"candidates"`
	Processed  int `json:"processed"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	Untouched  int `json:"untouched"`
}

// SweepReport counts the outcomes of one deletion sweep.
type SweepReport struct {
	Removed      int `json:"removed"`
	Deleted      int `json:"deleted"`
	Malformed    int `json:"malformed"`
	Inconclusive int `json:"inconclusive"`
	Retained     int `json:"retained"`
}

// Report describes one cycle.
type Report struct {
	RunID      string       `json:"run_id"`
	Mode       string       `json:"mode"`
	Bucket     string       `json:"bucket"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Ingest     IngestReport `json:"ingest"`
	Sweep      SweepReport  `json:"sweep"`
	Error      string       `json:"error,omitempty"`
}

// Duration returns how long the cycle took.
func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// CycleRun converts the report to its history row.
func (r Report) CycleRun() *history.CycleRun {
	return &history.CycleRun{
		RunID:          r.RunID,
		Mode:           r.Mode,
		Bucket:         r.Bucket,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		Candidates:     r.Ingest.Candidates,
		Processed:      r.Ingest.Processed,
		Skipped:        r.Ingest.Skipped,
		Failed:         r.Ingest.Failed,
		Untouched:      r.Ingest.Untouched,
		DeletionEvents: r.Sweep.Deleted,
		MarkersRemoved: r.Sweep.Removed,
		Error:          r.Error,
	}
}
