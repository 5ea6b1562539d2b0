// Package history persists one row per reconciliation cycle so operators can see
// what each pass did after the fact.
package history

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Cycle modes.
const (
	ModeOnce  = "once"
	ModeWatch = "watch"
)

// CycleRun is the persisted outcome of one ingest and sweep cycle.
type CycleRun struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	RunID          string    `gorm:"size:36;uniqueIndex" json:"run_id"`
	Mode           string    `gorm:"size:16" json:"mode"`
	Bucket         string    `gorm:"size:255" json:"bucket"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `gorm:"index" json:"finished_at"`
	Candidates     int       `json:"candidates"`
	Processed      int       `json:"processed"`
	Skipped        int       `json:"skipped"`
	Failed         int       `json:"failed"`
	Untouched      int       `json:"untouched"`
	DeletionEvents int       `json:"deletion_events"`
	MarkersRemoved int       `json:"markers_removed"`
	Error          string    `gorm:"size:1024" json:"error,omitempty"`
}

// TableName overrides the table name used by GORM.
func (CycleRun) TableName() string {
	return "cycle_runs"
}

// Recorder stores and lists cycle runs.
type Recorder interface {
	Record(ctx context.Context, run *CycleRun) error
	Recent(ctx context.Context, limit int) ([]CycleRun, error)
}

// Store is the GORM-backed Recorder.
type Store struct {
	db *gorm.DB
}

// NewStore returns a Store on db. Call Migrate before first use.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the cycle_runs table.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&CycleRun{}); err != nil {
		return fmt.Errorf("failed to migrate cycle history: %w", err)
	}
	return nil
}

// Record inserts run.
func (s *Store) Record(ctx context.Context, run *CycleRun) error {
	if len(run.Error) > 1024 {
		run.Error = run.Error[:1024]
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to record cycle %s: %w", run.RunID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]CycleRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []CycleRun
	err := s.db.WithContext(ctx).
		Order("finished_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list cycle history: %w", err)
	}
	return runs, nil
}
