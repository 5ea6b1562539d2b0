package status

import (
	"context"
	"strconv"

	"doc-reconciler/core/history"
	"doc-reconciler/core/reconcile"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ReportSource exposes the last finished cycle.
type ReportSource interface {
	Last() (reconcile.Report, bool)
}

// Service answers status queries.
type Service struct {
	reports  ReportSource
	history  history.Recorder
	busState func() string
	logger   *zap.Logger
	sf       singleflight.Group
}

// NewService creates a status service. hist and busState may be nil.
func NewService(reports ReportSource, hist history.Recorder, busState func() string, logger *zap.Logger) *Service {
	return &Service{
		reports:  reports,
		history:  hist,
		busState: busState,
		logger:   logger,
	}
}

// Health describes process liveness.
type Health struct {
	Status string `json:"status"`
	Bus    string `json:"bus,omitempty"`
}

// Health returns the current health.
func (s *Service) Health() Health {
	h := Health{Status: "ok"}
	if s.busState != nil {
		h.Bus = s.busState()
	}
	return h
}

// Last returns the report of the most recent cycle.
func (s *Service) Last() (reconcile.Report, bool) {
	return s.reports.Last()
}

// HistoryEnabled reports whether cycle history is persisted.
func (s *Service) HistoryEnabled() bool {
	return s.history != nil
}

// History returns up to limit recent cycles. Concurrent identical queries share
// one database round trip.
func (s *Service) History(ctx context.Context, limit int) ([]history.CycleRun, error) {
	v, err, _ := s.sf.Do(strconv.Itoa(limit), func() (any, error) {
		return s.history.Recent(ctx, limit)
	})
	if err != nil {
		return nil, err
	}
	return v.([]history.CycleRun), nil
}
