// Package logger provides a structured logging facility based on Zap.
//
// Debug level selects zap's development configuration, every other level the
// production one. Format "console" switches to a coloured console encoder.
//
// WithRayID tags HTTP request logs with the ray id set by the rayid middleware;
// WithRun tags the logs of one reconciliation cycle with its run id.
//
// # Usage
//
//	log, _ := logger.New(&logger.Config{Level: "info"})
//	log.Info("Reconciler started")
//
//	l := logger.WithRun(log, runID)
//	l.Warn("Object failed", zap.String("key", key))
package logger
