package reconcile

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewSchedule returns the schedule for watch mode: expr when set (standard five
// field cron or a descriptor such as "@every 1m"), otherwise a fixed interval.
func NewSchedule(expr string, interval time.Duration) (cron.Schedule, error) {
	if expr != "" {
		schedule, err := parser.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
		}
		return schedule, nil
	}
	if interval < time.Second {
		return nil, fmt.Errorf("poll interval must be at least 1s, got %s", interval)
	}
	return cron.Every(interval), nil
}
