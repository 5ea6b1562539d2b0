package reconcile

import "time"

// Config holds configuration for the reconciliation loop and its stages.
type Config struct {
	// MarkerPrefix is the key prefix holding processed markers.
	MarkerPrefix string `mapstructure:"marker_prefix" default:".processed"`
	// PollIntervalSeconds is the pause between watch cycles.
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds" default:"30"`
	// Schedule, if set, is a cron expression used instead of the poll interval.
	Schedule string `mapstructure:"schedule" default:""`
	// Watch keeps the loop running until interrupted.
	Watch bool `mapstructure:"watch" default:"false"`
	// FailedLog is the file keys that could not be processed are appended to.
	FailedLog string `mapstructure:"failed_log" default:"failed_objects.txt"`
	// RetryFile, if set, restricts ingest to the keys listed in it.
	RetryFile string `mapstructure:"retry_file" default:""`
	// Workers is the number of objects processed concurrently during ingest.
	Workers int `mapstructure:"workers" default:"1"`
	// TempDir holds fetched objects during extraction. Empty uses the OS default.
	TempDir string `mapstructure:"temp_dir" default:""`
}

// PollInterval returns the watch interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}
