package extract

import "time"

// Config holds configuration for content extraction.
type Config struct {
	// Command is an external extractor binary. Empty selects the built-in text extractor.
	Command string `mapstructure:"command" default:""`
	// Args are passed before the document path.
	Args []string `mapstructure:"args"`
	// TimeoutSeconds bounds one extractor run.
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"300"`
}

func (c Config) timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
