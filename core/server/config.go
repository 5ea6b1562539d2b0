package server

import "fmt"

// Config holds configuration for the status HTTP server.
type Config struct {
	// Enabled starts the status server alongside the reconciler.
	Enabled bool `mapstructure:"enabled" default:"false"`
	// Port is the port where the server will listen.
	Port string `mapstructure:"port" default:"8080"`
	// ApiKey is the secret key required to access the status endpoints.
	ApiKey string `mapstructure:"api_key" default:""`
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return ":" + c.Port
}

// Validate checks the configuration before the server is started.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Port == "" {
		return fmt.Errorf("server port is required")
	}
	return nil
}
