// Package server holds the status HTTP server configuration.
//
// The status server is optional. When enabled it exposes health, the last cycle
// report, cycle history and Prometheus metrics, protected by the API key.
package server
