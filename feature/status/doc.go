// Package status exposes the reconciler's state over HTTP.
//
// # HTTP Endpoints
//
//   - GET /health : Liveness and bus connection state.
//   - GET /status : Report of the last finished cycle.
//   - GET /status/history?limit=20 : Recent cycles from the history store.
//   - GET /metrics : Prometheus metrics.
package status
