// Package middleware contains HTTP middleware for the status server.
//
//   - auth: API key validation for the status endpoints.
//   - rayid: a unique ray id per request, stored in the context and echoed in the
//     response headers for tracing.
package middleware
