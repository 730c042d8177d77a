// Package middleware provides HTTP middleware for the feed server:
// Prometheus request metrics and OpenTelemetry request tracing.
package middleware
