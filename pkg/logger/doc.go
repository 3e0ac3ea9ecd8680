// Package logger provides structured logging for the gateway using log/slog.
// Log output is JSON in production and human-readable text elsewhere; every
// record carries the service name and environment as attributes.
package logger
