// Package logger builds the structured slog logger shared by the proxy.
// Production emits JSON, other environments human-readable text; every record
// carries the service name and environment.
package logger
