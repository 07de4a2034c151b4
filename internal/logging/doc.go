// Package logging builds the slog loggers used by the chat binaries.
//
// The text format is a compact colorized line per record:
//
//	15:04:05 INF server listening component=devserver addr=127.0.0.1:8090
//
// The json format uses slog's JSON handler unchanged.
package logging
