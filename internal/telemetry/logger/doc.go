// Package logger provides structured logging for RollMesh.
//
// It wraps the standard library log/slog:
//
//   - logger.go: Logger interface, JSON/text handlers and a global level
//     that can be changed at runtime
//   - context.go: Context-aware logging with match and peer IDs
//   - redact.go: Sensitive data redaction
//
// Session internals log network anomalies at debug level only; desyncs,
// disconnects and aborts are logged at warn or error.
package logger
