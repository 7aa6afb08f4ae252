// Package logging provides structured logging using uber/zap.
//
// This package offers production-ready logging with two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Log Levels:
//   - Debug: Per-syscall tracing (request/response frames, fd moves)
//   - Info: Lifecycle events (task attach, connection open, agent start)
//   - Warn: Recoverable anomalies (retried attempts, late cancellations)
//   - Error: Failed syscalls, decode errors, broken connections
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("agent started", zap.Int("control_fd", fd))
//	logger.Error("syscall failed", zap.String("op", op), zap.Error(err))
package logging
