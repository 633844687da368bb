// Package logging provides structured logging for scalesync.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the sync pipeline.
//
// # Features
//
//   - JSON output for unattended (scheduled) runs
//   - Text output for interactive runs
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use, including from scale callbacks
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("scale sync starting", "scales", 3)
//	logger.Error("error adding scale", "address", addr, "error", err)
//
// # Security
//
// Never log POS passwords or bearer tokens.
package logging
