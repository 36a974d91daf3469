// Package logging provides structured logging for the Nuki bridge service.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same fields and format.
//
// # Features
//
//   - JSON output for production, text output for development
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8090)
//	logger.Component("reconciler").Warn("error updating nuki lock", "error", err)
//
// # Security
//
// Never log the bridge token, the JWT secret or MQTT passwords. The bridge
// client strips the token from URLs before they reach any log entry.
package logging
