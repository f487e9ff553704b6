// Package logging provides structured logging for the MeshCore bridge.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the bridge.
//
// # Output
//
// The bridge speaks its request/response protocol on stdout, so log lines
// always go to stderr (or nowhere). A parent process can capture stderr
// separately without corrupting the protocol stream.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stderr"   # stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("device connected", "transport", "serial")
//	logger.Error("status request failed", "error", err)
//
// # Security
//
// Never log login passwords. The dispatcher redacts them before anything
// reaches a logger or the audit trail.
package logging
