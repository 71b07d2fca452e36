// Package logging provides structured logging for PowerLogic Core.
//
// It wraps log/slog so every component logs with the same shape:
// JSON in production, text for development, with service and version
// fields on all entries.
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
//	logger.Info("dispatching command", "device", name, "command", cmd)
//
// Components depend on their own narrow Logger interface; *Logger satisfies
// all of them.
package logging
