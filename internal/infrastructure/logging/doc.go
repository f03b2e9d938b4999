// Package logging provides structured logging for vcpd.
//
// It wraps log/slog with the service defaults: JSON or text output, level
// filtering, and service/version fields on every entry. File output is
// rotated by lumberjack.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "file"     # stdout, stderr, file
//	  file:
//	    path: "./logs/vcpd.log"
//	    max_size: 50     # megabytes before rotation
//	    max_backups: 5
//	    max_age: 28      # days
//	    compress: true
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	defer logger.Close()
//	logger.Info("group volume set", "group", 3, "volume", 120)
//
// Never log secrets such as the MQTT password or InfluxDB token.
package logging
