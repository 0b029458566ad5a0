// Package logging provides structured logging for the valve calibrator.
//
// It wraps log/slog so every entry carries the service name and build
// version. Output is JSON by default and text when configured:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	mqttLog := logger.With("component", "mqtt")
//	mqttLog.Info("connected", "broker", addr)
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
