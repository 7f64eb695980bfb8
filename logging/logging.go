// Package logging builds the structured zap loggers used across the
// fan-out engine and provides recipient redaction for PII-safe logs.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production JSON logger at the level named by the LOG_LEVEL
// environment variable (fatal, error, warn, info, debug, trace). Unknown or
// empty values fall back to info. zap has no trace level, so trace maps to
// debug.
func New() (*zap.Logger, error) {
	return NewAt(os.Getenv("LOG_LEVEL"))
}

// NewAt builds a production JSON logger at the given level name.
func NewAt(level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.Level = zap.NewAtomicLevelAt(ParseLevel(level))

	config.Encoding = "json"
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return config.Build()
}

// ParseLevel maps a LOG_LEVEL value onto a zap level. Defaults to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	case "info":
		return zapcore.InfoLevel
	default:
		return zapcore.InfoLevel
	}
}

// ForComponent binds the mandatory component field. A nil logger yields a
// no-op logger so library code never has to nil-check.
func ForComponent(logger *zap.Logger, component string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(zap.String("component", component))
}

// Recipient masks a recipient identifier down to its last 10 characters.
// Shorter identifiers are returned unchanged; they carry too little to leak.
func Recipient(recipient string) string {
	const keep = 10
	if len(recipient) <= keep {
		return recipient
	}
	return "..." + recipient[len(recipient)-keep:]
}
