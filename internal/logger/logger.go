// Package logger provides the process-wide structured logger used by advert-sync.
//
// The package wraps a zap SugaredLogger. Until Initialize is called every call
// is discarded, which keeps package tests quiet.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var sugar = zap.NewNop().Sugar()

// Initialize configures the global logger. Level is one of debug, info, warn
// or error; an empty level means info.
func Initialize(level string, jsonOutput bool) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	if !jsonOutput {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	sugar = l.Sugar()
	return nil
}

// ParseLevel converts a textual log level to a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q", level)
	}
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = sugar.Sync()
}

// With returns a logger carrying the given key/value pairs.
func With(keysAndValues ...any) *zap.SugaredLogger {
	return sugar.With(keysAndValues...)
}

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...any) { sugar.Debugf(format, args...) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) { sugar.Infof(format, args...) }

// Info logs a message at info level.
func Info(msg string) { sugar.Info(msg) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) { sugar.Warnf(format, args...) }

// Warn logs a message at warn level.
func Warn(msg string) { sugar.Warn(msg) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) { sugar.Errorf(format, args...) }

// Fatalf logs a formatted message and exits the process.
func Fatalf(format string, args ...any) { sugar.Fatalf(format, args...) }
