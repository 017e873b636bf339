// Package utils provides logging and CSV helpers shared by the eligibility engine.
package utils

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the global logger instance.
	Logger *zap.Logger
	mu     sync.RWMutex
)

// ParseLevel maps a LOG_LEVEL value to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitLogger initializes the global logger.
// Inside Lambda the output is JSON on stdout; locally it is the colored console encoder.
func InitLogger(level string) error {
	var config zap.Config
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		config = zap.NewProductionConfig()
		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	config.Level = zap.NewAtomicLevelAt(ParseLevel(level))

	logger, err := config.Build()
	if err != nil {
		return err
	}
	ReplaceLogger(logger)
	return nil
}

// ReplaceLogger swaps the global logger and returns a function restoring the previous one.
func ReplaceLogger(logger *zap.Logger) func() {
	mu.Lock()
	prev := Logger
	Logger = logger
	mu.Unlock()
	return func() { ReplaceLogger(prev) }
}

// GetLogger returns the global logger, initializing if necessary.
func GetLogger() *zap.Logger {
	mu.RLock()
	logger := Logger
	mu.RUnlock()
	if logger != nil {
		return logger
	}
	if err := InitLogger("info"); err != nil {
		return zap.NewNop()
	}
	return GetLogger()
}

// Named returns a child of the global logger for one component.
func Named(component string) *zap.Logger {
	return GetLogger().Named(component)
}

// Sync flushes any buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// LogField creates a zap field for structured logging.
type LogField = zap.Field

// Common field constructors
var (
	String   = zap.String
	Strings  = zap.Strings
	Int      = zap.Int
	Int64    = zap.Int64
	Bool     = zap.Bool
	Error    = zap.Error
	Duration = zap.Duration
)

// Domain field constructors
func SessionID(id string) LogField { return zap.String("session_id", id) }
func AccountID(id string) LogField { return zap.String("account_id", id) }
func ProductID(id string) LogField { return zap.String("product_id", id) }
func CatalogVersion(v string) LogField { return zap.String("catalog_version", v) }
