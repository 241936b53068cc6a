// internal/util/logger.go
package util

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	mu     sync.Mutex
)

// InitLogger initializes the global structured logger.
// It sets up a JSON encoder for production-like logs at the given level
// ("debug", "info", "warn", "error"; anything else falls back to info).
func InitLogger(level string) *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build(zap.AddCaller())
	if err != nil {
		l = zap.NewExample()
	}
	logger = l
	zap.ReplaceGlobals(logger) // pkg/db and other leaf packages log through zap.L()
	return logger
}

// GetLogger returns the initialized global logger.
func GetLogger() *zap.Logger {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l == nil {
		return InitLogger("info") // should be called explicitly at app start
	}
	return l
}

func parseLevel(level string) zapcore.Level {
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
