// Package logging configures the structured logger shared by the
// scheduler, host adapter, security layer, and memory engine.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-shaped zap logger: JSON encoding, ISO8601
// timestamps, level controlled by the OPENCLAW_LOG_LEVEL environment
// variable (debug/info/warn/error, defaulting to info).
func New() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if lvl, err := zapcore.ParseLevel(os.Getenv("OPENCLAW_LOG_LEVEL")); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	return cfg.Build()
}

// Nop returns a logger that discards everything, for tests and for
// callers that haven't wired a real sink yet.
func Nop() *zap.Logger { return zap.NewNop() }
