// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// L is the process-wide logger used before configuration is loaded
// (flag parsing, config discovery). Components get their own injected
// logger once the app container is built.
var L = zap.NewNop()

var initOnce sync.Once

// InitLogger installs a development logger into L. Safe to call more
// than once; only the first call takes effect.
func InitLogger() {
	initOnce.Do(func() {
		logger, err := New(true)
		if err != nil {
			// Fall back to the nop logger rather than aborting startup.
			return
		}
		L = logger
		zap.ReplaceGlobals(logger)
	})
}

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}
