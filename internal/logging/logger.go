// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger for the crawler service. Development mode uses
// the console encoder with colored levels and defaults to debug; production
// uses JSON at info. A non-empty level overrides the mode's default, so an
// operator can quiet a dev instance or turn up a production one.
func New(development bool, level string) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// ForWorker tags a logger with the identity of one pool member so log lines
// from concurrent workers can be told apart.
func ForWorker(logger *zap.Logger, index int, rendering bool) *zap.Logger {
	kind := "fetch"
	if rendering {
		kind = "render"
	}
	return logger.With(zap.Int("worker", index), zap.String("kind", kind))
}
