package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a zap logger for the given app environment. "local" logs at
// debug level in a human readable format, "development" at info level in the
// same format and anything else falls back to the production JSON encoder.
func New(env string) (*zap.Logger, error) {
	var cfg zap.Config
	switch env {
	case "local":
		cfg = zap.NewDevelopmentConfig()
	case "development":
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case "production", "":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("unknown app environment %q", env)
	}
	return cfg.Build()
}
