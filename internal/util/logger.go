package util

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the service logger. It is handed to every component
// explicitly; nothing reads a package-level logger.
func NewLogger(env string) (*zap.Logger, error) {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return config.Build()
}

// SyncLogger flushes any buffered log entries
func SyncLogger(logger *zap.Logger) {
	if logger != nil {
		_ = logger.Sync()
	}
}
