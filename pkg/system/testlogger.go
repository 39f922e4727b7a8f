package system

import (
	"go.uber.org/zap"
)

// NewTestLogger returns a development sugared logger without automatic
// stacktraces, optionally named.
func NewTestLogger(name ...string) *zap.SugaredLogger {
	logger := NewTestZapLogger()
	for _, n := range name {
		logger = logger.Named(n)
	}
	return logger.Sugar()
}

// NewTestZapLogger returns the non-sugared variant of NewTestLogger.
func NewTestZapLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
