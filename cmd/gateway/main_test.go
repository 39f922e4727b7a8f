package main

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestSetupLogger_DebugMode(t *testing.T) {
	logger, err := setupLogger(true)
	if err != nil || logger == nil {
		t.Fatalf("expected logger for debug mode, got err %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug level to be enabled")
	}
	_ = logger.Sync()
}

func TestSetupLogger_ProductionMode(t *testing.T) {
	logger, err := setupLogger(false)
	if err != nil || logger == nil {
		t.Fatalf("expected logger for production mode, got err %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug level to be disabled")
	}
	_ = logger.Sync()
}
