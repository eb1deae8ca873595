package telemetry_test

import (
	"testing"

	"github.com/atlas-desktop/paperengine/internal/telemetry"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerDefaultsToInfoLevel(t *testing.T) {
	logger, err := telemetry.NewLogger("", "development")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("default level should enable Info")
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("default level should not enable Debug")
	}
}

func TestNewLoggerDebugLevelEnablesDebug(t *testing.T) {
	logger, err := telemetry.NewLogger("debug", "development")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level should enable Debug logging")
	}
}

func TestNewLoggerWarnLevelDisablesInfo(t *testing.T) {
	logger, err := telemetry.NewLogger("warn", "production")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("warn level should not enable Info logging")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Error("warn level should enable Warn logging")
	}
}
