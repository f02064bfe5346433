package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLevels(t *testing.T) {
	log, err := New("warn")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if log.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info should be disabled at warn")
	}
	if _, err := New("loud"); err == nil {
		t.Fatalf("expected invalid level error")
	}
	console, err := NewConsole("")
	if err != nil {
		t.Fatalf("console: %v", err)
	}
	if !console.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("console defaults to info")
	}
}
