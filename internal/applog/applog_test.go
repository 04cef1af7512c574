package applog

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewDefaultsToInfoLevel(t *testing.T) {
	log := New(false)
	if log.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should not be enabled without --verbose")
	}
	if !log.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info should be enabled by default")
	}
}

func TestNewVerboseEnablesDebugLevel(t *testing.T) {
	log := New(true)
	if !log.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should be enabled when verbose is true")
	}
}
