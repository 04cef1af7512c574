// Package applog centralizes the slog setup shared by cmd/gapplay and the
// engine's per-stage loggers, mirroring the teacher's own inline
// slog.NewTextHandler construction in cmd/player.go.
package applog

import (
	"log/slog"
	"os"
)

// New builds a text-handler logger writing to stderr, verbose switching
// between Info and Debug the same way cmd/player.go's --verbose flag does.
func New(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
