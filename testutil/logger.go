// Package testutil holds helpers shared by package tests.
package testutil

import (
	"log/slog"
	"os"
)

// NewLogger returns a logger that stays quiet unless DEBUG is set
// ("1" for info, "2" for debug).
func NewLogger() *slog.Logger {
	var level slog.Level
	switch os.Getenv("DEBUG") {
	case "2":
		level = slog.LevelDebug
	case "1":
		level = slog.LevelInfo
	default:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
