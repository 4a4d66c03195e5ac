package telemetry

import (
	"log/slog"
	"os"
)

// InitSlog installs the default logger used by every binary. Verbose mode
// drops the level to debug, which includes per-request scraper logs.
func InitSlog(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
