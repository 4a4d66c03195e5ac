package main

import (
	"context"
	"log/slog"

	"moodlefetch/cmd/moodlefetch/commands"
	"moodlefetch/lib/osutil"
	"moodlefetch/lib/telemetry"
)

func main() {
	ctx := osutil.SignalContext()

	telemetry.InitSlog(false)
	err := telemetry.SetupFromEnv(ctx, "moodlefetch")
	if err != nil {
		slog.Warn("failed to setup telemetry", "err", err)
	}
	defer telemetry.Shutdown(context.Background())
	telemetry.InstrumentPerfStats(ctx)

	commands.ExecuteContext(ctx)
}
