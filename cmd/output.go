package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cliIdentity is the rate-limit identity used for probes started from the CLI.
const cliIdentity = "cli"

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// finishRun records telemetry when enabled. Telemetry failures are logged,
// never returned.
func finishRun(cmd *cobra.Command, appCtx *AppContext, tally probeTally, started time.Time) {
	if !appCtx.Config.Telemetry {
		return
	}
	if err := recordTelemetry(appCtx, cmd.CommandPath(), tally, time.Since(started)); err != nil {
		appCtx.Logger.Warn("failed to record telemetry", zap.Error(err))
	}
}

func formatMs(ms float64) string {
	return fmt.Sprintf("%.1fms", ms)
}
