package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/khanhnv2901/netlab/internal/probe"
	consts "github.com/khanhnv2901/netlab/internal/shared/constants"
	"github.com/spf13/cobra"
)

var pingOpts struct {
	port     int
	attempts int
	json     bool
}

var pingCmd = &cobra.Command{
	Use:   "ping <host>",
	Short: "Measure TCP connect round-trip times",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		svc, _, err := buildProbeService(appCtx)
		if err != nil {
			return err
		}

		started := time.Now()
		report, err := svc.Ping(cmd.Context(), cliIdentity, probe.PingRequest{
			Host:     args[0],
			Port:     pingOpts.port,
			Attempts: pingOpts.attempts,
		})

		tally := probeTally{Host: args[0], Err: err}
		if report != nil {
			tally.ResolvedIP = report.ResolvedIP
			tally.Total = report.Attempts
			tally.Succeeded = report.Received
		}
		finishRun(cmd, appCtx, tally, started)

		if report != nil && report.Attempts > 0 {
			if pingOpts.json {
				if jsonErr := printJSON(cmd.OutOrStdout(), report); jsonErr != nil {
					return jsonErr
				}
			} else {
				printPingReport(cmd, report)
			}
		}
		return err
	},
}

func printPingReport(cmd *cobra.Command, report *probe.PingReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s (%s) port %d\n", colorInfo("TCP ping"), report.Host, report.ResolvedIP, report.Port)
	rtts := make([]string, 0, len(report.RTTs))
	for _, v := range report.RTTs {
		rtts = append(rtts, formatMs(v))
	}
	status := "ok"
	if report.Received == 0 {
		status = "failed"
	}
	fmt.Fprintf(out, "  %d/%d connected  %s\n", report.Received, report.Attempts, formatStatusWithColor(status))
	if len(rtts) > 0 {
		fmt.Fprintf(out, "  rtt: %s\n", strings.Join(rtts, " "))
	}
	if s := report.Summary; s != nil {
		fmt.Fprintf(out, "  min/avg/max = %s/%s/%s\n", formatMs(s.Min), formatMs(s.Avg), formatMs(s.Max))
	}
}

func init() {
	pingCmd.Flags().IntVarP(&pingOpts.port, "port", "p", probe.DefaultPingPort, "TCP port to connect to")
	pingCmd.Flags().IntVarP(&pingOpts.attempts, "attempts", "n", consts.DefaultPingAttempts, fmt.Sprintf("number of sequential attempts (1-%d)", consts.MaxPingAttempts))
	pingCmd.Flags().BoolVar(&pingOpts.json, "json", false, "print the report as JSON")
	rootCmd.AddCommand(pingCmd)
}
