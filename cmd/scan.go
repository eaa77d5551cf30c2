package cmd

import (
	"fmt"
	"time"

	"github.com/khanhnv2901/netlab/internal/probe"
	"github.com/spf13/cobra"
)

var scanOpts struct {
	ports    string
	json     bool
	progress bool
}

var scanCmd = &cobra.Command{
	Use:   "scan <host>",
	Short: "Scan TCP ports of a public host",
	Example: `  netlab scan example.com --ports 22,80,443
  netlab scan example.com --ports 8000-8100 --concurrency 20 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		svc, _, err := buildProbeService(appCtx)
		if err != nil {
			return err
		}

		req := probe.ScanRequest{Host: args[0], Ports: scanOpts.ports}
		var printer *progressPrinter
		if scanOpts.progress && !scanOpts.json {
			ports, _, err := probe.ExpandPorts(scanOpts.ports, appCtx.Config.Probe.MaxPorts)
			if err != nil {
				return err
			}
			printer = newProgressPrinter(cmd.ErrOrStderr(), len(ports), "scan")
			req.Observer = printer.Observe
			printer.Start()
		}

		started := time.Now()
		report, err := svc.Scan(cmd.Context(), cliIdentity, req)
		if printer != nil {
			printer.Stop()
		}

		tally := probeTally{Host: args[0], Err: err}
		if report != nil {
			tally.ResolvedIP = report.ResolvedIP
			tally.Succeeded = len(report.OpenPorts)
			tally.Total = len(report.OpenPorts) + report.ClosedCount
		}
		finishRun(cmd, appCtx, tally, started)
		if err != nil {
			return err
		}

		if scanOpts.json {
			return printJSON(cmd.OutOrStdout(), report)
		}
		printScanReport(cmd, report)
		return nil
	},
}

func printScanReport(cmd *cobra.Command, report *probe.ScanReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s (%s)\n", colorInfo("Scan of"), report.Host, report.ResolvedIP)
	if len(report.OpenPorts) == 0 {
		fmt.Fprintf(out, "  no open ports\n")
	}
	for _, p := range report.OpenPorts {
		fmt.Fprintf(out, "  %5d/tcp  %s  %s\n", p.Port, formatStatusWithColor(string(probe.StatusOpen)), formatMs(p.Ms))
	}
	fmt.Fprintf(out, "%d open, %d closed or filtered in %s\n", len(report.OpenPorts), report.ClosedCount, formatMs(report.TotalElapsedMs))
	if report.Truncated {
		fmt.Fprintf(out, "%s port list truncated to the first %d ports\n", colorWarn("!"), getAppContext(cmd).Config.Probe.MaxPorts)
	}
	if report.Unfinished > 0 {
		fmt.Fprintf(out, "%s %d ports not probed before the scan budget ran out\n", colorWarn("!"), report.Unfinished)
	}
}

func init() {
	scanCmd.Flags().StringVarP(&scanOpts.ports, "ports", "p", "21,22,25,80,110,143,443,3306,5432,6379,8080,8443", "ports to scan, e.g. 22,80,8000-8100")
	scanCmd.Flags().IntVarP(&cliConfig.Probe.ScanConcurrency, "concurrency", "c", cliConfig.Probe.ScanConcurrency, "maximum concurrent connects")
	scanCmd.Flags().DurationVarP(&cliConfig.Probe.ConnectTimeout, "timeout", "t", cliConfig.Probe.ConnectTimeout, "timeout per connect attempt")
	scanCmd.Flags().DurationVar(&cliConfig.Probe.ScanBudget, "budget", cliConfig.Probe.ScanBudget, "overall scan deadline")
	scanCmd.Flags().BoolVar(&scanOpts.json, "json", false, "print the report as JSON")
	scanCmd.Flags().BoolVar(&scanOpts.progress, "progress", false, "show live progress on stderr")
	rootCmd.AddCommand(scanCmd)
}
