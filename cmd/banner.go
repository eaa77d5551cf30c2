package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/khanhnv2901/netlab/internal/probe"
	"github.com/spf13/cobra"
)

var bannerOpts struct {
	port     int
	hint     string
	maxBytes int
	json     bool
}

var bannerCmd = &cobra.Command{
	Use:   "banner <host>",
	Short: "Capture the greeting a TCP service sends",
	Example: `  netlab banner mail.example.com --port 25 --hint smtp
  netlab banner example.com --port 80 --hint http`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		svc, _, err := buildProbeService(appCtx)
		if err != nil {
			return err
		}

		started := time.Now()
		report, err := svc.Banner(cmd.Context(), cliIdentity, probe.BannerRequest{
			Host:     args[0],
			Port:     bannerOpts.port,
			Hint:     bannerOpts.hint,
			MaxBytes: bannerOpts.maxBytes,
		})

		tally := probeTally{Host: args[0], Total: 1, Err: err}
		if report != nil {
			tally.ResolvedIP = report.ResolvedIP
			tally.Succeeded = 1
		}
		finishRun(cmd, appCtx, tally, started)
		if err != nil {
			return err
		}

		if bannerOpts.json {
			return printJSON(cmd.OutOrStdout(), report)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s (%s) port %d: %d bytes in %s\n", colorInfo("Banner from"), report.Host, report.ResolvedIP, report.Port, report.Bytes, formatMs(report.ElapsedMs))
		if report.Bytes == 0 {
			fmt.Fprintf(out, "  %s\n", colorWarn("(service sent nothing)"))
			return nil
		}
		for _, line := range strings.Split(strings.TrimRight(report.Banner, "\r\n"), "\n") {
			fmt.Fprintf(out, "  %s\n", strings.TrimRight(line, "\r"))
		}
		return nil
	},
}

func init() {
	bannerCmd.Flags().IntVarP(&bannerOpts.port, "port", "p", probe.DefaultBannerPort, "TCP port to connect to")
	bannerCmd.Flags().StringVar(&bannerOpts.hint, "hint", "", "protocol probe to send first: http, smtp, pop, imap, redis, telnet")
	bannerCmd.Flags().IntVar(&bannerOpts.maxBytes, "max-bytes", 0, "maximum bytes to keep (0 = configured default)")
	bannerCmd.Flags().BoolVar(&bannerOpts.json, "json", false, "print the report as JSON")
	rootCmd.AddCommand(bannerCmd)
}
