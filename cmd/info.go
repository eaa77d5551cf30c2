package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/khanhnv2901/netlab/internal/probe"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show effective configuration and data paths",
	Long: `Display netlab configuration information including:
  - Configuration file and results directory
  - Probe timeouts and limits
  - Target denylist and rate limits`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		cfg := appCtx.Config
		out := cmd.OutOrStdout()

		configFile := viper.ConfigFileUsed()
		configState := "✓ (loaded)"
		if configFile == "" {
			configFile = "~/.netlab.yaml"
			configState = "✗ (using defaults)"
		}

		telemetryPath := filepath.Join(appCtx.ResultsDir, telemetryFileName)
		telemetryState := "✗ (not created yet)"
		if _, err := os.Stat(telemetryPath); err == nil {
			telemetryState = "✓ (exists)"
		}

		denylist := cfg.Probe.Denylist
		if denylist == nil {
			denylist = probe.DefaultDenylist
		}

		fmt.Fprintln(out, "netlab System Information")
		fmt.Fprintln(out, "=========================")
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Platform:             %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(out, "Configuration File:   %s %s\n", configFile, configState)
		fmt.Fprintf(out, "Results Directory:    %s\n", appCtx.ResultsDir)
		fmt.Fprintf(out, "Telemetry File:       %s %s\n", telemetryPath, telemetryState)
		if cfg.Log.File != "" {
			fmt.Fprintf(out, "Log File:             %s\n", cfg.Log.File)
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Probe Settings:")
		fmt.Fprintf(out, "  Connect Timeout:    %s\n", cfg.Probe.ConnectTimeout)
		fmt.Fprintf(out, "  Scan Concurrency:   %d\n", cfg.Probe.ScanConcurrency)
		fmt.Fprintf(out, "  Scan Budget:        %s\n", cfg.Probe.ScanBudget)
		fmt.Fprintf(out, "  Max Ports:          %d\n", cfg.Probe.MaxPorts)
		fmt.Fprintf(out, "  Denylist:           %s\n", strings.Join(denylist, ", "))
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Rate Limits:")
		for _, op := range probe.Operations {
			p := cfg.RateLimit[op]
			if p.Max <= 0 || p.Window <= 0 {
				fmt.Fprintf(out, "  %-8s            unlimited\n", op)
				continue
			}
			fmt.Fprintf(out, "  %-8s            %d per %s\n", op, p.Max, p.Window)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
