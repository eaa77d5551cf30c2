package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/khanhnv2901/netlab/internal/probe"
	"github.com/spf13/cobra"
)

var tlsOpts struct {
	port int
	json bool
}

var tlsCmd = &cobra.Command{
	Use:   "tls <host>",
	Short: "Inspect the TLS session and certificate of a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		svc, _, err := buildProbeService(appCtx)
		if err != nil {
			return err
		}

		started := time.Now()
		report, err := svc.TLS(cmd.Context(), cliIdentity, probe.TLSRequest{Host: args[0], Port: tlsOpts.port})

		tally := probeTally{Host: args[0], Total: 1, Err: err}
		if report != nil {
			tally.ResolvedIP = report.ResolvedIP
			tally.Succeeded = 1
		}
		finishRun(cmd, appCtx, tally, started)
		if err != nil {
			return err
		}

		if tlsOpts.json {
			return printJSON(cmd.OutOrStdout(), report)
		}
		printTLSReport(cmd, report)
		return nil
	},
}

func printTLSReport(cmd *cobra.Command, report *probe.TLSReport) {
	out := cmd.OutOrStdout()
	cert := report.Certificate
	fmt.Fprintf(out, "%s %s (%s) port %d\n", colorInfo("TLS"), report.Host, report.ResolvedIP, report.Port)
	fmt.Fprintf(out, "  protocol:    %s\n", report.Protocol)
	fmt.Fprintf(out, "  cipher:      %s\n", report.Cipher)
	if report.ALPN != "" {
		fmt.Fprintf(out, "  alpn:        %s\n", report.ALPN)
	}
	fmt.Fprintf(out, "  subject:     %s\n", cert.Subject)
	fmt.Fprintf(out, "  issuer:      %s\n", cert.Issuer)
	fmt.Fprintf(out, "  valid:       %s to %s\n", cert.ValidFrom.Format(time.DateOnly), cert.ValidTo.Format(time.DateOnly))
	fmt.Fprintf(out, "  status:      %s (%d days remaining)\n", formatExpiry(cert), cert.DaysRemaining)
	if cert.SelfSigned {
		fmt.Fprintf(out, "  self-signed: %s\n", colorWarn("yes"))
	}
	if len(cert.SANs) > 0 {
		fmt.Fprintf(out, "  names:       %s\n", strings.Join(cert.SANs, ", "))
	}
	fmt.Fprintf(out, "  key:         %s %d\n", cert.PublicKeyAlgorithm, cert.KeySize)
	fmt.Fprintf(out, "  sha256:      %s\n", cert.Fingerprint)
}

func init() {
	tlsCmd.Flags().IntVarP(&tlsOpts.port, "port", "p", probe.DefaultTLSPort, "TCP port to connect to")
	tlsCmd.Flags().BoolVar(&tlsOpts.json, "json", false, "print the report as JSON")
	rootCmd.AddCommand(tlsCmd)
}
