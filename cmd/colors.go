package cmd

import (
	"strings"

	"github.com/fatih/color"
	"github.com/khanhnv2901/netlab/internal/probe"
)

var (
	colorSuccess = color.New(color.FgGreen).SprintFunc()
	colorInfo    = color.New(color.FgCyan).SprintFunc()
	colorWarn    = color.New(color.FgYellow).SprintFunc()
	colorError   = color.New(color.FgRed).SprintFunc()
)

func formatStatusWithColor(status string) string {
	switch strings.ToLower(status) {
	case "ok", "success", "pass", string(probe.StatusOpen):
		return colorSuccess(status)
	case "error", "fail", "failed", string(probe.StatusClosed):
		return colorError(status)
	case string(probe.StatusFiltered):
		return colorWarn(status)
	default:
		return status
	}
}

// formatExpiry colors a certificate's remaining validity.
func formatExpiry(cert probe.CertificateInfo) string {
	switch {
	case cert.Expired:
		return colorError("expired")
	case cert.ExpiringSoon:
		return colorWarn("expires soon")
	default:
		return colorSuccess("valid")
	}
}
