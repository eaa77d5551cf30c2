package cmd

import (
	"errors"

	apperrors "github.com/khanhnv2901/netlab/internal/shared/errors"
)

// Exit codes returned by the netlab binary.
const (
	exitFailure   = 1
	exitUsage     = 2
	exitForbidden = 3
	exitNetwork   = 4
	exitThrottled = 5
)

// exitCode maps an error to a process exit status so scripts can tell bad
// input from unreachable targets.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, apperrors.ErrValidation), errors.Is(err, apperrors.ErrResolution):
		return exitUsage
	case errors.Is(err, apperrors.ErrForbiddenTarget):
		return exitForbidden
	case errors.Is(err, apperrors.ErrConnect), errors.Is(err, apperrors.ErrHandshake):
		return exitNetwork
	case errors.Is(err, apperrors.ErrRateLimited):
		return exitThrottled
	default:
		return exitFailure
	}
}

// describeError adds a short operator hint to well-known failures.
func describeError(err error) string {
	msg := err.Error()
	switch {
	case errors.Is(err, apperrors.ErrForbiddenTarget):
		return msg + " (private, loopback, link-local and denylisted targets are refused)"
	case errors.Is(err, apperrors.ErrRateLimited):
		return msg + " (try again later or raise ratelimit.<operation>.max)"
	}
	return msg
}
