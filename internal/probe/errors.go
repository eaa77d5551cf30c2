package probe

import (
	"errors"
	"fmt"

	apperrors "github.com/khanhnv2901/netlab/internal/shared/errors"
)

// ValidationError reports malformed input. No network I/O happens before it is returned.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Reason == "" && e.Err != nil {
		return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == apperrors.ErrValidation }
func (e *ValidationError) Unwrap() error        { return e.Err }

// ForbiddenTargetError signals that a host or its resolved address is private,
// loopback, link-local or denylisted.
type ForbiddenTargetError struct {
	Target string
	Reason string
}

func (e *ForbiddenTargetError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("target %s is not allowed", e.Target)
	}
	return fmt.Sprintf("target %s is not allowed: %s", e.Target, e.Reason)
}

func (e *ForbiddenTargetError) Is(target error) bool { return target == apperrors.ErrForbiddenTarget }

// ResolutionError wraps a DNS failure or an empty answer.
type ResolutionError struct {
	Host string
	Err  error
}

func (e *ResolutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("unable to resolve host %s: no addresses", e.Host)
	}
	return fmt.Sprintf("unable to resolve host %s: %v", e.Host, e.Err)
}

func (e *ResolutionError) Is(target error) bool { return target == apperrors.ErrResolution }
func (e *ResolutionError) Unwrap() error        { return e.Err }

// ConnectError folds timeout, refused and unreachable outcomes of a TCP connect
// (or of the read that follows it) into one failure.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Address, e.Err)
}

func (e *ConnectError) Is(target error) bool { return target == apperrors.ErrConnect }
func (e *ConnectError) Unwrap() error        { return e.Err }

// HandshakeError carries the verbatim reason a TLS handshake failed.
type HandshakeError struct {
	Address string
	Err     error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("tls handshake with %s failed: %v", e.Address, e.Err)
}

func (e *HandshakeError) Is(target error) bool { return target == apperrors.ErrHandshake }
func (e *HandshakeError) Unwrap() error        { return e.Err }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// IsClientError reports whether err was caused by the caller's input or target
// choice rather than by the network or the service itself.
func IsClientError(err error) bool {
	return errors.Is(err, apperrors.ErrValidation) ||
		errors.Is(err, apperrors.ErrForbiddenTarget) ||
		errors.Is(err, apperrors.ErrResolution)
}
