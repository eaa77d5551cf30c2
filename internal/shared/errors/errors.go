package errors

import "errors"

// Probe errors
var (
	// Input validation
	ErrValidation   = errors.New("validation error")
	ErrEmptyHost    = errors.New("host cannot be empty")
	ErrInvalidPort  = errors.New("port must be in 1..65535")
	ErrTooManyPorts = errors.New("too many ports")
	ErrNoPorts      = errors.New("no valid ports")

	// Target policy
	ErrForbiddenTarget = errors.New("target is not allowed")
	ErrResolution      = errors.New("unable to resolve host")

	// Network outcomes
	ErrConnect   = errors.New("connection failed")
	ErrHandshake = errors.New("tls handshake failed")

	// Collaborators
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Job errors
var (
	ErrJobNotFound        = errors.New("job not found")
	ErrUnsupportedJobType = errors.New("unsupported job type")
)
