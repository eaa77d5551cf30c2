package probe

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"
)

// Dialer establishes raw connections. *net.Dialer satisfies it; tests swap in
// fakes that count open sockets.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// PortConnector is the single-attempt connect used by the scheduler and pinger.
type PortConnector interface {
	Connect(ctx context.Context, target *Target, port uint16, timeout time.Duration) (time.Duration, error)
}

// Connector performs TCP connects against a target's pinned address.
type Connector struct {
	Dialer Dialer
}

// NewConnector returns a Connector using d, or a plain net.Dialer when d is nil.
func NewConnector(d Dialer) *Connector {
	if d == nil {
		d = &net.Dialer{}
	}
	return &Connector{Dialer: d}
}

// Open dials target:port and hands the live connection to the caller, who must
// close it. The timeout covers the connect only.
func (c *Connector) Open(ctx context.Context, target *Target, port uint16, timeout time.Duration) (net.Conn, time.Duration, error) {
	address := target.dialAddress(port)

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	conn, err := c.Dialer.DialContext(dialCtx, "tcp", address)
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, &ConnectError{Address: address, Err: err}
	}
	return conn, elapsed, nil
}

// Connect reports how long the TCP handshake took and closes the connection
// immediately.
func (c *Connector) Connect(ctx context.Context, target *Target, port uint16, timeout time.Duration) (time.Duration, error) {
	conn, elapsed, err := c.Open(ctx, target, port, timeout)
	if err != nil {
		return elapsed, err
	}
	_ = conn.Close()
	return elapsed, nil
}

// Classify maps a connect failure to the scan status it represents:
// an active refusal is closed, everything else (timeouts, unreachable) filtered.
func Classify(err error) PortStatus {
	switch {
	case err == nil:
		return StatusOpen
	case errors.Is(err, syscall.ECONNREFUSED):
		return StatusClosed
	default:
		return StatusFiltered
	}
}

func millis(d time.Duration) float64 {
	return d.Seconds() * 1000
}
