package probe

import (
	"context"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// fakeResolver answers from a static table and counts lookups.
type fakeResolver struct {
	answers map[string][]netip.Addr
	err     error
	calls   atomic.Int32
}

func (r *fakeResolver) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	addrs, ok := r.answers[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return addrs, nil
}

func resolverFor(host string, addrs ...string) *fakeResolver {
	parsed := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		parsed = append(parsed, netip.MustParseAddr(a))
	}
	return &fakeResolver{answers: map[string][]netip.Addr{host: parsed}}
}

// fakeDialer serves open ports through net.Pipe, refuses everything else and
// tracks how many dials are in flight.
type fakeDialer struct {
	open  map[uint16]bool
	delay time.Duration

	mu       sync.Mutex
	dialed   []string
	inFlight int
	peak     int
}

func (d *fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.dialed = append(d.dialed, address)
	d.inFlight++
	d.peak = max(d.peak, d.inFlight)
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.inFlight--
		d.mu.Unlock()
	}()

	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, &net.OpError{Op: "dial", Net: network, Err: ctx.Err()}
		}
	}

	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return nil, err
	}
	if !d.open[ap.Port()] {
		return nil, &net.OpError{Op: "dial", Net: network, Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	}
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

func (d *fakeDialer) dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dialed...)
}

func (d *fakeDialer) maxInFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peak
}

// targetFor builds a Target directly, bypassing validation, so tests can
// reach local listeners.
func targetFor(host, addr string) *Target {
	a := netip.MustParseAddr(addr)
	return &Target{input: host, host: host, addrs: []netip.Addr{a}, chosen: a}
}
