package probe

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	consts "github.com/khanhnv2901/netlab/internal/shared/constants"
)

type probeFamily struct {
	name    string
	payload func(host string) string
}

// Families are matched in order by case-insensitive substring of the hint.
var probeFamilies = []probeFamily{
	{"http", func(host string) string {
		return "HEAD / HTTP/1.0\r\nHost: " + host + "\r\nConnection: close\r\n\r\n"
	}},
	{"smtp", func(string) string { return "EHLO netlab\r\n" }},
	{"pop", func(string) string { return "QUIT\r\n" }},
	{"imap", func(string) string { return "a001 CAPABILITY\r\n" }},
	{"redis", func(string) string { return "PING\r\n" }},
	{"telnet", func(string) string { return "" }},
}

// ProbePayload returns the bytes to send for a protocol hint. Telnet and
// unknown hints send nothing and wait for a greeting.
func ProbePayload(hint, host string) string {
	h := strings.ToLower(strings.TrimSpace(hint))
	if h == "" {
		return ""
	}
	for _, f := range probeFamilies {
		if strings.Contains(h, f.name) {
			return f.payload(host)
		}
	}
	return ""
}

// BannerOptions bounds a capture. Zero values select the package defaults.
type BannerOptions struct {
	Timeout     time.Duration // absolute budget, connect included
	IdleTimeout time.Duration // maximum silence between reads
	MaxBytes    int
}

func (o BannerOptions) withDefaults() BannerOptions {
	if o.Timeout <= 0 {
		o.Timeout = consts.DefaultBannerTimeout
	}
	if o.IdleTimeout <= 0 || o.IdleTimeout > o.Timeout {
		o.IdleTimeout = o.Timeout
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = consts.DefaultBannerMaxBytes
	}
	if o.MaxBytes > consts.MaxBannerBytes {
		o.MaxBytes = consts.MaxBannerBytes
	}
	return o
}

// BannerReader captures the first bytes a service sends after connecting.
type BannerReader struct {
	Connector *Connector
}

// Grab connects, optionally writes the probe for hint, then reads until MaxBytes,
// a timeout, or the peer closing. Receiving nothing is a valid, empty capture;
// only connection-level failures are errors.
func (b *BannerReader) Grab(ctx context.Context, target *Target, port uint16, hint string, opts BannerOptions) (*BannerCapture, error) {
	opts = opts.withDefaults()
	start := time.Now()
	deadline := start.Add(opts.Timeout)
	address := target.dialAddress(port)

	conn, _, err := b.Connector.Open(ctx, target, port, opts.Timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// Unblock reads when the caller goes away.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if payload := ProbePayload(hint, target.Host()); payload != "" {
		_ = conn.SetWriteDeadline(deadline)
		if _, err := io.WriteString(conn, payload); err != nil {
			return nil, &ConnectError{Address: address, Err: err}
		}
	}

	buf := make([]byte, opts.MaxBytes)
	n := 0
	for n < len(buf) {
		readDeadline := time.Now().Add(opts.IdleTimeout)
		if readDeadline.After(deadline) {
			readDeadline = deadline
		}
		_ = conn.SetReadDeadline(readDeadline)

		m, err := conn.Read(buf[n:])
		n += m
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded) || n > 0 {
			break
		}
		return nil, &ConnectError{Address: address, Err: err}
	}

	return &BannerCapture{
		Bytes:     buf[:n],
		ByteCount: n,
		ElapsedMs: millis(time.Since(start)),
	}, nil
}
