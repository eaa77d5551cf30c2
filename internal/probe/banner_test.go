package probe

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	apperrors "github.com/khanhnv2901/netlab/internal/shared/errors"
)

// serveOnce accepts a single connection and hands it to handle.
func serveOnce(t *testing.T, handle func(net.Conn)) uint16 {
	t.Helper()
	ln := localListener(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()
	return listenerPort(ln)
}

func newBannerReader() *BannerReader {
	return &BannerReader{Connector: NewConnector(nil)}
}

var loopbackTarget = targetFor("127.0.0.1", "127.0.0.1")

func TestGrabGreeting(t *testing.T) {
	port := serveOnce(t, func(c net.Conn) {
		_, _ = c.Write([]byte("SSH-2.0-OpenSSH_9.6\r\n"))
		time.Sleep(time.Second)
	})

	capture, err := newBannerReader().Grab(context.Background(), loopbackTarget, port, "", BannerOptions{
		Timeout:     time.Second,
		IdleTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Grab: %v", err)
	}
	if string(capture.Bytes) != "SSH-2.0-OpenSSH_9.6\r\n" || capture.ByteCount != len(capture.Bytes) {
		t.Fatalf("unexpected capture %q (%d bytes)", capture.Bytes, capture.ByteCount)
	}
	if capture.ElapsedMs <= 0 {
		t.Fatalf("expected elapsed time, got %v", capture.ElapsedMs)
	}
}

func TestGrabCapsAtMaxBytes(t *testing.T) {
	port := serveOnce(t, func(c net.Conn) {
		_, _ = c.Write(bytes.Repeat([]byte("A"), 10000))
		time.Sleep(500 * time.Millisecond)
	})

	capture, err := newBannerReader().Grab(context.Background(), loopbackTarget, port, "", BannerOptions{
		Timeout:  time.Second,
		MaxBytes: 100,
	})
	if err != nil {
		t.Fatalf("Grab: %v", err)
	}
	if capture.ByteCount != 100 || len(capture.Bytes) != 100 {
		t.Fatalf("expected exactly 100 bytes, got %d", capture.ByteCount)
	}
}

func TestGrabSendsHTTPProbe(t *testing.T) {
	requests := make(chan string, 1)
	port := serveOnce(t, func(c net.Conn) {
		line, _ := bufio.NewReader(c).ReadString('\n')
		requests <- line
		_, _ = c.Write([]byte("HTTP/1.0 200 OK\r\nServer: test\r\n\r\n"))
	})

	capture, err := newBannerReader().Grab(context.Background(), loopbackTarget, port, "HTTP", BannerOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("Grab: %v", err)
	}
	if got := <-requests; got != "HEAD / HTTP/1.0\r\n" {
		t.Fatalf("unexpected probe line %q", got)
	}
	if !strings.HasPrefix(string(capture.Bytes), "HTTP/1.0 200 OK") {
		t.Fatalf("unexpected banner %q", capture.Bytes)
	}
}

func TestGrabSilentServiceIsEmptyNotError(t *testing.T) {
	port := serveOnce(t, func(c net.Conn) {
		time.Sleep(500 * time.Millisecond)
	})

	start := time.Now()
	capture, err := newBannerReader().Grab(context.Background(), loopbackTarget, port, "telnet", BannerOptions{Timeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("expected empty capture, got error %v", err)
	}
	if capture.ByteCount != 0 {
		t.Fatalf("expected no bytes, got %q", capture.Bytes)
	}
	if time.Since(start) > 400*time.Millisecond {
		t.Fatalf("timeout not enforced, took %v", time.Since(start))
	}
}

func TestGrabConnectFailure(t *testing.T) {
	ln := localListener(t)
	port := listenerPort(ln)
	_ = ln.Close()

	_, err := newBannerReader().Grab(context.Background(), loopbackTarget, port, "", BannerOptions{Timeout: 500 * time.Millisecond})
	if !errors.Is(err, apperrors.ErrConnect) {
		t.Fatalf("expected connect error, got %v", err)
	}
}

func TestProbePayload(t *testing.T) {
	tests := []struct {
		hint string
		want string
	}{
		{"http", "HEAD / HTTP/1.0\r\nHost: example.com\r\nConnection: close\r\n\r\n"},
		{"HTTPS-alt", "HEAD / HTTP/1.0\r\nHost: example.com\r\nConnection: close\r\n\r\n"},
		{"smtp", "EHLO netlab\r\n"},
		{"pop3", "QUIT\r\n"},
		{"imap4", "a001 CAPABILITY\r\n"},
		{"Redis", "PING\r\n"},
		{"telnet", ""},
		{"ssh", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ProbePayload(tt.hint, "example.com"); got != tt.want {
			t.Errorf("ProbePayload(%q) = %q, want %q", tt.hint, got, tt.want)
		}
	}
}

func TestBannerOptionsDefaults(t *testing.T) {
	o := BannerOptions{MaxBytes: 1 << 30}.withDefaults()
	if o.Timeout <= 0 || o.IdleTimeout != o.Timeout {
		t.Fatalf("unexpected timeouts %+v", o)
	}
	if o.MaxBytes != 64*1024 {
		t.Fatalf("expected max bytes clamp, got %d", o.MaxBytes)
	}
	if d := (BannerOptions{}).withDefaults(); d.MaxBytes != 4096 {
		t.Fatalf("expected default 4096, got %d", d.MaxBytes)
	}
}
