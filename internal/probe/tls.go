package probe

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	consts "github.com/khanhnv2901/netlab/internal/shared/constants"
)

// versionSSL30 represents the legacy SSL 3.0 protocol version (0x0300).
// Defined locally so we can report SSL 3.0 without referencing the
// deprecated tls.VersionSSL30 symbol.
const versionSSL30 uint16 = 0x0300

// DefaultALPN is offered during inspection handshakes.
var DefaultALPN = []string{"h2", "http/1.1"}

// Inspector performs a TLS handshake against a pinned address and records the
// negotiated session and leaf certificate. Certificates are not verified against
// a trust store; the result is descriptive, not a trust decision.
type Inspector struct {
	Connector  *Connector
	Timeout    time.Duration // dial plus handshake
	MinVersion uint16
	ALPN       []string
	Now        func() time.Time
}

// Inspect handshakes with target:port. Connect failures return a ConnectError,
// handshake failures and timeouts a HandshakeError with the verbatim reason.
func (i *Inspector) Inspect(ctx context.Context, target *Target, port uint16) (*TLSSummary, error) {
	timeout := i.Timeout
	if timeout <= 0 {
		timeout = consts.DefaultTLSTimeout
	}
	minVersion := i.MinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}
	alpn := i.ALPN
	if alpn == nil {
		alpn = DefaultALPN
	}

	deadline := time.Now().Add(timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	raw, _, err := i.Connector.Open(ctx, target, port, timeout)
	if err != nil {
		return nil, err
	}
	_ = raw.SetDeadline(deadline)

	// #nosec G402 -- inspection reports whatever certificate is presented.
	conn := tls.Client(raw, &tls.Config{
		ServerName:         target.ServerName(),
		InsecureSkipVerify: true,
		MinVersion:         minVersion,
		NextProtos:         alpn,
	})
	defer conn.Close()

	address := target.dialAddress(port)
	if err := conn.HandshakeContext(ctx); err != nil {
		return nil, &HandshakeError{Address: address, Err: err}
	}

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, &HandshakeError{Address: address, Err: errors.New("server presented no certificate")}
	}

	return &TLSSummary{
		Protocol:    tlsVersionString(state.Version),
		Cipher:      cipherSuiteString(state.CipherSuite),
		ALPN:        state.NegotiatedProtocol,
		Certificate: describeCertificate(state.PeerCertificates[0], len(state.PeerCertificates), i.now()),
	}, nil
}

func (i *Inspector) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

// describeCertificate extracts the leaf certificate attributes as seen at now.
func describeCertificate(cert *x509.Certificate, chainLength int, now time.Time) CertificateInfo {
	remaining := cert.NotAfter.Sub(now)

	return CertificateInfo{
		Subject:            cert.Subject.String(),
		Issuer:             cert.Issuer.String(),
		SubjectCN:          cert.Subject.CommonName,
		IssuerCN:           cert.Issuer.CommonName,
		ValidFrom:          cert.NotBefore.UTC(),
		ValidTo:            cert.NotAfter.UTC(),
		DaysRemaining:      int(math.Floor(remaining.Hours() / 24)),
		Expired:            remaining <= 0,
		ExpiringSoon:       remaining > 0 && remaining <= consts.TLSSoonExpiryWindow,
		Fingerprint:        fingerprintSHA256(cert.Raw),
		SerialNumber:       serialHex(cert),
		SANs:               subjectAltNames(cert),
		SelfSigned:         bytes.Equal(cert.RawSubject, cert.RawIssuer),
		SignatureAlgorithm: cert.SignatureAlgorithm.String(),
		PublicKeyAlgorithm: cert.PublicKeyAlgorithm.String(),
		KeySize:            publicKeySize(cert.PublicKey),
		ChainLength:        chainLength,
	}
}

// fingerprintSHA256 formats the DER digest as colon-separated upper hex.
func fingerprintSHA256(der []byte) string {
	sum := sha256.Sum256(der)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

func serialHex(cert *x509.Certificate) string {
	if cert.SerialNumber == nil {
		return ""
	}
	return strings.ToUpper(cert.SerialNumber.Text(16))
}

func subjectAltNames(cert *x509.Certificate) []string {
	names := make([]string, 0, len(cert.DNSNames)+len(cert.IPAddresses))
	names = append(names, cert.DNSNames...)
	for _, ip := range cert.IPAddresses {
		names = append(names, ip.String())
	}
	names = append(names, cert.EmailAddresses...)
	for _, u := range cert.URIs {
		names = append(names, u.String())
	}
	slices.Sort(names)
	return slices.Compact(names)
}

func publicKeySize(key any) int {
	switch pub := key.(type) {
	case *rsa.PublicKey:
		return pub.N.BitLen()
	case *ecdsa.PublicKey:
		return pub.Curve.Params().BitSize
	case ed25519.PublicKey:
		return 256
	}
	return 0
}

// tlsVersionString converts TLS version constant to string
func tlsVersionString(version uint16) string {
	switch version {
	case versionSSL30:
		return "SSL 3.0"
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return fmt.Sprintf("Unknown (0x%04x)", version)
	}
}

// cipherSuiteString converts cipher suite constant to string
func cipherSuiteString(suite uint16) string {
	if name := tls.CipherSuiteName(suite); name != "" {
		return name
	}
	return fmt.Sprintf("Unknown (0x%04x)", suite)
}
