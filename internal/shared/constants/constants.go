package constants

import (
	"io/fs"
	"time"
)

const (
	// DefaultDirPerm is the default permission used when creating directories.
	DefaultDirPerm fs.FileMode = 0o755
	// DefaultFilePerm is the default permission used when creating files.
	DefaultFilePerm fs.FileMode = 0o644
)

const (
	// MaxScanPorts caps how many ports a single scan may probe.
	MaxScanPorts = 100
	// DefaultScanConcurrency is the number of scan workers when none is configured.
	DefaultScanConcurrency = 50
	// DefaultConnectTimeout bounds a single scan connect attempt.
	DefaultConnectTimeout = 800 * time.Millisecond
	// DefaultScanBudget is the soft deadline for a whole scan batch.
	DefaultScanBudget = 30 * time.Second
	// DefaultDNSTimeout bounds target resolution.
	DefaultDNSTimeout = 5 * time.Second
)

const (
	// DefaultPingTimeout bounds each TCP ping attempt.
	DefaultPingTimeout = time.Second
	// DefaultPingAttempts is used when the caller does not ask for a count.
	DefaultPingAttempts = 3
	// MaxPingAttempts caps the number of sequential ping attempts.
	MaxPingAttempts = 10
)

const (
	// DefaultBannerTimeout is the absolute budget for a banner capture.
	DefaultBannerTimeout = 1500 * time.Millisecond
	// DefaultBannerMaxBytes caps how many banner bytes are kept.
	DefaultBannerMaxBytes = 4096
	// MaxBannerBytes is the hard upper bound callers may request.
	MaxBannerBytes = 64 * 1024
)

const (
	// DefaultTLSTimeout bounds dial plus handshake for TLS inspection.
	DefaultTLSTimeout = 5 * time.Second
	// TLSSoonExpiryWindow warns operators when a certificate expires inside this window.
	TLSSoonExpiryWindow = 14 * 24 * time.Hour
)
