package probe

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	consts "github.com/khanhnv2901/netlab/internal/shared/constants"
	apperrors "github.com/khanhnv2901/netlab/internal/shared/errors"
	"go4.org/netipx"
	"golang.org/x/net/idna"
)

// Target is a host that passed validation. The chosen address is pinned: every
// socket opened for the operation dials it instead of re-resolving the name.
type Target struct {
	input  string
	host   string
	addrs  []netip.Addr
	chosen netip.Addr
}

// Input returns the raw string the caller supplied.
func (t *Target) Input() string { return t.input }

// Host returns the normalized (lowercase, ASCII) host name or IP literal.
func (t *Target) Host() string { return t.host }

// Addresses returns every address the resolver answered with, in answer order.
func (t *Target) Addresses() []netip.Addr { return slices.Clone(t.addrs) }

// Address returns the vetted address all probes connect to.
func (t *Target) Address() netip.Addr { return t.chosen }

// ResolvedIP returns the canonical text form of the vetted address.
func (t *Target) ResolvedIP() string { return t.chosen.String() }

// ServerName is the TLS SNI value: the host name, or empty for IP literals.
func (t *Target) ServerName() string {
	if _, err := netip.ParseAddr(t.host); err == nil {
		return ""
	}
	return t.host
}

func (t *Target) dialAddress(port uint16) string {
	return netip.AddrPortFrom(t.chosen, port).String()
}

// Resolver is satisfied by *net.Resolver.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

type forbiddenRange struct {
	prefix netip.Prefix
	label  string
}

var defaultForbiddenRanges = []struct {
	cidr  string
	label string
}{
	{"0.0.0.0/8", "unspecified"},
	{"10.0.0.0/8", "private"},
	{"127.0.0.0/8", "loopback"},
	{"169.254.0.0/16", "link-local"},
	{"172.16.0.0/12", "private"},
	{"192.168.0.0/16", "private"},
	{"::/128", "unspecified"},
	{"::1/128", "loopback"},
	{"fc00::/7", "unique-local"},
	{"fe80::/10", "link-local"},
}

// DefaultDenylist holds host substrings that are never probed.
var DefaultDenylist = []string{"localhost", ".local", ".lan", ".home", ".onion"}

// ValidatorConfig configures a Validator.
type ValidatorConfig struct {
	Resolver       Resolver
	Denylist       []string
	ExtraForbidden []string // additional CIDR blocks to refuse
	DNSTimeout     time.Duration
}

// Validator resolves hosts and refuses private, loopback, link-local and
// denylisted targets before any connection is attempted.
type Validator struct {
	resolver  Resolver
	timeout   time.Duration
	ranges    []forbiddenRange
	forbidden *netipx.IPSet

	mu       sync.RWMutex
	denylist []string
}

// NewValidator builds a Validator. A nil resolver means the system resolver.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	v := &Validator{
		resolver: cfg.Resolver,
		timeout:  cfg.DNSTimeout,
	}
	if v.resolver == nil {
		v.resolver = net.DefaultResolver
	}
	if v.timeout <= 0 {
		v.timeout = consts.DefaultDNSTimeout
	}

	var builder netipx.IPSetBuilder
	for _, r := range defaultForbiddenRanges {
		prefix := netip.MustParsePrefix(r.cidr)
		builder.AddPrefix(prefix)
		v.ranges = append(v.ranges, forbiddenRange{prefix: prefix, label: r.label})
	}
	for _, cidr := range cfg.ExtraForbidden {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("parse forbidden range %q: %w", cidr, err)
		}
		builder.AddPrefix(prefix.Masked())
		v.ranges = append(v.ranges, forbiddenRange{prefix: prefix.Masked(), label: "denylisted range"})
	}
	set, err := builder.IPSet()
	if err != nil {
		return nil, fmt.Errorf("build forbidden set: %w", err)
	}
	v.forbidden = set

	denylist := cfg.Denylist
	if denylist == nil {
		denylist = DefaultDenylist
	}
	v.SetDenylist(denylist)
	return v, nil
}

// SetDenylist replaces the denylist. Safe to call while validations are running.
func (v *Validator) SetDenylist(entries []string) {
	cleaned := make([]string, 0, len(entries))
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			cleaned = append(cleaned, e)
		}
	}
	v.mu.Lock()
	v.denylist = cleaned
	v.mu.Unlock()
}

// Denylist returns a copy of the active denylist.
func (v *Validator) Denylist() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.denylist)
}

// Validate normalizes host, checks it against the denylist and forbidden ranges,
// resolves it and vets the first answer. IP literals are checked without a DNS query.
func (v *Validator) Validate(ctx context.Context, host string) (*Target, error) {
	name, err := normalizeHost(host)
	if err != nil {
		return nil, invalid("host", err)
	}

	if entry, denied := v.matchDenylist(name); denied {
		return nil, &ForbiddenTargetError{Target: name, Reason: fmt.Sprintf("matches denylist entry %q", entry)}
	}

	if addr, err := netip.ParseAddr(name); err == nil {
		if label, bad := v.classify(addr); bad {
			return nil, &ForbiddenTargetError{Target: name, Reason: label + " address"}
		}
		return &Target{input: host, host: name, addrs: []netip.Addr{addr}, chosen: addr}, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	answers, err := v.resolver.LookupNetIP(lookupCtx, "ip", name)
	if err != nil {
		return nil, &ResolutionError{Host: name, Err: err}
	}
	if len(answers) == 0 {
		return nil, &ResolutionError{Host: name}
	}

	addrs := make([]netip.Addr, 0, len(answers))
	for _, a := range answers {
		addrs = append(addrs, a.Unmap())
	}

	// First answer only; the remaining addresses are reported, not probed.
	chosen := addrs[0]
	if label, bad := v.classify(chosen); bad {
		return nil, &ForbiddenTargetError{Target: name, Reason: fmt.Sprintf("resolves to %s address %s", label, chosen)}
	}
	if entry, denied := v.matchDenylist(chosen.String()); denied {
		return nil, &ForbiddenTargetError{Target: name, Reason: fmt.Sprintf("resolves to %s which matches denylist entry %q", chosen, entry)}
	}

	return &Target{input: host, host: name, addrs: addrs, chosen: chosen}, nil
}

// classify reports whether addr falls in a forbidden range and which one.
func (v *Validator) classify(addr netip.Addr) (string, bool) {
	addr = addr.Unmap().WithZone("")
	if !v.forbidden.Contains(addr) {
		return "", false
	}
	for _, r := range v.ranges {
		if r.prefix.Contains(addr) {
			return r.label, true
		}
	}
	return "forbidden", true
}

func (v *Validator) matchDenylist(s string) (string, bool) {
	s = strings.ToLower(s)
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, entry := range v.denylist {
		if strings.Contains(s, entry) {
			return entry, true
		}
	}
	return "", false
}

// normalizeHost accepts a bare host, host:port, [v6]:port or a URL and returns the
// lowercase ASCII host or the canonical IP literal.
func normalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", apperrors.ErrEmptyHost
	}

	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		return addr.Unmap().String(), nil
	}

	if strings.Contains(host, "://") {
		u, err := url.Parse(host)
		if err != nil {
			return "", err
		}
		host = u.Hostname()
	} else if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	host = strings.TrimSuffix(strings.ToLower(strings.Trim(host, "[]")), ".")
	if host == "" {
		return "", apperrors.ErrEmptyHost
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().String(), nil
	}

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("malformed host name %q: %w", host, err)
	}
	return ascii, nil
}
