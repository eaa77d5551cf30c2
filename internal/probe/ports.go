package probe

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	consts "github.com/khanhnv2901/netlab/internal/shared/constants"
	apperrors "github.com/khanhnv2901/netlab/internal/shared/errors"
)

// ExpandPorts parses a port specification and returns a sorted, deduplicated set.
// Supported forms:
//   - single: "22"
//   - list: "22,80,443"
//   - range: "1-1024" (reversed bounds are accepted)
//   - mixed: "22,80,8000-8100"
//
// Ports are collected in input order and collection stops once max distinct
// ports have been seen; truncated reports whether anything was dropped.
// A max <= 0 selects consts.MaxScanPorts.
func ExpandPorts(spec string, max int) (ports []uint16, truncated bool, err error) {
	if max <= 0 {
		max = consts.MaxScanPorts
	}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, false, invalid("ports", apperrors.ErrNoPorts)
	}

	seen := make(map[uint16]struct{})
	out := make([]uint16, 0, 16)
	add := func(p uint16) bool {
		if _, dup := seen[p]; dup {
			return true
		}
		if len(out) >= max {
			truncated = true
			return false
		}
		seen[p] = struct{}{}
		out = append(out, p)
		return true
	}

tokens:
	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if lo, hi, isRange := strings.Cut(token, "-"); isRange {
			start, err := parsePort(lo)
			if err != nil {
				return nil, false, err
			}
			end, err := parsePort(hi)
			if err != nil {
				return nil, false, err
			}
			if start > end {
				start, end = end, start
			}
			for p := int(start); p <= int(end); p++ {
				if !add(uint16(p)) {
					break tokens
				}
			}
			continue
		}
		p, err := parsePort(token)
		if err != nil {
			return nil, false, err
		}
		if !add(p) {
			break
		}
	}

	if len(out) == 0 {
		return nil, false, invalid("ports", apperrors.ErrNoPorts)
	}
	slices.Sort(out)
	return out, truncated, nil
}

// ValidatePort checks that p is a usable TCP port number.
func ValidatePort(p int) (uint16, error) {
	if p < 1 || p > 65535 {
		return 0, &ValidationError{Field: "port", Reason: fmt.Sprintf("%d is outside 1..65535", p), Err: apperrors.ErrInvalidPort}
	}
	return uint16(p), nil
}

// NormalizePorts deduplicates and sorts an explicit port list, rejecting invalid
// numbers and sets larger than max.
func NormalizePorts(list []int, max int) ([]uint16, error) {
	if max <= 0 {
		max = consts.MaxScanPorts
	}
	seen := make(map[uint16]struct{}, len(list))
	out := make([]uint16, 0, len(list))
	for _, p := range list {
		port, err := ValidatePort(p)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[port]; dup {
			continue
		}
		seen[port] = struct{}{}
		out = append(out, port)
	}
	if len(out) == 0 {
		return nil, invalid("ports", apperrors.ErrNoPorts)
	}
	if len(out) > max {
		return nil, &ValidationError{Field: "ports", Reason: fmt.Sprintf("%d ports requested, at most %d allowed", len(out), max), Err: apperrors.ErrTooManyPorts}
	}
	slices.Sort(out)
	return out, nil
}

func parsePort(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ValidationError{Field: "ports", Reason: fmt.Sprintf("%q is not a port number", s), Err: apperrors.ErrInvalidPort}
	}
	return ValidatePort(v)
}
