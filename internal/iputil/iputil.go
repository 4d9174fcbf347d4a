package iputil

import (
	"fmt"
	"net/netip"
)

// Version labels the IP protocol version of a parsed address.
type Version int

const (
	V4 Version = 4
	V6 Version = 6
)

// reservedV4 is the RFC 5735 list tested by IsReserved. Parsed once at init
// so per-request checks allocate nothing.
var reservedV4 = mustPrefixes(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"255.255.255.255/32",
)

// reservedV6 covers the RFC 4291 special ranges: loopback, link-local,
// unique-local and multicast.
var reservedV6 = mustPrefixes(
	"::1/128",
	"fe80::/10",
	"fc00::/7",
	"ff00::/8",
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

// Parse parses a textual IP address and reports its version. It fails on
// anything that is not a plain IPv4 or IPv6 address (no zones, no ports).
func Parse(s string) (netip.Addr, Version, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, 0, fmt.Errorf("invalid ip address %q: %w", s, err)
	}
	if addr.Zone() != "" {
		return netip.Addr{}, 0, fmt.Errorf("invalid ip address %q: zone not allowed", s)
	}
	// Normalize 4-in-6 so downstream version logic sees one representation
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	if addr.Is4() {
		return addr, V4, nil
	}
	return addr, V6, nil
}

// IsReserved reports whether addr falls in a reserved/special-use range.
// Reserved addresses can never be legitimate client IPs, so callers treat
// a hit as a hard failure.
func IsReserved(addr netip.Addr) bool {
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	ranges := reservedV6
	if addr.Is4() {
		ranges = reservedV4
	}
	for _, p := range ranges {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// InRange reports whether addr is contained in the given CIDR. Mixed
// versions never match. Malformed CIDRs report false rather than erroring:
// reference data is operator-supplied and a single bad row must not poison
// a lookup.
func InRange(addr netip.Addr, cidr string) bool {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return false
	}
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	if prefix.Addr().Is4() != addr.Is4() {
		return false
	}
	return prefix.Contains(addr)
}

// InAnyRange reports whether addr is contained in any of the given CIDRs.
func InAnyRange(addr netip.Addr, cidrs []string) bool {
	for _, c := range cidrs {
		if InRange(addr, c) {
			return true
		}
	}
	return false
}
