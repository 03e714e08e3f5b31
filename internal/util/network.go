// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package util

import (
	"encoding/binary"
	"fmt"
	"net"
)

// privateIPBlocks contains CIDR ranges for private/reserved IP addresses
// per RFC 1918, RFC 4193, RFC 3927, and RFC 5737.
var privateIPBlocks []*net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",      // RFC 1918 - private
		"172.16.0.0/12",   // RFC 1918 - private
		"192.168.0.0/16",  // RFC 1918 - private
		"127.0.0.0/8",     // RFC 1122 - loopback
		"169.254.0.0/16",  // RFC 3927 - link-local
		"0.0.0.0/8",       // RFC 1122 - "this" network
		"100.64.0.0/10",   // RFC 6598 - shared address (CGNAT)
		"192.0.0.0/24",    // RFC 6890 - IETF protocol assignments
		"192.0.2.0/24",    // RFC 5737 - documentation
		"198.18.0.0/15",   // RFC 2544 - benchmarking
		"198.51.100.0/24", // RFC 5737 - documentation
		"203.0.113.0/24",  // RFC 5737 - documentation
		"224.0.0.0/4",     // RFC 5771 - multicast
		"240.0.0.0/4",     // RFC 1112 - reserved
		"::1/128",         // IPv6 loopback
		"fe80::/10",       // IPv6 link-local
		"fc00::/7",        // RFC 4193 - IPv6 unique local
		"::/128",          // IPv6 unspecified
	}
	for _, cidr := range cidrs {
		_, block, err := net.ParseCIDR(cidr)
		if err == nil {
			privateIPBlocks = append(privateIPBlocks, block)
		}
	}
}

// IsPrivateIP checks if an IP address falls within a private or reserved range.
func IsPrivateIP(ip net.IP) bool {
	if ip == nil {
		return true // Treat nil IP as private (deny by default)
	}
	for _, block := range privateIPBlocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// IsValidIP reports whether s parses as an IPv4 or IPv6 address.
func IsValidIP(s string) bool {
	return net.ParseIP(s) != nil
}

// IsValidCIDR reports whether s parses as a CIDR network (e.g. "10.0.0.0/8").
func IsValidCIDR(s string) bool {
	_, _, err := net.ParseCIDR(s)
	return err == nil
}

// CIDRContains reports whether the network identified by cidr contains ip.
// Both must be valid, parseable values; a malformed cidr returns an error.
func CIDRContains(cidr, ip string) (bool, error) {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return false, fmt.Errorf("parsing cidr %q: %w", cidr, err)
	}
	addr := net.ParseIP(ip)
	if addr == nil {
		return false, fmt.Errorf("parsing ip %q", ip)
	}
	return network.Contains(addr), nil
}

// IPv4ToUint32 converts a dotted-quad IPv4 address to its big-endian uint32
// representation, used by the geo-lookup longest-prefix-match index to
// compare addresses without repeated net.IP allocations. Returns an error
// for anything that is not an IPv4 address; IPv4-mapped IPv6 forms (the
// 16-byte form net.ParseIP returns for dotted quads) are unwrapped by To4
// and accepted.
func IPv4ToUint32(ip net.IP) (uint32, error) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("not an IPv4 address: %s", ip)
	}
	return binary.BigEndian.Uint32(v4), nil
}

// CIDRBounds returns the inclusive [first, last] uint32 address range for an
// IPv4 CIDR network, used to build the geo-lookup partition index.
func CIDRBounds(network *net.IPNet) (first, last uint32, err error) {
	v4 := network.IP.To4()
	if v4 == nil {
		return 0, 0, fmt.Errorf("not an IPv4 network: %s", network)
	}
	first = binary.BigEndian.Uint32(v4)
	mask := binary.BigEndian.Uint32(network.Mask)
	last = first | ^mask
	return first, last, nil
}
