// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package routectl

import (
	"net/netip"

	"landscape.router/core/internal/ebpf/types"
)

// netipPrefix adapts the facade's (Addr16, prefix-length) pair to the
// net/netip.Prefix gaissmai/bart's LPM table indexes on.
type netipPrefix struct {
	addr types.Addr16
	bits uint8
}

// NewPrefix builds a netipPrefix from an Addr16 and its significant
// bit count (32 for a /32 v4 host route, 128 for full v6, etc).
func NewPrefix(addr types.Addr16, bits uint8) netipPrefix {
	return netipPrefix{addr: addr, bits: bits}
}

func (p netipPrefix) netipPrefix() netip.Prefix {
	a, _ := netip.AddrFromSlice(p.addr.IP())
	if p.addr.Proto == types.L3ProtoV4 {
		a = a.Unmap()
	}
	return netip.PrefixFrom(a, int(p.bits))
}

func addrToNetip(a types.Addr16) netip.Addr {
	ip, _ := netip.AddrFromSlice(a.IP())
	if a.Proto == types.L3ProtoV4 {
		ip = ip.Unmap()
	}
	return ip
}
