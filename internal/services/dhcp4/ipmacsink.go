// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dhcp4

import (
	"net"
	"sync"

	"landscape.router/core/internal/ebpf/types"
)

// ipMacTable is the narrow seam internal/ipmac's Controller targets;
// duplicated here (rather than imported) so dhcp4 doesn't need to
// depend on ipmac's Controller/Reconcile batch-replace machinery for
// what is just per-lease incremental writes.
type ipMacTable interface {
	Add(key, value any)
	Del(key any)
}

// IpMacSink is a LeaseSink installing each dynamic lease into the
// ip-mac-v4 table directly, keyed by mac so a renewed lease at a new
// address replaces rather than duplicates its entry.
type IpMacSink struct {
	table ipMacTable

	mu    sync.Mutex
	byMAC map[string]types.IpMacKey
}

// NewIpMacSink constructs an IpMacSink writing through table.
func NewIpMacSink(table ipMacTable) *IpMacSink {
	return &IpMacSink{table: table, byMAC: make(map[string]types.IpMacKey)}
}

func (s *IpMacSink) OnLease(mac string, ip net.IP, hostname string) {
	hw, err := net.ParseMAC(mac)
	if err != nil || len(hw) != 6 {
		return
	}
	var macBytes [6]byte
	copy(macBytes[:], hw)

	key := types.IpMacKey{Addr: types.AddrFromIP(ip)}
	val := types.IpMacValue{MAC: macBytes}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byMAC[mac]; ok && prev != key {
		prev := prev
		s.table.Del(&prev)
	}
	s.byMAC[mac] = key
	s.table.Add(&key, &val)
}

func (s *IpMacSink) OnExpire(mac string, ip net.IP) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byMAC[mac]
	if !ok {
		return
	}
	delete(s.byMAC, mac)
	s.table.Del(&key)
}
