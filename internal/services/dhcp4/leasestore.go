// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dhcp4

import (
	"net"
	"sync"
	"time"

	"landscape.router/core/internal/errors"
)

// Reservation is a static MAC -> IP binding the pool honors before
// falling back to dynamic allocation.
type Reservation struct {
	IP       net.IP
	Hostname string
}

// leaseStore implements the allocation strategy: static reservation,
// then existing-lease reuse, then first-available from the pool.
type leaseStore struct {
	mu sync.Mutex

	rangeStart, rangeEnd net.IP
	subnet               *net.IPNet
	leaseTime            time.Duration
	reservations         map[string]Reservation // mac -> reservation

	leases   map[string]net.IP    // mac -> ip
	takenIPs map[string]string    // ip.String() -> mac
	expiry   map[string]time.Time // mac -> expiry
}

func newLeaseStore(rangeStart, rangeEnd net.IP, subnet *net.IPNet, leaseTime time.Duration, reservations map[string]Reservation) *leaseStore {
	return &leaseStore{
		rangeStart:   rangeStart,
		rangeEnd:     rangeEnd,
		subnet:       subnet,
		leaseTime:    leaseTime,
		reservations: reservations,
		leases:       make(map[string]net.IP),
		takenIPs:     make(map[string]string),
		expiry:       make(map[string]time.Time),
	}
}

// Allocate returns the IP mac is entitled to: its static reservation,
// its existing lease if still valid, or the next free address in the
// pool (§3 allocation strategy).
func (s *leaseStore) Allocate(now time.Time, mac string) (net.IP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res, ok := s.reservations[mac]; ok {
		if s.subnet != nil && !s.subnet.Contains(res.IP) {
			return nil, errors.Errorf(errors.KindValidation, "reserved IP %s is not in subnet %s", res.IP, s.subnet)
		}
		return res.IP, nil
	}

	if ip, ok := s.leases[mac]; ok {
		if s.subnet == nil || s.subnet.Contains(ip) {
			s.expiry[mac] = now.Add(s.leaseTime)
			return ip, nil
		}
		delete(s.leases, mac)
		delete(s.takenIPs, ip.String())
	}

	for ip := cloneIP(s.rangeStart); !ip.Equal(s.rangeEnd); ip = incIP(ip) {
		if s.subnet != nil && !s.subnet.Contains(ip) {
			continue
		}
		if _, reserved := reservedIP(s.reservations, ip); reserved {
			continue
		}
		if _, taken := s.takenIPs[ip.String()]; taken {
			continue
		}
		s.leases[mac] = ip
		s.takenIPs[ip.String()] = mac
		s.expiry[mac] = now.Add(s.leaseTime)
		return ip, nil
	}

	if s.subnet == nil || s.subnet.Contains(s.rangeEnd) {
		if _, reserved := reservedIP(s.reservations, s.rangeEnd); !reserved {
			if _, taken := s.takenIPs[s.rangeEnd.String()]; !taken {
				ip := cloneIP(s.rangeEnd)
				s.leases[mac] = ip
				s.takenIPs[ip.String()] = mac
				s.expiry[mac] = now.Add(s.leaseTime)
				return ip, nil
			}
		}
	}

	return nil, errors.Errorf(errors.KindInternal, "no addresses available in pool %s-%s", s.rangeStart, s.rangeEnd)
}

// Release drops mac's dynamic lease, if any. Static reservations are
// never released since they aren't pool-backed.
func (s *leaseStore) Release(mac string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ip, ok := s.leases[mac]; ok {
		delete(s.takenIPs, ip.String())
		delete(s.leases, mac)
		delete(s.expiry, mac)
	}
}

// Expired returns (and releases) every dynamic lease whose expiry is
// at or before now.
func (s *leaseStore) Expired(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var macs []string
	for mac, exp := range s.expiry {
		if !exp.After(now) {
			macs = append(macs, mac)
		}
	}
	for _, mac := range macs {
		if ip, ok := s.leases[mac]; ok {
			delete(s.takenIPs, ip.String())
		}
		delete(s.leases, mac)
		delete(s.expiry, mac)
	}
	return macs
}

func reservedIP(reservations map[string]Reservation, ip net.IP) (string, bool) {
	for mac, res := range reservations {
		if res.IP.Equal(ip) {
			return mac, true
		}
	}
	return "", false
}

func cloneIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}

func incIP(ip net.IP) net.IP {
	out := cloneIP(ip)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] > 0 {
			break
		}
	}
	return out
}
