// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ipmac is the IpMacBinding controller (§4.1): it validates
// that a binding's address falls within the DHCP range configured for
// its interface, then installs or removes the corresponding entry in
// the ip-mac-v4/ip-mac-v6 static-binding table.
package ipmac

import (
	"net"
	"sort"
	"time"

	"landscape.router/core/internal/ebpf/types"
	"landscape.router/core/internal/errors"
	"landscape.router/core/internal/logging"
)

// IpMacBinding is one static address-to-MAC pairing (§4.1): {id,
// iface-name, ipv4, mac, expire?}.
type IpMacBinding struct {
	ID     string
	Iface  string
	IPv4   net.IP
	MAC    [6]byte
	IsV6   bool
	Expire *time.Time
}

// EntityID identifies this binding for the Config/Store repository.
func (b IpMacBinding) EntityID() string { return b.ID }

// RangeCheck reports whether addr lies within the DHCP range configured
// for iface, the seam the controller consults to enforce the
// IpMacBinding invariant without owning DHCP range config itself.
type RangeCheck interface {
	InRange(iface string, addr net.IP) bool
}

// Table is the kernel-table writer the controller targets, the same
// narrow Add/Del seam internal/staticnat and internal/routectl use.
type Table interface {
	Add(key, value any)
	Del(key any)
}

// Controller validates and installs the full IpMacBinding set into v4
// and v6 tables, keyed by compiled entry so a changed binding's stale
// entry is removed before the new one lands.
type Controller struct {
	v4    Table
	v6    Table
	check RangeCheck

	installedV4 map[types.IpMacKey]types.IpMacValue
	installedV6 map[types.IpMacKey]types.IpMacValue
}

// New constructs a Controller writing v4-family bindings through v4,
// v6-family bindings through v6, and validating range membership
// through check.
func New(v4, v6 Table, check RangeCheck) *Controller {
	return &Controller{
		v4:          v4,
		v6:          v6,
		check:       check,
		installedV4: make(map[types.IpMacKey]types.IpMacValue),
		installedV6: make(map[types.IpMacKey]types.IpMacValue),
	}
}

// Reconcile installs every binding whose address falls within its
// interface's DHCP range, refusing (and logging a warning for) any
// that doesn't, per the IpMacBinding invariant in §4.1. Returns the
// first validation error encountered, if any, after still reconciling
// every valid binding.
func (c *Controller) Reconcile(bindings []IpMacBinding) error {
	var firstErr error

	wantedV4 := make(map[types.IpMacKey]types.IpMacValue)
	wantedV6 := make(map[types.IpMacKey]types.IpMacValue)

	sorted := make([]IpMacBinding, len(bindings))
	copy(sorted, bindings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, b := range sorted {
		if c.check != nil && !c.check.InRange(b.Iface, b.IPv4) {
			err := errors.Errorf(errors.KindValidation, "ip-mac binding %s: %s not in DHCP range for %s", b.ID, b.IPv4, b.Iface)
			if firstErr == nil {
				firstErr = err
			}
			logging.Warn("ipmac: %v", err)
			continue
		}
		key := types.IpMacKey{Addr: types.AddrFromIP(b.IPv4)}
		val := types.IpMacValue{MAC: b.MAC}
		if b.IsV6 {
			wantedV6[key] = val
		} else {
			wantedV4[key] = val
		}
	}

	reconcileFamily(c.v4, c.installedV4, wantedV4)
	reconcileFamily(c.v6, c.installedV6, wantedV6)
	c.installedV4 = wantedV4
	c.installedV6 = wantedV6

	return firstErr
}

func reconcileFamily(table Table, installed, wanted map[types.IpMacKey]types.IpMacValue) {
	for k := range installed {
		if _, ok := wanted[k]; !ok {
			k := k
			table.Del(&k)
		}
	}
	for k, v := range wanted {
		if existing, ok := installed[k]; !ok || existing != v {
			k, v := k, v
			table.Add(&k, &v)
		}
	}
}
