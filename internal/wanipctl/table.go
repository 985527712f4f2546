// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package wanipctl

import (
	"net"
	"net/netip"
	"unsafe"

	"github.com/cilium/ebpf"
	"golang.org/x/sys/unix"

	"landscape.router/core/internal/ebpf/maps"
	"landscape.router/core/internal/ebpf/types"
	"landscape.router/core/internal/errors"
)

const maxVerdictIPEntries = 4096

var (
	verdictIPKeySize   = uint32(unsafe.Sizeof(types.VerdictIpKey{}))
	verdictIPValueSize = uint32(unsafe.Sizeof(types.VerdictIpValue{}))
)

// mapsTable adapts *maps.Manager's flow-verdict-ip nested table to Table,
// building a fresh LPM trie inner map per compile and swapping it in via
// ReplaceInner.
type mapsTable struct {
	manager *maps.Manager
}

// NewMapsTable returns the production Table, backed by the
// flow-verdict-ip nested map (§4.1).
func NewMapsTable(manager *maps.Manager) Table {
	return mapsTable{manager: manager}
}

func (t mapsTable) ReplaceInner(flowID uint8, entries map[netip.Prefix]Verdict) error {
	outer, ok := t.manager.Get(maps.TableVerdictIP)
	if !ok {
		return errors.Errorf(errors.KindDatapathAttach, "wanipctl: flow-verdict-ip table not initialized")
	}

	spec := &ebpf.MapSpec{
		Name:       "flow_verdict_ip",
		Type:       ebpf.LPMTrie,
		KeySize:    verdictIPKeySize,
		ValueSize:  verdictIPValueSize,
		MaxEntries: maxVerdictIPEntries,
		Flags:      unix.BPF_F_NO_PREALLOC,
		Contents:   make([]ebpf.MapKV, 0, len(entries)),
	}

	for prefix, verdict := range entries {
		addr := prefix.Addr()
		key := types.VerdictIpKey{
			PrefixLen: uint8(prefix.Bits()),
			Addr:      types.AddrFromIP(net.IP(addr.AsSlice())),
		}
		value := types.VerdictIpValue{Mark: types.DecodeFlowMark(verdict.Mark), OverrideDNS: verdict.OverrideDNS}
		spec.Contents = append(spec.Contents, ebpf.MapKV{Key: &key, Value: &value})
	}

	if _, err := outer.ReplaceInner(flowID, spec); err != nil {
		return errors.Wrapf(err, errors.KindDatapathAttach, "wanipctl: replace inner LPM map for flow %d", flowID)
	}
	t.manager.InvalidateRouteCache(true, false)
	return nil
}
