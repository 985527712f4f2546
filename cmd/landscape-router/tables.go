// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"unsafe"

	"github.com/cilium/ebpf"
	"golang.org/x/sys/unix"

	"landscape.router/core/internal/ebpf/maps"
	"landscape.router/core/internal/ebpf/types"
)

// initTables pins every flat kernel table the daemon's controllers write
// through directly. *maps.Table already implements Add/Del/Lookup, so no
// adapter type is needed: the returned tables are handed straight to
// flowengine.New, routectl.New, staticnat.New and dnspolicy.New.
type kernelTables struct {
	flowMatch *maps.Table
	routeLan  *maps.Table
	routeWan  *maps.Table
	staticNat *maps.Table
	ipMacV4   *maps.Table
	verdictDNS *maps.Table
}

func initTables(facade *maps.Manager) (*kernelTables, error) {
	flowMatch, err := facade.Init(maps.TableFlowMatch, &ebpf.MapSpec{
		Name:       "flow_match",
		Type:       ebpf.Hash,
		KeySize:    uint32(unsafe.Sizeof(types.FlowMatchKey{})),
		ValueSize:  uint32(unsafe.Sizeof(types.FlowMatchValue{})),
		MaxEntries: 4096,
	})
	if err != nil {
		return nil, err
	}

	routeLan, err := facade.Init(maps.TableRouteLan, &ebpf.MapSpec{
		Name:       "route_lan",
		Type:       ebpf.LPMTrie,
		KeySize:    uint32(unsafe.Sizeof(types.LanRouteKey{})),
		ValueSize:  uint32(unsafe.Sizeof(types.LanRouteValue{})),
		MaxEntries: 4096,
		Flags:      unix.BPF_F_NO_PREALLOC,
	})
	if err != nil {
		return nil, err
	}

	routeWan, err := facade.Init(maps.TableRouteWan, &ebpf.MapSpec{
		Name:       "route_wan",
		Type:       ebpf.Hash,
		KeySize:    uint32(unsafe.Sizeof(types.WanRouteKey{})),
		ValueSize:  uint32(unsafe.Sizeof(types.WanRouteValue{})),
		MaxEntries: 256,
	})
	if err != nil {
		return nil, err
	}

	staticNat, err := facade.Init(maps.TableStaticNat, &ebpf.MapSpec{
		Name:       "static_nat",
		Type:       ebpf.Hash,
		KeySize:    uint32(unsafe.Sizeof(types.StaticNatKey{})),
		ValueSize:  uint32(unsafe.Sizeof(types.StaticNatValue{})),
		MaxEntries: 4096,
	})
	if err != nil {
		return nil, err
	}

	ipMacV4, err := facade.Init(maps.TableIPMacV4, &ebpf.MapSpec{
		Name:       "ip_mac_v4",
		Type:       ebpf.Hash,
		KeySize:    uint32(unsafe.Sizeof(types.IpMacKey{})),
		ValueSize:  uint32(unsafe.Sizeof(types.IpMacValue{})),
		MaxEntries: 4096,
	})
	if err != nil {
		return nil, err
	}

	verdictDNS, err := facade.Init(maps.TableVerdictDNS, &ebpf.MapSpec{
		Name:       "verdict_dns",
		Type:       ebpf.Hash,
		KeySize:    uint32(unsafe.Sizeof(types.VerdictDnsKey{})),
		ValueSize:  uint32(unsafe.Sizeof(types.VerdictDnsValue{})),
		MaxEntries: 16384,
	})
	if err != nil {
		return nil, err
	}

	return &kernelTables{
		flowMatch:  flowMatch,
		routeLan:   routeLan,
		routeWan:   routeWan,
		staticNat:  staticNat,
		ipMacV4:    ipMacV4,
		verdictDNS: verdictDNS,
	}, nil
}

// initVerdictIPOuter pins the flow-verdict-ip nested table (§4.1): an
// outer hash-of-maps keyed by flow-id, whose inner LPM trie maps
// wanipctl.mapsTable swaps wholesale on every compile via ReplaceInner.
func initVerdictIPOuter(facade *maps.Manager) error {
	_, err := facade.Init(maps.TableVerdictIP, &ebpf.MapSpec{
		Name:       "verdict_ip",
		Type:       ebpf.HashOfMaps,
		KeySize:    1,
		ValueSize:  4,
		MaxEntries: 256,
		InnerMap: &ebpf.MapSpec{
			Name:       "verdict_ip_inner",
			Type:       ebpf.LPMTrie,
			KeySize:    uint32(unsafe.Sizeof(types.VerdictIpKey{})),
			ValueSize:  uint32(unsafe.Sizeof(types.VerdictIpValue{})),
			MaxEntries: 4096,
			Flags:      unix.BPF_F_NO_PREALLOC,
		},
	})
	return err
}
