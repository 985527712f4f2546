// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package types defines the wire layout of every key/value pair stored in
// the pinned per-CPU lookup tables the datapath consults (§4.1 of the
// Traffic Policy Core spec). Addresses are byte arrays in network order;
// multi-byte integer fields are marshalled by cilium/ebpf in host byte
// order, and the facade in internal/ebpf/maps performs no byte-order
// conversion.
package types

import (
	"encoding/binary"
	"fmt"
	"net"
)

// L3Proto discriminates the address family stored in an Addr16.
type L3Proto uint8

const (
	L3ProtoV4 L3Proto = 4
	L3ProtoV6 L3Proto = 6
)

// Addr16 is the union-like 16-byte IP field the facade uses for both v4
// and v6 addresses, with L3Proto as the explicit discriminator (§4.1).
type Addr16 struct {
	Proto L3Proto
	Bytes [16]byte
}

// AddrFromIP builds an Addr16 from a net.IP, detecting the family.
func AddrFromIP(ip net.IP) Addr16 {
	var a Addr16
	if v4 := ip.To4(); v4 != nil {
		a.Proto = L3ProtoV4
		copy(a.Bytes[:4], v4)
		return a
	}
	a.Proto = L3ProtoV6
	copy(a.Bytes[:16], ip.To16())
	return a
}

// IP returns the net.IP this Addr16 represents.
func (a Addr16) IP() net.IP {
	if a.Proto == L3ProtoV4 {
		return net.IP(a.Bytes[:4])
	}
	return net.IP(a.Bytes[:16])
}

func (a Addr16) String() string { return a.IP().String() }

// FlowMark is the canonical packet-mark action (§9 open question:
// FlowMark supersedes the legacy PacketMark u32 enum, which is not
// reimplemented here). The encoding matches the original's bit layout:
// action in bits 8-15, flow-id in the low byte (bits 0-7) of a uint32.
type FlowMark struct {
	Action FlowMarkAction
	FlowID uint8
}

type FlowMarkAction uint8

const (
	FlowKeepGoing FlowMarkAction = iota
	FlowDirect
	FlowDrop
	FlowRedirect
	FlowAllowReusePort
)

const (
	flowActionMask = 0x0000FF00
	flowIDMask     = 0x000000FF
)

// NeedsInsert reports whether this mark must be installed in the
// verdict table at all; KeepGoing is the table's implicit zero value.
func (m FlowMark) NeedsInsert() bool { return m.Action != FlowKeepGoing }

// Encode packs the mark into the uint32 wire form the eBPF datapath reads.
func (m FlowMark) Encode() uint32 {
	return uint32(m.Action)<<8 | uint32(m.FlowID)
}

// DecodeFlowMark unpacks the uint32 wire form into a FlowMark.
func DecodeFlowMark(v uint32) FlowMark {
	return FlowMark{
		Action: FlowMarkAction((v & flowActionMask) >> 8),
		FlowID: uint8(v & flowIDMask),
	}
}

// FlowMatchKey is the key of the `flow-match` table (§4.6): encodes
// (vlan-id, qos, l4-proto, l3-proto, src-addr), where src-addr holds
// either an IP (kind=ip) or a MAC placed in the IP slot (kind=mac).
type FlowMatchKey struct {
	VlanID   uint16
	QoS      uint8
	L4Proto  uint8
	L3Proto  L3Proto
	PrefixLen uint8 // significant bits of Addr, 32/128 for exact, MAC uses 48
	IsMAC    bool
	Addr     Addr16
	MAC      [6]byte
}

// FlowMatchValue is the value stored for a flow-match key: the flow-id the
// packet is classified into.
type FlowMatchValue struct {
	FlowID uint8
}

// VerdictDnsKey is the key of the `flow-verdict-dns` table: an answer IP
// installed by the DNS policy engine (§4.5 step 4). The key carries no
// flow-id; every flow's marks share one table keyed by answer address.
type VerdictDnsKey struct {
	Addr Addr16
}

// VerdictDnsValue carries the mark and the priority (rule index) that
// installed it, so a higher-priority rule's mark is never silently
// clobbered by a lower-priority one racing on the same answer IP.
type VerdictDnsValue struct {
	Mark     FlowMark
	Priority uint32
}

// VerdictIpKey is an LPM-style key for the per-flow `flow-verdict-ip[flow]`
// table populated from WanIpRule CIDR sources (§3, §4.1).
type VerdictIpKey struct {
	PrefixLen uint8
	Addr      Addr16
}

// VerdictIpValue is the (mark, override-dns) pair a WanIpRule compiles to.
type VerdictIpValue struct {
	Mark         FlowMark
	OverrideDNS  bool
}

// LanRouteKey/-Value implement the LAN-reachability table (§4.7): for a
// locally-attached prefix, how the datapath resolves egress.
type LanRouteKey struct {
	PrefixLen uint8
	Addr      Addr16
}

type LanRouteValue struct {
	Ifindex uint32
	MAC     [6]byte
}

// WanRouteKey/-Value implement the per-flow WAN-target table (§4.7); an
// ECMP set is multiple values sharing the same key.
type WanRouteKey struct {
	FlowID uint8
}

type WanRouteValue struct {
	Ifindex   uint32
	Gateway   Addr16
	Weight    uint32
	HasMAC    bool
	MAC       [6]byte
	IsDocker  bool
	IfaceName string
	IfaceIP   Addr16
}

// StaticNatDirection discriminates the two entries a StaticNatMapping
// compiles to (§4.11).
type StaticNatDirection uint8

const (
	NatIngress StaticNatDirection = iota
	NatEgress
)

// StaticNatKey is the key of the `static-nat-mappings` table.
type StaticNatKey struct {
	Direction StaticNatDirection
	L4Proto   uint8
	// Ingress: WanPort is significant, LanIP/LanPort are zero.
	// Egress: LanIP/LanPort are significant (LanIP may be the unspecified
	// address, meaning "match any source").
	WanPort uint16
	LanIP   Addr16
	LanPort uint16
}

// StaticNatValue is the translated endpoint.
type StaticNatValue struct {
	// Ingress: target (lan-ip, lan-port). Egress: target wan-port.
	LanIP   Addr16
	LanPort uint16
	WanPort uint16
}

// IpMacKey/-Value implement the `ip-mac[v4|v6]` static-binding tables.
type IpMacKey struct {
	Addr Addr16
}

type IpMacValue struct {
	MAC [6]byte
}

// ConnectKey is the stable identity of a tracked connection (§3, §4.10).
type ConnectKey struct {
	CreateTimeNanos uint64
	CPUID           uint16
	SrcIP           Addr16
	DstIP           Addr16
	SrcPort         uint16
	DstPort         uint16
	L4Proto         uint8
	L3Proto         L3Proto
	FlowID          uint8
	TraceID         uint64
}

func (k ConnectKey) String() string {
	return fmt.Sprintf("%s:%d->%s:%d/%d flow=%d", k.SrcIP, k.SrcPort, k.DstIP, k.DstPort, k.L4Proto, k.FlowID)
}

// ConnectMetric is a single ringbuffer record for one of
// {firewall-event, firewall-metric, nat-metric} (§4.10).
type ConnectMetric struct {
	Key          ConnectKey
	IngressBytes uint64
	EgressBytes  uint64
	IngressPkts  uint64
	EgressPkts   uint64
	ObservedAt   uint64 // unix nanos, set by the datapath
	Teardown     bool
}

// EncodeUint32 / DecodeUint32 are small big-endian helpers for a table
// whose native key/value are raw uint32s (e.g. counter arrays) rather
// than one of the structs above.
func EncodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func DecodeUint32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}
