// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package routectl is the Route table controller (§4.7): it maintains
// the LAN-reachability and per-flow WAN-target kernel tables, and
// synthesizes the single `ip route replace default` (or `ip route del
// default`) command the active WAN-target set implies.
package routectl

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gaissmai/bart"
	"github.com/vishvananda/netlink"

	"landscape.router/core/internal/ebpf/types"
	"landscape.router/core/internal/errors"
	"landscape.router/core/internal/logging"
)

// LanEntry is one locally-attached prefix the datapath should resolve
// directly, rather than forwarding to a WAN target (§4.7).
type LanEntry struct {
	Prefix  netipPrefix
	Ifindex uint32
	MAC     [6]byte
}

// WanTarget is one nexthop in a flow's ECMP set (§4.7).
type WanTarget struct {
	FlowID    uint8
	Ifindex   int
	Gateway   types.Addr16
	Weight    int
	HasMAC    bool
	MAC       [6]byte
	IsDocker  bool
	IfaceName string
	IfaceIP   types.Addr16
	IsPPP     bool // PPP nexthops omit `via`, specify only dev/weight
	IsV6      bool
}

// Table is the kernel-table writer the controller targets: the subset
// of *maps.Table it needs for LAN reachability and WAN-target writes,
// kept as an interface for unit-testability without a kernel, the same
// seam used in internal/flowengine and internal/dnspolicy.
type Table interface {
	Add(key, value any)
	Del(key any)
}

// RouteApplier issues the synthesized default-route command. The real
// implementation wraps netlink.RouteReplace/RouteDel; tests substitute
// a recording fake.
type RouteApplier interface {
	ReplaceDefault(v6 bool, nexthops []Nexthop) error
	DeleteDefault(v6 bool) error
}

// Nexthop is one leg of an ECMP default route.
type Nexthop struct {
	Ifindex int
	Gateway types.Addr16 // zero value for PPP nexthops (no `via`)
	Weight  int
	IsPPP   bool
}

// Controller owns the LAN-reachability LPM table, the current per-flow
// WAN-target set, and drives the default-route synthesiser whenever
// that set changes.
type Controller struct {
	lan  Table
	wan  Table
	apply RouteApplier

	mu      sync.Mutex
	lpm4    *bart.Table[LanEntry]
	lpm6    *bart.Table[LanEntry]
	lanKeys map[types.LanRouteKey]struct{} // LAN keys currently installed
	targets map[uint8][]WanTarget // current WAN-target set, by flow-id
}

// New constructs a Controller writing LAN-reachability entries through
// lan, WAN-target entries through wan, and issuing default-route
// changes through apply.
func New(lan, wan Table, apply RouteApplier) *Controller {
	return &Controller{
		lan:     lan,
		wan:     wan,
		apply:   apply,
		lpm4:    new(bart.Table[LanEntry]),
		lpm6:    new(bart.Table[LanEntry]),
		targets: make(map[uint8][]WanTarget),
	}
}

// SetLanEntries replaces the full LAN-reachability set.
func (c *Controller) SetLanEntries(entries []LanEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wanted := make(map[types.LanRouteKey]struct{}, len(entries))
	for _, e := range entries {
		wanted[types.LanRouteKey{PrefixLen: e.Prefix.bits, Addr: e.Prefix.addr}] = struct{}{}
	}
	for k := range c.lanKeys {
		if _, ok := wanted[k]; !ok {
			k := k
			c.lan.Del(&k)
		}
	}
	c.lanKeys = wanted

	c.lpm4 = new(bart.Table[LanEntry])
	c.lpm6 = new(bart.Table[LanEntry])
	for _, e := range entries {
		key := types.LanRouteKey{PrefixLen: e.Prefix.bits, Addr: e.Prefix.addr}
		val := types.LanRouteValue{Ifindex: e.Ifindex, MAC: e.MAC}
		c.lan.Add(&key, &val)
		if e.Prefix.addr.Proto == types.L3ProtoV4 {
			c.lpm4.Insert(e.Prefix.netipPrefix(), e)
		} else {
			c.lpm6.Insert(e.Prefix.netipPrefix(), e)
		}
	}
}

// ResolveLan returns the LAN-reachability entry covering ip, if any
// (longest-prefix match).
func (c *Controller) ResolveLan(ip types.Addr16) (LanEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lpm := c.lpm4
	if ip.Proto == types.L3ProtoV6 {
		lpm = c.lpm6
	}
	return lpm.Lookup(addrToNetip(ip))
}

// SetFlowTargets replaces flowID's ECMP WAN-target set and, if the set
// actually changed, recomputes and reissues the default route for that
// address family (§4.7: "on every change to the set of active routes").
func (c *Controller) SetFlowTargets(flowID uint8, targets []WanTarget) error {
	c.mu.Lock()
	prev := c.targets[flowID]
	if equalTargets(prev, targets) {
		c.mu.Unlock()
		return nil
	}

	key := types.WanRouteKey{FlowID: flowID}
	c.wan.Del(&key)
	for _, t := range targets {
		val := types.WanRouteValue{
			Ifindex: uint32(t.Ifindex), Gateway: t.Gateway, Weight: uint32(t.Weight),
			HasMAC: t.HasMAC, MAC: t.MAC, IsDocker: t.IsDocker,
			IfaceName: t.IfaceName, IfaceIP: t.IfaceIP,
		}
		c.wan.Add(&key, &val)
	}
	if len(targets) == 0 {
		delete(c.targets, flowID)
	} else {
		c.targets[flowID] = targets
	}
	all := c.flattenLocked()
	c.mu.Unlock()

	return c.resynthesize(all)
}

func (c *Controller) flattenLocked() []WanTarget {
	var all []WanTarget
	for _, ts := range c.targets {
		all = append(all, ts...)
	}
	return all
}

// resynthesize regenerates the default route for each address family
// independently: v4 nexthops feed one `ip route replace default`, v6
// feeds another, and an empty set issues the delete (§4.7).
func (c *Controller) resynthesize(all []WanTarget) error {
	var v4, v6 []Nexthop
	for _, t := range all {
		nh := Nexthop{Ifindex: t.Ifindex, Weight: t.Weight, IsPPP: t.IsPPP}
		if !t.IsPPP {
			nh.Gateway = t.Gateway
		}
		if t.IsV6 {
			v6 = append(v6, nh)
		} else {
			v4 = append(v4, nh)
		}
	}
	sortNexthops(v4)
	sortNexthops(v6)

	if err := c.applyFamily(false, v4); err != nil {
		return err
	}
	return c.applyFamily(true, v6)
}

func (c *Controller) applyFamily(v6 bool, nexthops []Nexthop) error {
	if c.apply == nil {
		return nil
	}
	if len(nexthops) == 0 {
		if err := c.apply.DeleteDefault(v6); err != nil {
			return errors.Wrapf(err, errors.KindDatapathAttach, "delete default route (v6=%v)", v6)
		}
		return nil
	}
	if err := c.apply.ReplaceDefault(v6, nexthops); err != nil {
		return errors.Wrapf(err, errors.KindDatapathAttach, "replace default route (v6=%v)", v6)
	}
	return nil
}

func sortNexthops(nh []Nexthop) {
	sort.Slice(nh, func(i, j int) bool { return nh[i].Ifindex < nh[j].Ifindex })
}

func equalTargets(a, b []WanTarget) bool {
	if len(a) != len(b) {
		return false
	}
	sa, sb := append([]WanTarget(nil), a...), append([]WanTarget(nil), b...)
	less := func(s []WanTarget) func(i, j int) bool {
		return func(i, j int) bool { return s[i].Ifindex < s[j].Ifindex }
	}
	sort.Slice(sa, less(sa))
	sort.Slice(sb, less(sb))
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

// netlinkApplier is the production RouteApplier, issuing changes
// through vishvananda/netlink the same way internal/ifctl's
// netlinkLinker drives link state (§4.7).
type netlinkApplier struct{}

// NewNetlinkApplier returns a RouteApplier backed by the kernel's
// routing table via netlink.
func NewNetlinkApplier() RouteApplier { return netlinkApplier{} }

func (netlinkApplier) ReplaceDefault(v6 bool, nexthops []Nexthop) error {
	family := netlink.FAMILY_V4
	if v6 {
		family = netlink.FAMILY_V6
	}
	route := &netlink.Route{Family: family}
	if len(nexthops) == 1 && !nexthops[0].IsPPP {
		route.LinkIndex = nexthops[0].Ifindex
		route.Gw = nexthops[0].Gateway.IP()
		route.Priority = 0
	} else {
		for _, nh := range nexthops {
			info := &netlink.NexthopInfo{LinkIndex: nh.Ifindex, Weight: nh.Weight}
			if !nh.IsPPP {
				info.Gw = nh.Gateway.IP()
			}
			route.MultiPath = append(route.MultiPath, info)
		}
	}
	if err := netlink.RouteReplace(route); err != nil {
		return fmt.Errorf("netlink route replace: %w", err)
	}
	logging.Info("default route replaced v6=%v nexthops=%d", v6, len(nexthops))
	return nil
}

func (netlinkApplier) DeleteDefault(v6 bool) error {
	family := netlink.FAMILY_V4
	if v6 {
		family = netlink.FAMILY_V6
	}
	if err := netlink.RouteDel(&netlink.Route{Family: family}); err != nil {
		return fmt.Errorf("netlink route del: %w", err)
	}
	logging.Info("default route deleted v6=%v", v6)
	return nil
}
