// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package flowengine is the Flow engine (§4.6): it diffs the configured
// FlowConfig set against the previously-installed flow-match rules and
// emits the add/remove batch the kernel-table facade applies, then
// triggers the route-cache[lan] recreation the facade's cache-
// invalidation rule requires.
package flowengine

import (
	"fmt"

	"landscape.router/core/internal/ebpf/types"
)

// MatchKind discriminates whether FlowConfig.SrcAddr holds an IP or a MAC.
type MatchKind int

const (
	MatchIP MatchKind = iota
	MatchMAC
)

// FlowConfig is one flow's classification rule (§3, §4.6).
type FlowConfig struct {
	FlowID    uint8
	VlanID    uint16
	QoS       uint8
	L4Proto   uint8
	L3Proto   types.L3Proto
	Kind      MatchKind
	SrcAddr   types.Addr16
	SrcMAC    [6]byte
	PrefixLen uint8
}

// EntityID identifies this FlowConfig for the Config/Store repository
// layer (§4.9): the flow-id is the stable key a Flow config entry is
// addressed by.
func (c FlowConfig) EntityID() string {
	return fmt.Sprintf("%d", c.FlowID)
}

func (c FlowConfig) key() types.FlowMatchKey {
	k := types.FlowMatchKey{
		VlanID:    c.VlanID,
		QoS:       c.QoS,
		L4Proto:   c.L4Proto,
		L3Proto:   c.L3Proto,
		PrefixLen: c.PrefixLen,
	}
	if c.Kind == MatchMAC {
		k.IsMAC = true
		k.MAC = c.SrcMAC
	} else {
		k.Addr = c.SrcAddr
	}
	return k
}

// FlowTable is the kernel-table writer the engine targets: the subset of
// *maps.Table/Manager it needs, kept as an interface so the diff logic
// is testable without a kernel.
type FlowTable interface {
	Add(key, value any)
	Del(key any)
}

// RouteCacheInvalidator is invoked after every diff application (§4.6:
// "after any change, route-cache[lan] is recreated").
type RouteCacheInvalidator interface {
	InvalidateRouteCache(lan, wan bool)
}

// Engine tracks the currently-installed flow-match set so it can compute
// an incremental diff on the next Reconcile call.
type Engine struct {
	table     FlowTable
	cache     RouteCacheInvalidator
	installed map[types.FlowMatchKey]uint8
}

// New constructs an Engine writing through table, invalidating caches
// through cache.
func New(table FlowTable, cache RouteCacheInvalidator) *Engine {
	return &Engine{table: table, cache: cache, installed: make(map[types.FlowMatchKey]uint8)}
}

// Diff is the (adds, removes) result of comparing desired against the
// engine's currently-installed set, exposed for inspection/testing.
type Diff struct {
	Adds    []FlowConfig
	Removes []types.FlowMatchKey
}

// Reconcile computes the diff between desired and the previously
// installed set, applies it to the flow-match table, and recreates
// route-cache[lan] if anything changed (§4.6).
func (e *Engine) Reconcile(desired []FlowConfig) Diff {
	wanted := make(map[types.FlowMatchKey]FlowConfig, len(desired))
	for _, c := range desired {
		if c.FlowID == 0 {
			continue // flow-id 0 needs no flow-match entry
		}
		wanted[c.key()] = c
	}

	var diff Diff
	for k, c := range wanted {
		if existing, ok := e.installed[k]; !ok || existing != c.FlowID {
			diff.Adds = append(diff.Adds, c)
		}
	}
	for k := range e.installed {
		if _, ok := wanted[k]; !ok {
			diff.Removes = append(diff.Removes, k)
		}
	}

	if len(diff.Adds) == 0 && len(diff.Removes) == 0 {
		return diff
	}

	for _, k := range diff.Removes {
		e.table.Del(&k)
		delete(e.installed, k)
	}
	for _, c := range diff.Adds {
		k := c.key()
		v := types.FlowMatchValue{FlowID: c.FlowID}
		e.table.Add(&k, &v)
		e.installed[k] = c.FlowID
	}

	if e.cache != nil {
		e.cache.InvalidateRouteCache(true, false)
	}

	return diff
}
