// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package wanipctl is the DstIpRule controller (§4.9): it compiles each
// flow's WanIpRule set into a longest-prefix-match table of CIDR ->
// (mark, override-dns), recompiling on a rule mutation or on a
// GeoUpdated event a referenced geo-key depends on (§4.1's
// flow-verdict-ip[flow] nested table).
package wanipctl

import (
	"context"
	"net/netip"
	"sort"
	"strings"
	"sync"

	"landscape.router/core/internal/errors"
	"landscape.router/core/internal/eventbus"
	"landscape.router/core/internal/logging"
)

// Verdict is the value a matched CIDR resolves to.
type Verdict struct {
	Mark        uint32
	OverrideDNS bool
}

// WanIpRule is one per-flow destination-IP rule (§4.1): source entries
// are either a literal CIDR or a "source:country" geo-key resolved
// through GeoLookup.
type WanIpRule struct {
	ID          string
	FlowID      uint8
	Enable      bool
	Index       int
	Mark        uint32
	OverrideDNS bool
	Source      []string
}

// EntityID identifies this rule for the Config/Store repository layer.
func (r WanIpRule) EntityID() string { return r.ID }

// GeoLookup resolves a geo-key's CIDR list, the seam over internal/geo's
// Cache so the compiler is testable without a live geo cache.
type GeoLookup interface {
	CIDRs(source, country string) ([]string, bool)
}

// Table is the per-flow nested LPM table the controller installs into,
// the seam over *maps.Table's ReplaceInner, kept narrow the way
// internal/flowengine/internal/routectl/internal/staticnat each define
// their own Table seam over the same facade.
type Table interface {
	ReplaceInner(flowID uint8, entries map[netip.Prefix]Verdict) error
}

// Controller owns the full WanIpRule set and recompiles affected flows'
// LPM tables on mutation or on a relevant GeoUpdated event.
type Controller struct {
	table Table
	geo   GeoLookup

	mu    sync.Mutex
	rules map[string]WanIpRule
}

// New constructs a Controller writing compiled tables through table and
// resolving geo-keys through geo.
func New(table Table, geo GeoLookup) *Controller {
	return &Controller{table: table, geo: geo, rules: make(map[string]WanIpRule)}
}

// SetRules replaces the full rule set and recompiles every flow that had
// a rule before the call or has one after it.
func (c *Controller) SetRules(rules []WanIpRule) error {
	c.mu.Lock()
	affected := make(map[uint8]struct{})
	for _, r := range c.rules {
		affected[r.FlowID] = struct{}{}
	}
	c.rules = make(map[string]WanIpRule, len(rules))
	for _, r := range rules {
		c.rules[r.ID] = r
		affected[r.FlowID] = struct{}{}
	}
	c.mu.Unlock()

	var firstErr error
	for flowID := range affected {
		if err := c.recompile(flowID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OnGeoUpdated recompiles every flow with a rule referencing event's
// (source, country), per §4.9's "on mutation or geo-update, recompute
// per-flow LPM tables".
func (c *Controller) OnGeoUpdated(event eventbus.GeoUpdated) {
	c.mu.Lock()
	affected := make(map[uint8]struct{})
	key := geoKey(event.Source, event.Country)
	for _, r := range c.rules {
		for _, s := range r.Source {
			if strings.EqualFold(s, key) {
				affected[r.FlowID] = struct{}{}
				break
			}
		}
	}
	c.mu.Unlock()

	for flowID := range affected {
		if err := c.recompile(flowID); err != nil {
			logging.Warn("wanipctl: recompile flow %d after geo update failed: %v", flowID, err)
		}
	}
}

// Run subscribes to GeoUpdated on bus and recompiles affected flows
// until ctx is cancelled.
func (c *Controller) Run(ctx context.Context, bus *eventbus.Bus) {
	sub := bus.Subscribe(eventbus.KindGeoUpdated, 32)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if g, ok := evt.(eventbus.GeoUpdated); ok {
				c.OnGeoUpdated(g)
			}
		}
	}
}

func geoKey(source, country string) string {
	return source + ":" + strings.ToUpper(country)
}

func (c *Controller) recompile(flowID uint8) error {
	c.mu.Lock()
	var rules []WanIpRule
	for _, r := range c.rules {
		if r.FlowID == flowID && r.Enable {
			rules = append(rules, r)
		}
	}
	c.mu.Unlock()

	sort.Slice(rules, func(i, j int) bool { return rules[i].Index < rules[j].Index })

	entries := make(map[netip.Prefix]Verdict)
	for _, r := range rules {
		for _, prefix := range c.resolveSource(r.Source) {
			if _, exists := entries[prefix]; exists {
				continue // lower-index rule already claimed this exact CIDR
			}
			entries[prefix] = Verdict{Mark: r.Mark, OverrideDNS: r.OverrideDNS}
		}
	}

	if err := c.table.ReplaceInner(flowID, entries); err != nil {
		return errors.Wrapf(err, errors.KindDatapathAttach, "wanipctl: install flow %d LPM table", flowID)
	}
	return nil
}

func (c *Controller) resolveSource(source []string) []netip.Prefix {
	var prefixes []netip.Prefix
	for _, s := range source {
		if p, err := netip.ParsePrefix(s); err == nil {
			prefixes = append(prefixes, p)
			continue
		}

		src, country, ok := strings.Cut(s, ":")
		if !ok || c.geo == nil {
			logging.Warn("wanipctl: source %q is neither a CIDR nor a source:country geo-key", s)
			continue
		}
		cidrs, ok := c.geo.CIDRs(src, country)
		if !ok {
			continue
		}
		for _, cidr := range cidrs {
			p, err := netip.ParsePrefix(cidr)
			if err != nil {
				continue
			}
			prefixes = append(prefixes, p)
		}
	}
	return prefixes
}
