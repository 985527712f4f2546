// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"context"
	"net"

	"landscape.router/core/internal/dnsmatch"
	"landscape.router/core/internal/dnspolicy"
	"landscape.router/core/internal/dnsresolve"
	"landscape.router/core/internal/eventbus"
)

// DNSRule is one persisted DNS matching rule (§4.9's "DNSRule
// controller"): either a redirect entry (ResultIPs, possibly empty for
// an intentional NXDOMAIN) or a resolution rule (ResolverID/Filter/
// Mark/Priority), scoped to one flow.
type DNSRule struct {
	ID         string             `json:"id"`
	FlowID     uint8              `json:"flow_id"`
	IsRedirect bool               `json:"is_redirect"`
	Kind       dnsmatch.Kind      `json:"kind"`
	Pattern    string             `json:"pattern"`
	ResultIPs  []string           `json:"result_ips,omitempty"`
	Handler    dnspolicy.RuleHandlerInfo `json:"handler,omitempty"`
}

func (r DNSRule) EntityID() string { return r.ID }

// NewDNSRuleController wires the canonical DNSRule effect hook (§4.9):
// on any change affecting flow F, recompute that flow's matcher +
// resolver table against the engine and publish a FlowEvent for F on
// the KindFlow topic so dependents observe the change. No DnsEvent is
// published for a rule change.
func NewDNSRuleController(repo *Repository[DNSRule], engine *dnspolicy.Engine, resolvers map[string]*dnsresolve.Resolver, bus *eventbus.Bus) *Controller[DNSRule] {
	var ctrl *Controller[DNSRule]
	hook := func(ctx context.Context, updated, previous *DNSRule) {
		flowID := affectedFlow(updated, previous)
		rebuildFlowPolicy(ctx, ctrl, engine, resolvers, flowID)
		if bus != nil {
			bus.Publish(eventbus.KindFlow, eventbus.FlowEvent{FlowID: flowID})
		}
	}
	ctrl = NewController(repo, hook)
	return ctrl
}

func affectedFlow(updated, previous *DNSRule) uint8 {
	if updated != nil {
		return updated.FlowID
	}
	if previous != nil {
		return previous.FlowID
	}
	return 0
}

// rebuildFlowPolicy recomputes flow F's full matcher/resolver table
// from the current full rule set, since dnsmatch matchers are built
// once and are immutable (no incremental insert).
func rebuildFlowPolicy(ctx context.Context, ctrl *Controller[DNSRule], engine *dnspolicy.Engine, resolvers map[string]*dnsresolve.Resolver, flowID uint8) {
	all, err := ctrl.List(ctx)
	if err != nil {
		return
	}

	var redirectEntries []dnsmatch.Entry[dnspolicy.RedirectInfo]
	var ruleEntries []dnsmatch.Entry[dnspolicy.RuleHandlerInfo]
	for _, r := range all {
		if r.FlowID != flowID {
			continue
		}
		if r.IsRedirect {
			redirectEntries = append(redirectEntries, dnsmatch.Entry[dnspolicy.RedirectInfo]{
				Kind: r.Kind, Pattern: r.Pattern, Value: dnspolicy.RedirectInfo{ResultIPs: parseIPs(r.ResultIPs)},
			})
			continue
		}
		ruleEntries = append(ruleEntries, dnsmatch.Entry[dnspolicy.RuleHandlerInfo]{
			Kind: r.Kind, Pattern: r.Pattern, Value: r.Handler,
		})
	}

	redirect, err := dnsmatch.Build(redirectEntries)
	if err != nil {
		return
	}
	rules, err := dnsmatch.Build(ruleEntries)
	if err != nil {
		return
	}

	policy, had := engine.Policy(flowID)
	defaultHandler := dnspolicy.RuleHandlerInfo{}
	if had {
		defaultHandler = policy.Default
	}
	engine.SetPolicy(&dnspolicy.FlowPolicy{
		FlowID: flowID, Redirect: redirect, Rules: rules, Default: defaultHandler, Resolvers: resolvers,
	})
}

func parseIPs(ss []string) []net.IP {
	out := make([]net.IP, 0, len(ss))
	for _, s := range ss {
		if ip := net.ParseIP(s); ip != nil {
			out = append(out, ip)
		}
	}
	return out
}


