// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dnspolicy is the DNS policy engine (§4.5): per flow, it chains
// redirect -> resolve -> filter -> mark, then reports the outcome to the
// metric pipeline via the event bus.
package dnspolicy

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"

	"landscape.router/core/internal/dnsmatch"
	"landscape.router/core/internal/dnsresolve"
	"landscape.router/core/internal/ebpf/types"
	"landscape.router/core/internal/errors"
	"landscape.router/core/internal/eventbus"
)

// VerdictStore is the subset of *maps.Table the engine needs to install
// answer-IP marks; an interface here (rather than depending on the
// facade concretely) keeps the engine's decision logic testable without
// a kernel, following the same seam the teacher uses for its netlink and
// firewall dependencies.
type VerdictStore interface {
	Lookup(key, value any) error
	Add(key, value any)
}

// Filter is the rule's answer-set shaping directive (§4.5 step 3).
type Filter int

const (
	FilterNone Filter = iota
	FilterOnlyIPv4
	FilterOnlyIPv6
)

// RedirectInfo is the value attached to a redirect matcher entry: the
// synthesized answer for names that match, or an empty ResultIPs for an
// intentional NXDOMAIN (§4.5 step 1).
type RedirectInfo struct {
	ResultIPs []net.IP
}

// RuleHandlerInfo is the value attached to a resolution-rule matcher
// entry (§4.5 step 2-4).
type RuleHandlerInfo struct {
	ResolverID       string
	Filter           Filter
	Mark             types.FlowMark
	Priority         uint32
	ValidateIP       bool // apply global-routability filtering
}

// FlowPolicy holds everything a single flow's DNS handling needs (§4.5).
type FlowPolicy struct {
	FlowID    uint8
	Redirect  *dnsmatch.DomainMatcher[RedirectInfo]
	Rules     *dnsmatch.DomainMatcher[RuleHandlerInfo]
	Default   RuleHandlerInfo
	Resolvers map[string]*dnsresolve.Resolver
}

// Engine dispatches queries to the correct flow's FlowPolicy. Policies
// can be replaced per flow (§4.5 reconfiguration): queries in flight
// complete against the snapshot of the policy they started with. The
// engine owns no listening socket; callers hand each query to Handle.
type Engine struct {
	verdictDNS VerdictStore
	bus        *eventbus.Bus

	mu       sync.RWMutex
	policies map[uint8]*FlowPolicy
}

// New constructs an Engine. verdictDNS is the flow-verdict-dns table
// (§4.1) this engine installs answer-IP marks into; marks are keyed by
// answer address only, so all flows share its entries.
func New(verdictDNS VerdictStore, bus *eventbus.Bus) *Engine {
	return &Engine{verdictDNS: verdictDNS, bus: bus, policies: make(map[uint8]*FlowPolicy)}
}

// SetPolicy atomically replaces the policy for flow p.FlowID. In-flight
// requests dispatched against the previous policy are unaffected.
func (e *Engine) SetPolicy(p *FlowPolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[p.FlowID] = p
}

// Policy returns the current policy for flowID, if configured.
func (e *Engine) Policy(flowID uint8) (*FlowPolicy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.policies[flowID]
	return p, ok
}

// Handle answers one query for flowID following the five-step contract
// of §4.5.
func (e *Engine) Handle(ctx context.Context, flowID uint8, req *dns.Msg) (*dns.Msg, error) {
	start := time.Now()
	policy, ok := e.Policy(flowID)
	if !ok {
		return servfail(req), errors.Errorf(errors.KindNotFound, "no DNS policy configured for flow %d", flowID)
	}
	if len(req.Question) == 0 {
		return servfail(req), errors.New(errors.KindValidation, "empty question section")
	}
	q := req.Question[0]
	domain := dns.Fqdn(q.Name)

	// Step 1: redirect short-circuit.
	if redir, hit := policy.Redirect.Match(domain); hit {
		resp := synthesize(req, q, redir.ResultIPs)
		e.emitMetric(flowID, domain, q.Qtype, resp.Rcode, time.Since(start), len(resp.Answer))
		return resp, nil
	}

	// Step 2: rule resolution.
	rule, hit := policy.Rules.Match(domain)
	if !hit {
		rule = policy.Default
	}
	resolver, ok := policy.Resolvers[rule.ResolverID]
	if !ok {
		resp := servfail(req)
		e.emitMetric(flowID, domain, q.Qtype, resp.Rcode, time.Since(start), 0)
		return resp, errors.Errorf(errors.KindNotFound, "resolver %s not configured", rule.ResolverID)
	}

	outcome, err := resolver.Lookup(ctx, q.Name, q.Qtype)
	if err != nil || outcome.ServFail {
		resp := servfailWithRcode(req, outcome.Rcode)
		e.emitMetric(flowID, domain, q.Qtype, resp.Rcode, time.Since(start), 0)
		return resp, err
	}
	if outcome.NoRecords {
		resp := new(dns.Msg)
		resp.SetReply(req)
		e.emitMetric(flowID, domain, q.Qtype, resp.Rcode, time.Since(start), 0)
		return resp, nil
	}

	// Step 3: filter.
	answers := applyFilter(outcome.Records, rule.Filter)

	// Step 4: install answer-IP marks.
	for _, rr := range answers {
		ip := answerIP(rr)
		if ip == nil {
			continue
		}
		if rule.ValidateIP && !isGloballyRoutable(ip) {
			continue
		}
		e.installMark(flowID, ip, rule)
	}

	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Answer = answers

	// Step 5: metric.
	e.emitMetric(flowID, domain, q.Qtype, resp.Rcode, time.Since(start), len(answers))

	return resp, nil
}

func (e *Engine) installMark(flowID uint8, ip net.IP, rule RuleHandlerInfo) {
	key := types.VerdictDnsKey{Addr: types.AddrFromIP(ip)}
	val := types.VerdictDnsValue{Mark: rule.Mark, Priority: rule.Priority}

	var existing types.VerdictDnsValue
	if err := e.verdictDNS.Lookup(&key, &existing); err == nil && existing.Priority > rule.Priority {
		return // a higher-priority rule already owns this answer IP
	}
	e.verdictDNS.Add(&key, &val)
}

func (e *Engine) emitMetric(flowID uint8, domain string, qtype uint16, rcode int, dur time.Duration, answers int) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.KindDns, eventbus.DnsEvent{
		FlowID:   flowID,
		Domain:   domain,
		Qtype:    qtype,
		Rcode:    rcode,
		Duration: dur,
		Answers:  answers,
	})
}

func synthesize(req *dns.Msg, q dns.Question, ips []net.IP) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(req)
	if len(ips) == 0 {
		resp.Rcode = dns.RcodeNameError
		return resp
	}
	for _, ip := range ips {
		rr := synthesizeRR(q, ip)
		if rr != nil {
			resp.Answer = append(resp.Answer, rr)
		}
	}
	return resp
}

func synthesizeRR(q dns.Question, ip net.IP) dns.RR {
	hdr := dns.RR_Header{Name: q.Name, Rrtype: q.Qtype, Class: dns.ClassINET, Ttl: 60}
	if v4 := ip.To4(); v4 != nil && q.Qtype == dns.TypeA {
		return &dns.A{Hdr: hdr, A: v4}
	}
	if q.Qtype == dns.TypeAAAA {
		return &dns.AAAA{Hdr: hdr, AAAA: ip.To16()}
	}
	return nil
}

func applyFilter(rrs []dns.RR, f Filter) []dns.RR {
	if f == FilterNone {
		return rrs
	}
	out := make([]dns.RR, 0, len(rrs))
	for _, rr := range rrs {
		switch rr.(type) {
		case *dns.A:
			if f != FilterOnlyIPv6 {
				out = append(out, rr)
			}
		case *dns.AAAA:
			if f != FilterOnlyIPv4 {
				out = append(out, rr)
			}
		default:
			out = append(out, rr)
		}
	}
	return out
}

func answerIP(rr dns.RR) net.IP {
	switch v := rr.(type) {
	case *dns.A:
		return v.A
	case *dns.AAAA:
		return v.AAAA
	default:
		return nil
	}
}

func servfail(req *dns.Msg) *dns.Msg {
	return servfailWithRcode(req, dns.RcodeServerFailure)
}

func servfailWithRcode(req *dns.Msg, rcode int) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(req)
	if rcode == dns.RcodeSuccess {
		rcode = dns.RcodeServerFailure
	}
	resp.Rcode = rcode
	return resp
}

// isGloballyRoutable reports whether ip is outside the private, loopback,
// link-local, unspecified, and documentation ranges (§4.5 step 4).
func isGloballyRoutable(ip net.IP) bool {
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast() {
		return false
	}
	for _, doc := range documentationRanges {
		if doc.Contains(ip) {
			return false
		}
	}
	return true
}

var documentationRanges = mustParseCIDRs(
	"192.0.2.0/24",    // TEST-NET-1
	"198.51.100.0/24", // TEST-NET-2
	"203.0.113.0/24",  // TEST-NET-3
	"2001:db8::/32",   // IPv6 documentation
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}
