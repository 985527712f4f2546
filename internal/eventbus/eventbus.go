// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package eventbus is the typed publish/subscribe mechanism that resolves
// the cyclic references between controllers (DNS <-> flow <-> route
// lookup, §9): controllers publish typed events and subscribe to the
// kinds they care about without holding a direct reference to each
// other.
package eventbus

import (
	"sync"
	"time"

	"landscape.router/core/internal/logging"
)

// Kind identifies one of the four event types controllers exchange (§9).
type Kind int

const (
	KindDns Kind = iota
	KindFlow
	KindGeoUpdated
	KindDstIP
)

func (k Kind) String() string {
	switch k {
	case KindDns:
		return "dns"
	case KindFlow:
		return "flow"
	case KindGeoUpdated:
		return "geo_updated"
	case KindDstIP:
		return "dst_ip"
	default:
		return "unknown"
	}
}

// DnsEvent reports a DNS policy-engine decision and doubles as the
// DnsMetric record the connection metric pipeline consumes (§4.5 step 5:
// query/qtype/rcode/duration/answers).
type DnsEvent struct {
	FlowID     uint8
	Domain     string
	Qtype      uint16
	Rcode      int
	Duration   time.Duration
	Answers    int
	AnswerIP   string
	RedirectTo string
}

// FlowEvent reports a change to flow-match or flow-verdict state that
// downstream route/DNS controllers must react to.
type FlowEvent struct {
	FlowID  uint8
	Removed bool
}

// GeoUpdated reports that a Geo cache entry (an IP or domain bundle for
// one source/country pair) has been refreshed.
type GeoUpdated struct {
	Source  string
	Country string
	IsSite  bool // true: GeositeUpdated (domains); false: IpGeoUpdated (CIDRs)
}

// DstIpEvent reports a destination-IP rule table recomputation, driven by
// a WanIpRule mutation or a GeoUpdated event it depends on.
type DstIpEvent struct {
	FlowID uint8
}

// backpressure selects how a subscriber's bounded queue behaves when
// full. Metrics-class events favor freshness over completeness; config
// events favor eventual delivery over latency (§9: "bounded queues with
// back-pressure").
type backpressure int

const (
	dropOldest backpressure = iota
	blockBriefly
)

const blockBrieflyTimeout = 50 * time.Millisecond

// Bus is the process-wide typed event dispatcher. Delivery preserves
// publish order per subscriber but is not guaranteed: an event that
// meets a full queue is dropped (see Subscribe for which one).
type Bus struct {
	mu   sync.RWMutex
	subs map[Kind][]*subscription
}

type subscription struct {
	kind  Kind
	queue chan any
	mode  backpressure
	once  sync.Once
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[Kind][]*subscription)}
}

// Subscription is the handle returned to a caller of Subscribe.
type Subscription struct {
	bus *Bus
	sub *subscription
}

// Events returns the channel of delivered events for this subscription.
func (s *Subscription) Events() <-chan any { return s.sub.queue }

// Close unregisters the subscription and stops further delivery to it.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subs[s.sub.kind]
	for i, sub := range subs {
		if sub == s.sub {
			s.bus.subs[s.sub.kind] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.sub.once.Do(func() { close(s.sub.queue) })
}

// Subscribe registers interest in events of kind, with a queue depth of
// capacity. Metric-class events (GeoUpdated, DstIpEvent) use a
// newest-wins policy under back-pressure; DnsEvent and FlowEvent, which
// drive config-visible state, block the publisher briefly instead of
// dropping.
func (b *Bus) Subscribe(kind Kind, capacity int) *Subscription {
	if capacity <= 0 {
		capacity = 32
	}
	mode := blockBriefly
	if kind == KindGeoUpdated || kind == KindDstIP {
		mode = dropOldest
	}

	sub := &subscription{kind: kind, queue: make(chan any, capacity), mode: mode}

	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], sub)
	b.mu.Unlock()

	return &Subscription{bus: b, sub: sub}
}

// Publish delivers event to every subscriber of kind. It returns once
// every subscriber's queue has accepted the event or been handled per
// its back-pressure policy; it never blocks indefinitely on a stalled
// subscriber.
func (b *Bus) Publish(kind Kind, event any) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs[kind]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		deliver(sub, event)
	}
}

func deliver(sub *subscription, event any) {
	select {
	case sub.queue <- event:
		return
	default:
	}

	switch sub.mode {
	case dropOldest:
		select {
		case <-sub.queue:
		default:
		}
		select {
		case sub.queue <- event:
		default:
			logging.Warn("eventbus: dropped %s event, subscriber queue still full after eviction", sub.kind)
		}
	case blockBriefly:
		select {
		case sub.queue <- event:
		case <-time.After(blockBrieflyTimeout):
			logging.Warn("eventbus: subscriber for %s events blocked past grace period, dropping", sub.kind)
		}
	}
}
