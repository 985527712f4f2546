// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package connmetrics is the connection metric pipeline (§4.10): a
// ringbuffer consumer feeds each {firewall-event, firewall-metric,
// nat-metric} record into an active-set/rate-map tracker and a
// persistent historical store, with a daily aggregator refreshing a
// global-stats snapshot and a Prometheus exposition of both.
package connmetrics

import (
	"sync"

	"landscape.router/core/internal/ebpf/types"
)

// RateEntry is one key's last-seen record plus the rates differenced
// against the record before it (§4.10).
type RateEntry struct {
	Last        types.ConnectMetric
	IngressBps  float64
	EgressBps   float64
	IngressPps  float64
	EgressPps   float64
}

// Tracker maintains the active-set and rate-map described in §4.10: every
// non-teardown record updates both; a teardown record removes the key
// from both.
type Tracker struct {
	mu     sync.RWMutex
	active map[types.ConnectKey]types.ConnectMetric
	rates  map[types.ConnectKey]RateEntry
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		active: make(map[types.ConnectKey]types.ConnectMetric),
		rates:  make(map[types.ConnectKey]RateEntry),
	}
}

// Apply folds one ringbuffer record into the tracker.
func (t *Tracker) Apply(m types.ConnectMetric) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m.Teardown {
		delete(t.active, m.Key)
		delete(t.rates, m.Key)
		return
	}

	t.active[m.Key] = m

	prev, ok := t.rates[m.Key]
	if !ok {
		t.rates[m.Key] = RateEntry{Last: m}
		return
	}

	deltaMs := int64(m.ObservedAt-prev.Last.ObservedAt) / 1_000_000
	if deltaMs <= 0 {
		t.rates[m.Key] = RateEntry{Last: m, IngressBps: prev.IngressBps, EgressBps: prev.EgressBps, IngressPps: prev.IngressPps, EgressPps: prev.EgressPps}
		return
	}

	t.rates[m.Key] = RateEntry{
		Last:       m,
		IngressBps: rate(m.IngressBytes, prev.Last.IngressBytes, 8000, deltaMs),
		EgressBps:  rate(m.EgressBytes, prev.Last.EgressBytes, 8000, deltaMs),
		IngressPps: rate(m.IngressPkts, prev.Last.IngressPkts, 1000, deltaMs),
		EgressPps:  rate(m.EgressPkts, prev.Last.EgressPkts, 1000, deltaMs),
	}
}

// rate computes (Δcount · scale) / deltaMs, treating a decreasing counter
// (a datapath restart) as a zero delta rather than going negative.
func rate(current, previous uint64, scale float64, deltaMs int64) float64 {
	if current <= previous {
		return 0
	}
	return float64(current-previous) * scale / float64(deltaMs)
}

// ActiveCount returns the number of connections currently in the
// active-set.
func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}

// Rate returns the current rate-map entry for key, if tracked.
func (t *Tracker) Rate(key types.ConnectKey) (RateEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rates[key]
	return r, ok
}

// Active returns the current active-set record for key, if tracked.
func (t *Tracker) Active(key types.ConnectKey) (types.ConnectMetric, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.active[key]
	return m, ok
}
