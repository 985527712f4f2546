// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package connmetrics

import (
	"context"
	"time"

	"landscape.router/core/internal/ebpf/types"
	"landscape.router/core/internal/logging"
)

// pollCadence is the consumer task's polling period; §4.10 requires
// "≤ 1 s".
const pollCadence = time.Second

// RingSource is one of the three per-event-kind ringbuffers (§4.10:
// firewall-event, firewall-metric, nat-metric). SetDeadline followed by
// Read-until-error is the same blocking-with-deadline idiom
// cilium/ebpf's ringbuf.Reader exposes natively, kept as an interface so
// the consumer loop is testable without a kernel ringbuffer.
type RingSource interface {
	SetDeadline(t time.Time) error
	Read() (types.ConnectMetric, error)
}

// HistoryAppender is the persistent historical store the consumer feeds
// every record into (§4.10).
type HistoryAppender interface {
	Append(ctx context.Context, m types.ConnectMetric) error
}

// Consumer is the single task that polls every ringbuffer on a ≤1s
// cadence, folding each record into the Tracker and the historical
// store.
type Consumer struct {
	sources []RingSource
	tracker *Tracker
	history HistoryAppender
}

// NewConsumer constructs a Consumer polling sources, updating tracker,
// and appending to history (history may be nil to skip persistence).
func NewConsumer(sources []RingSource, tracker *Tracker, history HistoryAppender) *Consumer {
	return &Consumer{sources: sources, tracker: tracker, history: history}
}

// Run polls every source on pollCadence until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollCadence)
	defer ticker.Stop()

	c.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

// pollOnce drains every source until its deadline is reached, applying
// each record as it arrives.
func (c *Consumer) pollOnce(ctx context.Context) {
	deadline := time.Now().Add(pollCadence)
	for _, src := range c.sources {
		if err := src.SetDeadline(deadline); err != nil {
			logging.Warn("connmetrics: set deadline failed: %v", err)
			continue
		}
		for {
			m, err := src.Read()
			if err != nil {
				break
			}
			c.tracker.Apply(m)
			if c.history == nil {
				continue
			}
			if err := c.history.Append(ctx, m); err != nil {
				logging.Warn("connmetrics: append history failed: %v", err)
			}
		}
	}
}
