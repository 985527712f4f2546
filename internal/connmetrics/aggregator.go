// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package connmetrics

import (
	"context"
	"sync"
	"time"

	"landscape.router/core/internal/logging"
)

const aggregateInterval = 24 * time.Hour

// Aggregator is the daily aggregator task (§4.10): it periodically
// refreshes a GlobalStats snapshot from the historical store and serves
// it back out without hitting the database on every read.
type Aggregator struct {
	store *HistoryStore

	mu       sync.RWMutex
	snapshot GlobalStats
}

// NewAggregator constructs an Aggregator reading from store.
func NewAggregator(store *HistoryStore) *Aggregator {
	return &Aggregator{store: store}
}

// Run refreshes the snapshot immediately, then once every 24h until ctx
// is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	a.refresh(ctx)
	ticker := time.NewTicker(aggregateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.refresh(ctx)
		}
	}
}

func (a *Aggregator) refresh(ctx context.Context) {
	s, err := a.store.RefreshGlobalStats(ctx)
	if err != nil {
		logging.Error("connmetrics: global stats refresh failed: %v", err)
		return
	}
	a.mu.Lock()
	a.snapshot = s
	a.mu.Unlock()
}

// Snapshot returns the most recently refreshed GlobalStats.
func (a *Aggregator) Snapshot() GlobalStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot
}
