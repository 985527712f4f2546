// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package connmetrics

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"landscape.router/core/internal/ebpf/types"
)

func openTestHistoryStore(t *testing.T) *HistoryStore {
	t.Helper()
	store, err := OpenHistoryStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendAndQueryRoundTrip(t *testing.T) {
	store := openTestHistoryStore(t)
	ctx := context.Background()

	m := types.ConnectMetric{
		Key: types.ConnectKey{
			CreateTimeNanos: 1000, CPUID: 0,
			SrcIP: types.AddrFromIP(net.ParseIP("10.0.0.5")), DstIP: types.AddrFromIP(net.ParseIP("93.184.216.34")),
			SrcPort: 5555, DstPort: 443, L4Proto: 6, FlowID: 2,
		},
		IngressBytes: 1500, EgressBytes: 500, IngressPkts: 10, EgressPkts: 5,
		ObservedAt: uint64(time.Now().UnixNano()),
	}
	require.NoError(t, store.Append(ctx, m))

	records, err := store.Query(ctx, QueryParams{
		Start: time.Now().Add(-time.Hour), End: time.Now().Add(time.Hour), Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.EqualValues(t, 1500, records[0].IngressBytes)
	require.EqualValues(t, 443, records[0].Key.DstPort)
}

func TestAppendUpsertsLatestTotalsForSameConnection(t *testing.T) {
	store := openTestHistoryStore(t)
	ctx := context.Background()
	key := types.ConnectKey{CreateTimeNanos: 42, CPUID: 1}

	require.NoError(t, store.Append(ctx, types.ConnectMetric{Key: key, IngressBytes: 100, ObservedAt: uint64(time.Now().UnixNano())}))
	require.NoError(t, store.Append(ctx, types.ConnectMetric{Key: key, IngressBytes: 900, ObservedAt: uint64(time.Now().UnixNano())}))

	records, err := store.Query(ctx, QueryParams{Start: time.Now().Add(-time.Hour), End: time.Now().Add(time.Hour), Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.EqualValues(t, 900, records[0].IngressBytes)
}

func TestQueryFiltersByDstPort(t *testing.T) {
	store := openTestHistoryStore(t)
	ctx := context.Background()
	now := uint64(time.Now().UnixNano())

	require.NoError(t, store.Append(ctx, types.ConnectMetric{Key: types.ConnectKey{CreateTimeNanos: 1, DstPort: 443}, ObservedAt: now}))
	require.NoError(t, store.Append(ctx, types.ConnectMetric{Key: types.ConnectKey{CreateTimeNanos: 2, DstPort: 80}, ObservedAt: now}))

	records, err := store.Query(ctx, QueryParams{
		Start: time.Now().Add(-time.Hour), End: time.Now().Add(time.Hour), DstPort: 443, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.EqualValues(t, 443, records[0].Key.DstPort)
}

func TestRefreshGlobalStatsSumsAcrossConnections(t *testing.T) {
	store := openTestHistoryStore(t)
	ctx := context.Background()
	now := uint64(time.Now().UnixNano())

	require.NoError(t, store.Append(ctx, types.ConnectMetric{Key: types.ConnectKey{CreateTimeNanos: 1}, IngressBytes: 100, EgressBytes: 50, ObservedAt: now}))
	require.NoError(t, store.Append(ctx, types.ConnectMetric{Key: types.ConnectKey{CreateTimeNanos: 2}, IngressBytes: 200, EgressBytes: 75, ObservedAt: now}))

	stats, err := store.RefreshGlobalStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 300, stats.TotalIngressBytes)
	require.EqualValues(t, 125, stats.TotalEgressBytes)
	require.EqualValues(t, 2, stats.TotalConnectCount)
}
