// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package connmetrics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"landscape.router/core/internal/ebpf/types"
)

func testKey() types.ConnectKey {
	return types.ConnectKey{CreateTimeNanos: 1, CPUID: 0, FlowID: 3}
}

func TestApplyTracksActiveSetAndInitialRate(t *testing.T) {
	tr := NewTracker()
	k := testKey()

	tr.Apply(types.ConnectMetric{Key: k, IngressBytes: 100, ObservedAt: 1_000_000_000})

	require.Equal(t, 1, tr.ActiveCount())
	rate, ok := tr.Rate(k)
	require.True(t, ok)
	require.Zero(t, rate.IngressBps)
}

func TestApplyComputesBpsAndPpsFromDelta(t *testing.T) {
	tr := NewTracker()
	k := testKey()

	tr.Apply(types.ConnectMetric{Key: k, IngressBytes: 1000, IngressPkts: 10, ObservedAt: 1_000_000_000})
	tr.Apply(types.ConnectMetric{Key: k, IngressBytes: 2000, IngressPkts: 20, ObservedAt: 2_000_000_000})

	rate, ok := tr.Rate(k)
	require.True(t, ok)
	require.InDelta(t, 8000.0, rate.IngressBps, 0.01) // (1000 bytes * 8000) / 1000ms
	require.InDelta(t, 10.0, rate.IngressPps, 0.01)    // (10 pkts * 1000) / 1000ms
}

func TestApplyGuardsAgainstZeroDeltaT(t *testing.T) {
	tr := NewTracker()
	k := testKey()

	tr.Apply(types.ConnectMetric{Key: k, IngressBytes: 1000, ObservedAt: 1_000_000_000})
	tr.Apply(types.ConnectMetric{Key: k, IngressBytes: 2000, ObservedAt: 1_000_000_000})

	rate, ok := tr.Rate(k)
	require.True(t, ok)
	require.Zero(t, rate.IngressBps)
}

func TestApplyTeardownRemovesFromActiveAndRateMap(t *testing.T) {
	tr := NewTracker()
	k := testKey()

	tr.Apply(types.ConnectMetric{Key: k, IngressBytes: 1000, ObservedAt: 1_000_000_000})
	tr.Apply(types.ConnectMetric{Key: k, Teardown: true})

	require.Equal(t, 0, tr.ActiveCount())
	_, ok := tr.Rate(k)
	require.False(t, ok)
}

func TestApplyCounterResetYieldsZeroRate(t *testing.T) {
	tr := NewTracker()
	k := testKey()

	tr.Apply(types.ConnectMetric{Key: k, IngressBytes: 5000, ObservedAt: 1_000_000_000})
	tr.Apply(types.ConnectMetric{Key: k, IngressBytes: 100, ObservedAt: 2_000_000_000})

	rate, ok := tr.Rate(k)
	require.True(t, ok)
	require.Zero(t, rate.IngressBps)
}
