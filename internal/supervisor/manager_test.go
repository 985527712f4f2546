// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeActor struct {
	watch chan Status
}

func newFakeActor() *fakeActor { return &fakeActor{watch: make(chan Status, 4)} }

func (a *fakeActor) Initialize(ctx context.Context, config any) (<-chan Status, error) {
	go func() {
		a.watch <- StatusStarting
		a.watch <- StatusRunning
		<-ctx.Done()
		a.watch <- StatusStopping
		a.watch <- StatusStop
		close(a.watch)
	}()
	return a.watch, nil
}

func waitStatus(t *testing.T, m *Manager, key Key, want Status) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if got, ok := m.Status(key); ok && got == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s to reach %s", key, want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestApplyConfigDrivesStartingToRunning(t *testing.T) {
	m := NewManager(nil)
	key := Key{Kind: "nat", Iface: "wan0"}

	require.NoError(t, m.ApplyConfig(key, newFakeActor(), nil))
	waitStatus(t, m, key, StatusRunning)
}

func TestApplyConfigReplacesExistingEntryWithStopThenInit(t *testing.T) {
	m := NewManager(nil)
	key := Key{Kind: "nat", Iface: "wan0"}

	require.NoError(t, m.ApplyConfig(key, newFakeActor(), "v1"))
	waitStatus(t, m, key, StatusRunning)

	require.NoError(t, m.ApplyConfig(key, newFakeActor(), "v2"))
	waitStatus(t, m, key, StatusRunning)
}

func TestDeleteStopsWithoutReinitializing(t *testing.T) {
	m := NewManager(nil)
	key := Key{Kind: "nat", Iface: "wan0"}

	require.NoError(t, m.ApplyConfig(key, newFakeActor(), nil))
	waitStatus(t, m, key, StatusRunning)

	require.NoError(t, m.Delete(key))
	_, ok := m.Status(key)
	require.False(t, ok, "deleted entry must no longer be tracked")
}

func TestDisallowedTransitionIsRefused(t *testing.T) {
	m := NewManager(nil)
	key := Key{Kind: "nat", Iface: "wan0"}
	e := &entry{status: StatusStop, done: make(chan struct{})}
	m.entries[key] = e

	m.transition(key, e, StatusRunning) // Stop -> Running is not in the allowed table
	require.Equal(t, StatusStop, e.status)
}

type recordingLinkHandler struct {
	ups []string
}

func (r *recordingLinkHandler) LinkUp(iface string) { r.ups = append(r.ups, iface) }

func TestObserveLinksReturnsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ObserveLinks(ctx, &recordingLinkHandler{})
	// In a sandboxed test environment without CAP_NET_ADMIN, subscribing
	// itself may fail; either a nil return (immediate ctx.Done) or a
	// subscribe error is an acceptable outcome here.
	_ = err
}
