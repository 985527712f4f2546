// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ra

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/mdlayher/ndp"
	"github.com/stretchr/testify/require"

	"landscape.router/core/internal/supervisor"
)

type fakeConn struct {
	mu      sync.Mutex
	written []ndp.Message
	reads   chan readResult
	closed  bool
}

type readResult struct {
	msg  ndp.Message
	from netip.Addr
	err  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan readResult, 8)}
}

func (c *fakeConn) WriteTo(m ndp.Message, dst netip.Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, m)
	return nil
}

func (c *fakeConn) ReadFrom() (ndp.Message, netip.Addr, error) {
	r, ok := <-c.reads
	if !ok {
		return nil, netip.Addr{}, context.Canceled
	}
	return r.msg, r.from, r.err
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.reads)
	}
	return nil
}

func (c *fakeConn) writtenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.written)
}

func TestInitializeRejectsWrongConfigType(t *testing.T) {
	a := NewActor(func(string) (Conn, error) { return newFakeConn(), nil })
	_, err := a.Initialize(context.Background(), "nope")
	require.Error(t, err)
}

func TestInitializeSendsInitialAdvertisement(t *testing.T) {
	conn := newFakeConn()
	a := NewActor(func(string) (Conn, error) { return conn, nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watch, err := a.Initialize(ctx, Config{
		Iface:    "lan0",
		Prefixes: []netip.Prefix{netip.MustParsePrefix("2001:db8:1::/64")},
		Interval: time.Hour,
	})
	require.NoError(t, err)

	require.Equal(t, supervisor.StatusStarting, <-watch)
	require.Equal(t, supervisor.StatusRunning, <-watch)
	require.Equal(t, 1, conn.writtenCount())
}

func TestSolicitationTriggersUnicastReply(t *testing.T) {
	conn := newFakeConn()
	a := NewActor(func(string) (Conn, error) { return conn, nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watch, err := a.Initialize(ctx, Config{Iface: "lan0", Interval: time.Hour})
	require.NoError(t, err)
	<-watch
	<-watch

	requester := netip.MustParseAddr("fe80::1")
	conn.reads <- readResult{msg: &ndp.RouterSolicitation{}, from: requester}

	require.Eventually(t, func() bool {
		return conn.writtenCount() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestInitializeStopsOnContextCancel(t *testing.T) {
	conn := newFakeConn()
	a := NewActor(func(string) (Conn, error) { return conn, nil })

	ctx, cancel := context.WithCancel(context.Background())
	watch, err := a.Initialize(ctx, Config{Iface: "lan0", Interval: time.Hour})
	require.NoError(t, err)
	require.Equal(t, supervisor.StatusStarting, <-watch)
	require.Equal(t, supervisor.StatusRunning, <-watch)

	cancel()
	require.Equal(t, supervisor.StatusStopping, <-watch)
	require.Equal(t, supervisor.StatusStop, <-watch)
	_, open := <-watch
	require.False(t, open)
}
