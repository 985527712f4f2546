// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/vishvananda/netlink"
	"golang.org/x/sync/errgroup"

	"landscape.router/core/internal/logging"
)

// Status is a service actor's lifecycle state (§4.8).
type Status int

const (
	StatusStop Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
)

func (s Status) String() string {
	switch s {
	case StatusStop:
		return "stop"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// allowedTransitions is the restricted state machine of §4.8; any
// transition not listed here is refused (transition logs a warning).
var allowedTransitions = map[Status]map[Status]bool{
	StatusStop:     {StatusStarting: true},
	StatusStarting: {StatusRunning: true, StatusStopping: true, StatusStop: true},
	StatusRunning:  {StatusStopping: true, StatusStop: true},
	StatusStopping: {StatusStop: true},
}

func allowed(from, to Status) bool {
	return allowedTransitions[from][to]
}

// Key identifies one managed actor: a service kind (ip-config, nat,
// firewall, pppoe, dhcpv4-server, dhcpv6-pd, ipv6-ra, mss-clamp,
// wifi-ap, flow-lan, flow-wan, route-lan, route-wan) on one interface.
type Key struct {
	Kind  string
	Iface string
}

func (k Key) String() string { return fmt.Sprintf("%s@%s", k.Kind, k.Iface) }

// Actor is a service that can be (re)initialized with a config and
// reports its own lifecycle transitions on the returned channel. The
// manager cancels ctx to request a stop; the actor is expected to walk
// itself through Stopping -> Stop and then close the channel.
type Actor interface {
	Initialize(ctx context.Context, config any) (<-chan Status, error)
}

type entry struct {
	actor  Actor
	status Status
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns one Actor instance per (kind, iface), enforcing the
// allowed-transition state machine. Each actor Stop is recorded in the
// Supervisor's history as a clean exit (code 0, no signal, no panic), so
// actor stops never count toward safe mode. Each actor's watch loop runs as an
// errgroup task, giving the manager a single Wait() task handle over
// the whole fleet (§4.8: "the manager owns the returned watch and a
// task handle").
type Manager struct {
	supervisor *Supervisor
	g          *errgroup.Group
	mu         sync.Mutex
	entries    map[Key]*entry
}

// NewManager constructs a Manager whose actor stops are recorded in sup's
// history as clean exits; sup may be nil.
func NewManager(sup *Supervisor) *Manager {
	return &Manager{supervisor: sup, g: new(errgroup.Group), entries: make(map[Key]*entry)}
}

// Wait blocks until every managed actor's watch task has returned,
// e.g. after the caller has Delete'd every entry during shutdown.
func (m *Manager) Wait() error {
	return m.g.Wait()
}

// Status returns the current status of (kind, iface), if managed.
func (m *Manager) Status(key Key) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return StatusStop, false
	}
	return e.status, true
}

// ApplyConfig installs or updates the actor for key. If an entry
// already exists, it is stopped first (Stopping, await Stop) and then
// re-initialized with the new config (§4.8: "applying a new config...
// entails: drive the current status to Stop, then call initialize").
func (m *Manager) ApplyConfig(key Key, actor Actor, config any) error {
	m.mu.Lock()
	existing, had := m.entries[key]
	m.mu.Unlock()

	if had {
		if err := m.stopEntry(key, existing); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	watch, err := actor.Initialize(ctx, config)
	if err != nil {
		cancel()
		return fmt.Errorf("initialize %s: %w", key, err)
	}

	e := &entry{actor: actor, status: StatusStarting, cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()

	m.g.Go(func() error {
		m.watch(key, e, watch)
		return nil
	})
	return nil
}

// Delete stops and removes the actor for key without re-initializing
// (§4.8: "Delete is identical without re-initialise").
func (m *Manager) Delete(key Key) error {
	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if err := m.stopEntry(key, e); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Manager) stopEntry(key Key, e *entry) error {
	m.transition(key, e, StatusStopping)
	e.cancel()
	<-e.done
	return nil
}

// transition applies a state change if allowed, logging (and no-op'ing)
// refused transitions rather than erroring: a racing actor reporting a
// stale status is expected, not exceptional.
func (m *Manager) transition(key Key, e *entry, to Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !allowed(e.status, to) {
		logging.Warn("supervisor: refused transition %s: %s -> %s", key, e.status, to)
		return
	}
	e.status = to
}

func (m *Manager) watch(key Key, e *entry, watch <-chan Status) {
	defer close(e.done)
	for status := range watch {
		m.transition(key, e, status)
		if status == StatusStop {
			wasPanic := false
			if m.supervisor != nil {
				_ = m.supervisor.RecordExit(0, 0, wasPanic)
			}
			return
		}
	}
}

// LinkEventHandler re-reads and re-applies an interface's config in
// response to link-up, per §4.8's link-change observer contract.
type LinkEventHandler interface {
	LinkUp(iface string)
}

// ObserveLinks subscribes to netlink link multicast updates until ctx
// is cancelled, dispatching up(iface) to handler. down(iface) is
// deliberately ignored: "the actor itself is expected to observe and
// stop" (§4.8).
func ObserveLinks(ctx context.Context, handler LinkEventHandler) error {
	updates := make(chan netlink.LinkUpdate)
	done := make(chan struct{})
	if err := netlink.LinkSubscribe(updates, done); err != nil {
		return fmt.Errorf("subscribe link updates: %w", err)
	}
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if u.Attrs().OperState == netlink.OperUp {
				handler.LinkUp(u.Attrs().Name)
			}
		}
	}
}
