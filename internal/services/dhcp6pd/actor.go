// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dhcp6pd is the DHCPv6 Prefix Delegation client actor (§4.8):
// one instance per WAN interface, soliciting a delegated prefix from the
// ISP's DHCPv6 server and re-soliciting once the lease's preferred
// lifetime has elapsed (and no sooner than one minute after the lease).
package dhcp6pd

import (
	"context"
	"net/netip"
	"time"

	"landscape.router/core/internal/errors"
	"landscape.router/core/internal/logging"
	"landscape.router/core/internal/supervisor"
)

const (
	solicitTimeout = 5 * time.Second
	minRenewAfter  = time.Minute
)

// retryBackoff is a var, not a const, so tests can shrink it.
var retryBackoff = 10 * time.Second

// Config configures one DHCPv6-PD client instance.
type Config struct {
	Iface string
	IAID  [4]byte
}

// DelegatedPrefix is a prefix handed to us by an upstream DHCPv6-PD server.
type DelegatedPrefix struct {
	Prefix            netip.Prefix
	PreferredLifetime time.Duration
	ValidLifetime     time.Duration
}

// Client solicits a delegated prefix over DHCPv6 on iface. Kept as a seam
// so the renewal state machine is testable without a real ISP uplink.
type Client interface {
	Solicit(ctx context.Context, iface string, iaid [4]byte) (DelegatedPrefix, error)
}

// Installer receives the currently delegated prefix, e.g. to republish it
// via the IPv6-RA actor or install a route for it.
type Installer interface {
	InstallDelegatedPrefix(iface string, prefix DelegatedPrefix) error
}

// Actor is the supervisor.Actor implementation for one DHCPv6-PD client.
type Actor struct {
	client    Client
	installer Installer
}

// NewActor constructs an Actor soliciting prefixes via client and handing
// them to installer.
func NewActor(client Client, installer Installer) *Actor {
	return &Actor{client: client, installer: installer}
}

// Initialize starts the solicit/renew loop for cfg and reports lifecycle
// transitions on the returned channel until ctx is cancelled.
func (a *Actor) Initialize(ctx context.Context, config any) (<-chan supervisor.Status, error) {
	cfg, ok := config.(Config)
	if !ok {
		return nil, errors.Errorf(errors.KindValidation, "dhcp6pd: config is %T, want dhcp6pd.Config", config)
	}
	if cfg.Iface == "" {
		return nil, errors.New(errors.KindValidation, "dhcp6pd: iface is required")
	}

	ch := make(chan supervisor.Status, 4)
	go a.run(ctx, cfg, ch)
	return ch, nil
}

func (a *Actor) run(ctx context.Context, cfg Config, ch chan<- supervisor.Status) {
	defer close(ch)
	defer func() { ch <- supervisor.StatusStop }()
	defer func() { ch <- supervisor.StatusStopping }()

	ch <- supervisor.StatusStarting
	reachedRunning := false

	for {
		lease, err := a.solicit(ctx, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Warn("dhcp6pd: solicit on %s failed: %v", cfg.Iface, err)
			if !sleepOrDone(ctx, retryBackoff) {
				return
			}
			continue
		}

		if a.installer != nil {
			if err := a.installer.InstallDelegatedPrefix(cfg.Iface, lease); err != nil {
				logging.Warn("dhcp6pd: install delegated prefix on %s failed: %v", cfg.Iface, err)
			}
		}
		if !reachedRunning {
			ch <- supervisor.StatusRunning
			reachedRunning = true
		}
		logging.Info("dhcp6pd: delegated %s on %s, preferred lifetime %s", lease.Prefix, cfg.Iface, lease.PreferredLifetime)

		renewIn := lease.PreferredLifetime
		if renewIn < minRenewAfter {
			renewIn = minRenewAfter
		}
		if !sleepOrDone(ctx, renewIn) {
			return
		}
	}
}

func (a *Actor) solicit(ctx context.Context, cfg Config) (DelegatedPrefix, error) {
	sctx, cancel := context.WithTimeout(ctx, solicitTimeout)
	defer cancel()
	return a.client.Solicit(sctx, cfg.Iface, cfg.IAID)
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
