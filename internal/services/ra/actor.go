// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ra is the IPv6 Router Advertisement actor (§4.8): one instance
// per LAN interface, periodically multicasting unsolicited RAs and
// replying to Router Solicitations, advertising the interface's
// configured on-link prefixes and recursive DNS servers.
package ra

import (
	"context"
	"net/netip"
	"time"

	"github.com/mdlayher/ndp"

	"landscape.router/core/internal/errors"
	"landscape.router/core/internal/logging"
	"landscape.router/core/internal/supervisor"
)

var allNodes = netip.MustParseAddr("ff02::1")

// Config configures the RAs sent on one LAN interface.
type Config struct {
	Iface          string
	Prefixes       []netip.Prefix
	RDNSS          []netip.Addr
	RouterLifetime time.Duration
	Interval       time.Duration
}

// Conn is the ICMPv6 seam the actor sends/receives NDP messages through,
// kept as an interface so the advertise/solicit-reply loop is testable
// without a real raw socket.
type Conn interface {
	WriteTo(m ndp.Message, dst netip.Addr) error
	ReadFrom() (ndp.Message, netip.Addr, error)
	Close() error
}

// Actor is the supervisor.Actor implementation for one RA instance.
type Actor struct {
	dial func(iface string) (Conn, error)
}

// NewActor constructs an Actor using dial to open the NDP socket bound to
// a config's interface. Production callers pass DialInterface; tests
// substitute a fake Conn.
func NewActor(dial func(iface string) (Conn, error)) *Actor {
	return &Actor{dial: dial}
}

// Initialize opens the interface's NDP socket and starts advertising,
// reporting lifecycle transitions on the returned channel until ctx is
// cancelled.
func (a *Actor) Initialize(ctx context.Context, config any) (<-chan supervisor.Status, error) {
	cfg, ok := config.(Config)
	if !ok {
		return nil, errors.Errorf(errors.KindValidation, "ra: config is %T, want ra.Config", config)
	}
	if cfg.Iface == "" {
		return nil, errors.New(errors.KindValidation, "ra: iface is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 200 * time.Second
	}
	if cfg.RouterLifetime <= 0 {
		cfg.RouterLifetime = 3 * cfg.Interval
	}

	conn, err := a.dial(cfg.Iface)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "ra: open ndp socket on %s", cfg.Iface)
	}

	ch := make(chan supervisor.Status, 4)
	go run(ctx, conn, cfg, ch)
	return ch, nil
}

func run(ctx context.Context, conn Conn, cfg Config, ch chan<- supervisor.Status) {
	defer close(ch)
	defer func() { ch <- supervisor.StatusStop }()
	defer func() { ch <- supervisor.StatusStopping }()
	// conn.Close must run before the status sends above: it unblocks the
	// solicit-reply goroutine's pending ReadFrom so it exits promptly
	// instead of leaking past this actor's lifetime.
	defer conn.Close()

	ch <- supervisor.StatusStarting

	go solicitReplyLoop(ctx, conn, cfg)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	if err := advertise(conn, cfg, netip.Addr{}); err != nil {
		logging.Warn("ra: initial advertise on %s failed: %v", cfg.Iface, err)
	}
	ch <- supervisor.StatusRunning

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := advertise(conn, cfg, netip.Addr{}); err != nil {
				logging.Warn("ra: advertise on %s failed: %v", cfg.Iface, err)
			}
		}
	}
}

// solicitReplyLoop answers Router Solicitations with a unicast RA,
// best-effort, until ctx is cancelled or the conn errors out.
func solicitReplyLoop(ctx context.Context, conn Conn, cfg Config) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, from, err := conn.ReadFrom()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if _, ok := msg.(*ndp.RouterSolicitation); !ok {
			continue
		}
		if err := advertise(conn, cfg, from); err != nil {
			logging.Warn("ra: solicited reply on %s failed: %v", cfg.Iface, err)
		}
	}
}

func advertise(conn Conn, cfg Config, dst netip.Addr) error {
	var opts []ndp.Option
	for _, p := range cfg.Prefixes {
		opts = append(opts, &ndp.PrefixInformation{
			PrefixLength:                   uint8(p.Bits()),
			OnLink:                         true,
			AutonomousAddressConfiguration: true,
			ValidLifetime:                  24 * time.Hour,
			PreferredLifetime:              4 * time.Hour,
			Prefix:                         p.Addr(),
		})
	}
	if len(cfg.RDNSS) > 0 {
		opts = append(opts, &ndp.RecursiveDNSServer{
			Lifetime: cfg.RouterLifetime,
			Servers:  cfg.RDNSS,
		})
	}

	ra := &ndp.RouterAdvertisement{
		RouterLifetime:  cfg.RouterLifetime,
		ReachableTime:   0,
		RetransmitTimer: 0,
		Options:         opts,
	}

	if !dst.IsValid() {
		dst = allNodes
	}
	return conn.WriteTo(ra, dst)
}
