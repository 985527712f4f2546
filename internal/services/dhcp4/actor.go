// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dhcp4 is the DHCPv4-server service actor (§4.8): one actor
// per configured scope, serving DISCOVER/REQUEST over a bound UDP/67
// socket and allocating addresses from a static-reservation-first,
// existing-lease-second, pool-scan-last strategy.
package dhcp4

import (
	"context"
	"net"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"

	"landscape.router/core/internal/errors"
	"landscape.router/core/internal/logging"
	"landscape.router/core/internal/supervisor"
)

const expireCheckInterval = 30 * time.Second

// Config is one scope's DHCPv4 server configuration.
type Config struct {
	Iface        string
	RangeStart   net.IP
	RangeEnd     net.IP
	Subnet       *net.IPNet
	Router       net.IP
	DNS          []net.IP
	Domain       string
	LeaseTime    time.Duration
	Reservations map[string]Reservation // mac -> reservation
}

// LeaseSink observes allocation/release events, the seam through which
// an allocated address reaches the ip-mac binding table and DNS.
type LeaseSink interface {
	OnLease(mac string, ip net.IP, hostname string)
	OnExpire(mac string, ip net.IP)
}

// Socket is the seam over the bound DHCP UDP socket, so the server
// loop's packet dispatch is testable without a real interface bind.
type Socket interface {
	ReadFrom(p []byte) (n int, addr net.Addr, err error)
	WriteTo(p []byte, addr net.Addr) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Binder opens the Socket for an interface, the production
// implementation wrapping server4.NewIPv4UDPConn.
type Binder interface {
	Bind(iface string) (Socket, error)
}

// Actor is one supervisor.Actor per DHCPv4 scope.
type Actor struct {
	bind   Binder
	sink   LeaseSink
	ranges *RangeRegistry
}

// NewActor constructs an Actor binding sockets via bind and reporting
// lease events to sink (sink may be nil). ranges, if non-nil, is kept
// current with this actor's configured pool so internal/ipmac can
// validate bindings against it.
func NewActor(bind Binder, sink LeaseSink, ranges *RangeRegistry) *Actor {
	return &Actor{bind: bind, sink: sink, ranges: ranges}
}

func (a *Actor) Initialize(ctx context.Context, config any) (<-chan supervisor.Status, error) {
	cfg, ok := config.(Config)
	if !ok {
		return nil, errors.Errorf(errors.KindValidation, "dhcp4: unexpected config type %T", config)
	}
	if cfg.Iface == "" || cfg.RangeStart == nil || cfg.RangeEnd == nil {
		return nil, errors.Errorf(errors.KindValidation, "dhcp4: iface and range are required")
	}
	if cfg.LeaseTime <= 0 {
		cfg.LeaseTime = 24 * time.Hour
	}

	sock, err := a.bind.Bind(cfg.Iface)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "dhcp4: bind %s", cfg.Iface)
	}

	if a.ranges != nil {
		a.ranges.Register(cfg)
	}

	ch := make(chan supervisor.Status, 4)
	go a.run(ctx, sock, cfg, ch)
	return ch, nil
}

func (a *Actor) run(ctx context.Context, sock Socket, cfg Config, ch chan<- supervisor.Status) {
	defer close(ch)
	defer func() { ch <- supervisor.StatusStop }()
	defer func() { ch <- supervisor.StatusStopping }()
	defer sock.Close()
	defer func() {
		if a.ranges != nil {
			a.ranges.Unregister(cfg.Iface)
		}
	}()

	ch <- supervisor.StatusStarting

	store := newLeaseStore(cfg.RangeStart, cfg.RangeEnd, cfg.Subnet, cfg.LeaseTime, cfg.Reservations)

	expireTicker := time.NewTicker(expireCheckInterval)
	defer expireTicker.Stop()
	go a.reapExpired(ctx, store, expireTicker)

	ch <- supervisor.StatusRunning

	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sock.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, peer, err := sock.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logging.Warn("dhcp4: read error on %s: %v", cfg.Iface, err)
			continue
		}

		pkt, err := dhcpv4.FromBytes(buf[:n])
		if err != nil {
			continue
		}
		a.handle(sock, pkt, peer, cfg, store)
	}
}

func (a *Actor) reapExpired(ctx context.Context, store *leaseStore, ticker *time.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, mac := range store.Expired(time.Now()) {
				if a.sink != nil {
					a.sink.OnExpire(mac, nil)
				}
			}
		}
	}
}

func (a *Actor) handle(sock Socket, m *dhcpv4.DHCPv4, peer net.Addr, cfg Config, store *leaseStore) {
	dest := peer
	if udpAddr, ok := peer.(*net.UDPAddr); ok && (udpAddr.IP.IsUnspecified() || udpAddr.IP.Equal(net.IPv4bcast)) {
		dest = &net.UDPAddr{IP: net.IPv4bcast, Port: 68}
	}

	mac := m.ClientHWAddr.String()

	switch m.MessageType() {
	case dhcpv4.MessageTypeDiscover:
		ip, err := store.Allocate(time.Now(), mac)
		if err != nil {
			logging.Warn("dhcp4: discover allocate failed for %s: %v", mac, err)
			return
		}
		reply, err := a.offer(m, ip, cfg)
		if err != nil {
			logging.Warn("dhcp4: build offer failed: %v", err)
			return
		}
		if _, err := sock.WriteTo(reply.ToBytes(), dest); err != nil {
			logging.Warn("dhcp4: write offer failed: %v", err)
		}

	case dhcpv4.MessageTypeRequest:
		requested := m.RequestedIPAddress()
		if requested == nil {
			requested = m.ClientIPAddr
		}
		ip, err := store.Allocate(time.Now(), mac)
		if err != nil {
			logging.Warn("dhcp4: request allocate failed for %s: %v", mac, err)
			return
		}
		if !ip.Equal(requested) && requested != nil && !requested.IsUnspecified() {
			nak, _ := dhcpv4.NewReplyFromRequest(m,
				dhcpv4.WithMessageType(dhcpv4.MessageTypeNak),
				dhcpv4.WithServerIP(cfg.Router))
			sock.WriteTo(nak.ToBytes(), dest)
			return
		}
		reply, err := a.ack(m, ip, cfg)
		if err != nil {
			logging.Warn("dhcp4: build ack failed: %v", err)
			return
		}
		if _, err := sock.WriteTo(reply.ToBytes(), dest); err != nil {
			logging.Warn("dhcp4: write ack failed: %v", err)
		}
		if a.sink != nil {
			hostname := m.HostName()
			if cfg.Domain != "" && hostname != "" {
				hostname = hostname + "." + cfg.Domain
			}
			go a.sink.OnLease(mac, ip, hostname)
		}

	case dhcpv4.MessageTypeRelease:
		store.Release(mac)
	}
}

func (a *Actor) offer(m *dhcpv4.DHCPv4, ip net.IP, cfg Config) (*dhcpv4.DHCPv4, error) {
	return dhcpv4.NewReplyFromRequest(m, a.replyModifiers(dhcpv4.MessageTypeOffer, ip, cfg)...)
}

func (a *Actor) ack(m *dhcpv4.DHCPv4, ip net.IP, cfg Config) (*dhcpv4.DHCPv4, error) {
	return dhcpv4.NewReplyFromRequest(m, a.replyModifiers(dhcpv4.MessageTypeAck, ip, cfg)...)
}

func (a *Actor) replyModifiers(kind dhcpv4.MessageType, ip net.IP, cfg Config) []dhcpv4.Modifier {
	mods := []dhcpv4.Modifier{
		dhcpv4.WithMessageType(kind),
		dhcpv4.WithYourIP(ip),
		dhcpv4.WithServerIP(cfg.Router),
		dhcpv4.WithRouter(cfg.Router),
		dhcpv4.WithLeaseTime(uint32(cfg.LeaseTime.Seconds())),
	}
	if cfg.Subnet != nil {
		mods = append(mods, dhcpv4.WithNetmask(cfg.Subnet.Mask))
	}
	if len(cfg.DNS) > 0 {
		mods = append(mods, dhcpv4.WithDNS(cfg.DNS...))
	}
	if cfg.Domain != "" {
		mods = append(mods, dhcpv4.WithDomainSearchList(cfg.Domain))
	}
	return mods
}
