// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dhcp6pd

import (
	"context"
	"net"
	"net/netip"

	"github.com/insomniacslk/dhcp/dhcpv6"

	"landscape.router/core/internal/errors"
)

// dhcpv6Client solicits a delegated prefix over a real DHCPv6 exchange:
// multicast Solicit to ff02::1:2, take the first Advertise, Request it,
// and decode the IA_PD the server hands back in the Reply.
type dhcpv6Client struct{}

// NewWireClient returns the production Client, speaking DHCPv6 over a UDP
// socket bound to the client port (546) on iface.
func NewWireClient() Client {
	return dhcpv6Client{}
}

var allDHCPRelayAgentsAndServers = &net.UDPAddr{IP: net.ParseIP("ff02::1:2"), Port: dhcpv6.DefaultServerPort}

func (dhcpv6Client) Solicit(ctx context.Context, iface string, iaid [4]byte) (DelegatedPrefix, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return DelegatedPrefix{}, errors.Wrapf(err, errors.KindUnavailable, "dhcp6pd: resolve interface %s", iface)
	}

	conn, err := net.ListenUDP("udp6", &net.UDPAddr{Port: dhcpv6.DefaultClientPort, Zone: iface})
	if err != nil {
		return DelegatedPrefix{}, errors.Wrapf(err, errors.KindUnavailable, "dhcp6pd: bind client socket on %s", iface)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	solicit, err := dhcpv6.NewSolicit(ifi.HardwareAddr, dhcpv6.WithIAPD(iaid))
	if err != nil {
		return DelegatedPrefix{}, errors.Wrapf(err, errors.KindInternal, "dhcp6pd: build solicit")
	}
	dst := *allDHCPRelayAgentsAndServers
	dst.Zone = iface
	if _, err := conn.WriteTo(solicit.ToBytes(), &dst); err != nil {
		return DelegatedPrefix{}, errors.Wrapf(err, errors.KindUnavailable, "dhcp6pd: send solicit on %s", iface)
	}

	advertise, err := readMessage(conn)
	if err != nil {
		return DelegatedPrefix{}, errors.Wrapf(err, errors.KindUpstreamResolver, "dhcp6pd: read advertise on %s", iface)
	}

	request, err := dhcpv6.NewRequestFromAdvertise(advertise)
	if err != nil {
		return DelegatedPrefix{}, errors.Wrapf(err, errors.KindInternal, "dhcp6pd: build request")
	}
	if _, err := conn.WriteTo(request.ToBytes(), &dst); err != nil {
		return DelegatedPrefix{}, errors.Wrapf(err, errors.KindUnavailable, "dhcp6pd: send request on %s", iface)
	}

	reply, err := readMessage(conn)
	if err != nil {
		return DelegatedPrefix{}, errors.Wrapf(err, errors.KindUpstreamResolver, "dhcp6pd: read reply on %s", iface)
	}

	return delegatedPrefixFromMessage(reply)
}

func readMessage(conn *net.UDPConn) (*dhcpv6.Message, error) {
	buf := make([]byte, 4096)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		return nil, err
	}
	decoded, err := dhcpv6.FromBytes(buf[:n])
	if err != nil {
		return nil, err
	}
	msg, ok := decoded.(*dhcpv6.Message)
	if !ok {
		return nil, errors.New(errors.KindUpstreamResolver, "dhcp6pd: unexpected relay-wrapped response")
	}
	return msg, nil
}

func delegatedPrefixFromMessage(msg *dhcpv6.Message) (DelegatedPrefix, error) {
	iapd := msg.Options.OneIAPD()
	if iapd == nil {
		return DelegatedPrefix{}, errors.New(errors.KindUpstreamResolver, "dhcp6pd: reply carries no IA_PD")
	}
	for _, opt := range iapd.Options.Options {
		prefixOpt, ok := opt.(*dhcpv6.OptIAPrefix)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(prefixOpt.Prefix.IP.To16())
		if !ok {
			continue
		}
		ones, _ := prefixOpt.Prefix.Mask.Size()
		prefix := netip.PrefixFrom(addr, ones)
		return DelegatedPrefix{
			Prefix:            prefix,
			PreferredLifetime: prefixOpt.PreferredLifetime,
			ValidLifetime:     prefixOpt.ValidLifetime,
		}, nil
	}
	return DelegatedPrefix{}, errors.New(errors.KindUpstreamResolver, "dhcp6pd: IA_PD carries no prefix option")
}
