// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dhcp4

import (
	"net"

	"github.com/insomniacslk/dhcp/dhcpv4/server4"

	"landscape.router/core/internal/errors"
)

// udpBinder is the production Binder, binding UDP/67 on iface via
// server4's SO_REUSEADDR-enabled helper.
type udpBinder struct{}

// NewUDPBinder constructs the production Binder.
func NewUDPBinder() Binder { return udpBinder{} }

func (udpBinder) Bind(iface string) (Socket, error) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: 67}
	conn, err := server4.NewIPv4UDPConn(iface, addr)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "dhcp4: bind %s:67", iface)
	}
	return conn, nil
}
