// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ra

import (
	"net"
	"net/netip"

	"github.com/mdlayher/ndp"

	"landscape.router/core/internal/errors"
)

// ndpConn adapts a real *ndp.Conn (raw ICMPv6 socket bound to ff02::2)
// to the Conn seam, dropping the golang.org/x/net/ipv6 control message
// the actor has no use for.
type ndpConn struct {
	conn *ndp.Conn
}

// DialInterface opens a raw ICMPv6 NDP socket on iface, the production
// Conn constructor passed to NewActor.
func DialInterface(iface string) (Conn, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "ra: resolve interface %s", iface)
	}
	conn, _, err := ndp.Listen(ifi, ndp.LinkLocal)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "ra: open ndp conn on %s", iface)
	}
	if err := conn.JoinGroup(netip.MustParseAddr("ff02::2")); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, errors.KindUnavailable, "ra: join all-routers multicast on %s", iface)
	}
	return &ndpConn{conn: conn}, nil
}

func (c *ndpConn) WriteTo(m ndp.Message, dst netip.Addr) error {
	return c.conn.WriteTo(m, nil, dst)
}

func (c *ndpConn) ReadFrom() (ndp.Message, netip.Addr, error) {
	m, _, from, err := c.conn.ReadFrom()
	return m, from, err
}

func (c *ndpConn) Close() error {
	return c.conn.Close()
}
