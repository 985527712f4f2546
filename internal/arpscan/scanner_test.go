// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package arpscan

import (
	"context"
	"io"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu      sync.Mutex
	frames  [][]byte
	idx     int
	written [][]byte
}

func (c *fakeConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), b...))
	return len(b), nil
}

func (c *fakeConn) ReadFrom(b []byte) (int, net.Addr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idx < len(c.frames) {
		n := copy(b, c.frames[c.idx])
		c.idx++
		return n, nil, nil
	}
	return 0, nil, io.EOF
}

func (c *fakeConn) Close() error                          { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error      { return nil }
func (c *fakeConn) writtenCount() int                      { c.mu.Lock(); defer c.mu.Unlock(); return len(c.written) }

func TestHostAddrsExcludesNetworkBroadcastAndServer(t *testing.T) {
	prefix := netip.MustParsePrefix("192.168.1.0/29")
	server := net.ParseIP("192.168.1.1")

	hosts := hostAddrs(prefix, server)

	require.Len(t, hosts, 5) // /29 has 6 usable host addrs, minus server
	for _, h := range hosts {
		require.False(t, h.Equal(net.ParseIP("192.168.1.0")))
		require.False(t, h.Equal(net.ParseIP("192.168.1.7")))
		require.False(t, h.Equal(server))
	}
}

func TestHostAddrsOnV6PrefixIsEmpty(t *testing.T) {
	prefix := netip.MustParsePrefix("fd00::/120")
	hosts := hostAddrs(prefix, nil)
	require.Empty(t, hosts)
}

func TestBuildARPRequestProducesDecodableFrame(t *testing.T) {
	srcMAC := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	frame, err := buildARPRequest(srcMAC, net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.5"))
	require.NoError(t, err)

	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	arpLayer := pkt.Layer(layers.LayerTypeARP)
	require.NotNil(t, arpLayer)
	arp := arpLayer.(*layers.ARP)
	require.Equal(t, layers.ARPRequest, arp.Operation)
	require.True(t, net.IP(arp.DstProtAddress).Equal(net.ParseIP("10.0.0.5").To4()))
}

func TestSendLoopWritesOneFramePerHost(t *testing.T) {
	conn := &fakeConn{}
	s := New(conn, net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01})
	hosts := []net.IP{net.ParseIP("10.0.0.2"), net.ParseIP("10.0.0.3"), net.ParseIP("10.0.0.4")}

	s.sendLoop(context.Background(), net.ParseIP("10.0.0.1"), hosts)

	require.Equal(t, 3, conn.writtenCount())
}

func TestSendLoopStopsOnContextCancel(t *testing.T) {
	conn := &fakeConn{}
	s := New(conn, net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.sendLoop(ctx, net.ParseIP("10.0.0.1"), []net.IP{net.ParseIP("10.0.0.2")})

	require.Equal(t, 0, conn.writtenCount())
}

func buildReplyFrame(t *testing.T, mac net.HardwareAddr, ip net.IP) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: mac, DstMAC: broadcastMAC, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
		HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPReply,
		SourceHwAddress: mac, SourceProtAddress: ip.To4(),
		DstHwAddress: mac, DstProtAddress: ip.To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, arp))
	return buf.Bytes()
}

func TestReceiveLoopEmitsResultForARPReply(t *testing.T) {
	mac := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	ip := net.ParseIP("192.168.1.50")
	conn := &fakeConn{frames: [][]byte{buildReplyFrame(t, mac, ip)}}
	s := New(conn, net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	out := make(chan Result, 4)
	done := make(chan struct{})
	go s.receiveLoop(ctx, out, done)

	select {
	case r := <-out:
		require.Equal(t, mac.String(), r.MAC.String())
		require.True(t, r.IP.Equal(ip.To4()))
	case <-time.After(time.Second):
		t.Fatal("expected a Result from the ARP reply frame")
	}
}

func TestScanClosesChannelAfterCancel(t *testing.T) {
	conn := &fakeConn{}
	s := New(conn, net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01})
	ctx, cancel := context.WithCancel(context.Background())

	out, err := s.Scan(ctx, net.ParseIP("10.0.0.1"), netip.MustParsePrefix("10.0.0.0/30"))
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-out:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected Scan's channel to close promptly after cancellation")
	}
}
