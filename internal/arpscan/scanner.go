// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package arpscan is the ARP scanner (§4.12): given an interface and a
// prefix, it floods ARP requests for every host address in the prefix,
// throttled to avoid saturating the link, and collects replies off a raw
// socket in parallel until the scan is cancelled or the linger window
// after the last request elapses.
package arpscan

import (
	"context"
	"encoding/binary"
	"net"
	"net/netip"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/mdlayher/packet"

	"landscape.router/core/internal/errors"
	"landscape.router/core/internal/logging"
)

const (
	throttleBatch = 255
	throttlePause = time.Second
	lingerAfter   = 5 * time.Second
	ethPARP       = 0x0806
)

// Result is one discovered (sender-mac, sender-ip) pair.
type Result struct {
	MAC net.HardwareAddr
	IP  net.IP
}

// Conn is the raw-socket seam the scanner sends/receives frames through,
// kept as an interface so the send/throttle/collect logic is testable
// without a real packet socket.
type Conn interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
	ReadFrom(b []byte) (int, net.Addr, error)
	Close() error
	SetReadDeadline(t time.Time) error
}

// Scanner sweeps one interface/prefix for live hosts via ARP.
type Scanner struct {
	conn     Conn
	ifaceMAC net.HardwareAddr
}

// New constructs a Scanner sending through conn from ifaceMAC. Production
// callers obtain conn via NewPacketConn; tests substitute a fake.
func New(conn Conn, ifaceMAC net.HardwareAddr) *Scanner {
	return &Scanner{conn: conn, ifaceMAC: ifaceMAC}
}

// NewPacketConn opens a raw AF_PACKET socket bound to ifi, listening for
// ARP frames (ETH_P_ARP), via mdlayher/packet.
func NewPacketConn(ifi *net.Interface) (Conn, error) {
	conn, err := packet.Listen(ifi, packet.Raw, ethPARP, nil)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "open packet socket on %s", ifi.Name)
	}
	return conn, nil
}

// Scan iterates every host address in prefix (excluding network,
// broadcast, and serverIP), sending an ARP request for each at a
// throttle of 255 requests then ~1s sleep, while a parallel reader
// collects replies onto the returned channel. The scan completes 5s
// after the last request is sent, or immediately on ctx cancellation;
// either way the channel is closed when the scan ends.
func (s *Scanner) Scan(ctx context.Context, serverIP net.IP, prefix netip.Prefix) (<-chan Result, error) {
	hosts := hostAddrs(prefix, serverIP)
	out := make(chan Result, 64)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go s.receiveLoop(ctx, out, done)
	go func() {
		defer cancel()
		defer close(out)
		defer close(done)
		s.sendLoop(ctx, serverIP, hosts)
		select {
		case <-ctx.Done():
		case <-time.After(lingerAfter):
		}
	}()

	return out, nil
}

func (s *Scanner) sendLoop(ctx context.Context, serverIP net.IP, hosts []net.IP) {
	sent := 0
	for _, ip := range hosts {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := buildARPRequest(s.ifaceMAC, serverIP, ip)
		if err != nil {
			logging.Warn("arpscan: build request for %s failed: %v", ip, err)
			continue
		}
		addr := &packet.Addr{HardwareAddr: broadcastMAC}
		if _, err := s.conn.WriteTo(frame, addr); err != nil {
			logging.Warn("arpscan: send request for %s failed: %v", ip, err)
		}

		sent++
		if sent%throttleBatch == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(throttlePause):
			}
		}
	}
}

func (s *Scanner) receiveLoop(ctx context.Context, out chan<- Result, done <-chan struct{}) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, _, err := s.conn.ReadFrom(buf)
		if err != nil {
			continue
		}

		pkt := gopacket.NewPacket(buf[:n], layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		arpLayer := pkt.Layer(layers.LayerTypeARP)
		if arpLayer == nil {
			continue
		}
		arp := arpLayer.(*layers.ARP)
		if arp.Operation != layers.ARPReply {
			continue
		}

		result := Result{
			MAC: net.HardwareAddr(append([]byte(nil), arp.SourceHwAddress...)),
			IP:  net.IP(append([]byte(nil), arp.SourceProtAddress...)),
		}
		select {
		case out <- result:
		case <-ctx.Done():
			return
		}
	}
}

var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func buildARPRequest(srcMAC net.HardwareAddr, srcIP, dstIP net.IP) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       broadcastMAC,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: srcIP.To4(),
		DstHwAddress:      net.HardwareAddr{0, 0, 0, 0, 0, 0},
		DstProtAddress:    dstIP.To4(),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "serialize arp request")
	}
	return buf.Bytes(), nil
}

// hostAddrs enumerates every usable host address in prefix, excluding the
// network address, broadcast address, and serverIP (§4.12).
func hostAddrs(prefix netip.Prefix, serverIP net.IP) []net.IP {
	prefix = prefix.Masked()
	base := prefix.Addr()
	if !base.Is4() {
		return nil
	}

	bits := prefix.Bits()
	hostBits := 32 - bits
	if hostBits <= 0 {
		return nil
	}
	count := uint32(1) << uint(hostBits)
	if count < 2 {
		return nil
	}

	network := addrToUint32(base)
	broadcast := network + count - 1
	serverN := uint32(0)
	if serverIP != nil {
		if v4 := serverIP.To4(); v4 != nil {
			serverN = binary.BigEndian.Uint32(v4)
		}
	}

	hosts := make([]net.IP, 0, count)
	for n := network + 1; n < broadcast; n++ {
		if n == serverN {
			continue
		}
		hosts = append(hosts, uint32ToIP(n))
	}
	return hosts
}

func addrToUint32(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

func uint32ToIP(n uint32) net.IP {
	b := make(net.IP, 4)
	binary.BigEndian.PutUint32(b, n)
	return b
}
