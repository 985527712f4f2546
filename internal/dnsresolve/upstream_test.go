// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dnsresolve

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func startTestUDPServer(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &dns.Server{PacketConn: pc, Handler: handler}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestLookupRecords(t *testing.T) {
	addr := startTestUDPServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		msg := new(dns.Msg)
		msg.SetReply(r)
		rr, _ := dns.NewRR("example.com. 60 IN A 93.184.216.34")
		msg.Answer = append(msg.Answer, rr)
		w.WriteMsg(msg)
	})

	r := New(Config{Address: addr, Mode: ModePlaintext, DialTimeout: 2 * time.Second})
	out, err := r.Lookup(context.Background(), "example.com", dns.TypeA)
	require.NoError(t, err)
	require.False(t, out.NoRecords)
	require.False(t, out.ServFail)
	require.Len(t, out.Records, 1)
}

func TestLookupNoRecords(t *testing.T) {
	addr := startTestUDPServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		msg := new(dns.Msg)
		msg.SetReply(r)
		w.WriteMsg(msg)
	})

	r := New(Config{Address: addr, Mode: ModePlaintext, DialTimeout: 2 * time.Second})
	out, err := r.Lookup(context.Background(), "nothing.example", dns.TypeA)
	require.NoError(t, err)
	require.True(t, out.NoRecords)
}

func TestLookupServFail(t *testing.T) {
	addr := startTestUDPServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		msg := new(dns.Msg)
		msg.SetReply(r)
		msg.Rcode = dns.RcodeServerFailure
		w.WriteMsg(msg)
	})

	r := New(Config{Address: addr, Mode: ModePlaintext, DialTimeout: 2 * time.Second})
	out, err := r.Lookup(context.Background(), "broken.example", dns.TypeA)
	require.NoError(t, err)
	require.True(t, out.ServFail)
	require.Equal(t, dns.RcodeServerFailure, out.Rcode)
}

func TestLookupTransportErrorIsServFail(t *testing.T) {
	r := New(Config{Address: "127.0.0.1:1", Mode: ModePlaintext, DialTimeout: 200 * time.Millisecond})
	out, err := r.Lookup(context.Background(), "example.com", dns.TypeA)
	require.Error(t, err)
	require.True(t, out.ServFail)
}
