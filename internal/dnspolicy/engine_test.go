// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dnspolicy

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"landscape.router/core/internal/dnsmatch"
	"landscape.router/core/internal/dnsresolve"
	"landscape.router/core/internal/ebpf/types"
	"landscape.router/core/internal/eventbus"
)

type fakeStore struct {
	entries map[string]types.VerdictDnsValue
}

func newFakeStore() *fakeStore { return &fakeStore{entries: make(map[string]types.VerdictDnsValue)} }

func (f *fakeStore) Lookup(key, value any) error {
	k := key.(*types.VerdictDnsKey)
	v, ok := f.entries[k.Addr.String()]
	if !ok {
		return fmt.Errorf("not found")
	}
	*(value.(*types.VerdictDnsValue)) = v
	return nil
}

func (f *fakeStore) Add(key, value any) {
	k := key.(*types.VerdictDnsKey)
	v := value.(*types.VerdictDnsValue)
	f.entries[k.Addr.String()] = *v
}

func startUpstream(t *testing.T, ip string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &dns.Server{PacketConn: pc, Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		msg := new(dns.Msg)
		msg.SetReply(r)
		rr, _ := dns.NewRR(fmt.Sprintf("%s 60 IN A %s", r.Question[0].Name, ip))
		msg.Answer = append(msg.Answer, rr)
		w.WriteMsg(msg)
	})}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestHandleRedirectShortCircuit(t *testing.T) {
	store := newFakeStore()
	bus := eventbus.New()
	e := New(store, bus)

	redirect, err := dnsmatch.Build([]dnsmatch.Entry[RedirectInfo]{
		{Kind: dnsmatch.KindFull, Pattern: "blocked.example.", Value: RedirectInfo{}},
	})
	require.NoError(t, err)
	rules, err := dnsmatch.Build[RuleHandlerInfo](nil)
	require.NoError(t, err)

	e.SetPolicy(&FlowPolicy{FlowID: 1, Redirect: redirect, Rules: rules, Resolvers: map[string]*dnsresolve.Resolver{}})

	req := new(dns.Msg)
	req.SetQuestion("blocked.example.", dns.TypeA)
	resp, err := e.Handle(context.Background(), 1, req)
	require.NoError(t, err)
	require.Equal(t, dns.RcodeNameError, resp.Rcode)
}

func TestHandleResolveAndInstallMark(t *testing.T) {
	store := newFakeStore()
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.KindDns, 4)
	defer sub.Close()
	e := New(store, bus)

	addr := startUpstream(t, "203.0.113.55") // documentation range: not globally routable
	resolver := dnsresolve.New(dnsresolve.Config{Address: addr, Mode: dnsresolve.ModePlaintext, DialTimeout: 2 * time.Second})

	redirect, _ := dnsmatch.Build[RedirectInfo](nil)
	rules, _ := dnsmatch.Build[RuleHandlerInfo](nil)

	e.SetPolicy(&FlowPolicy{
		FlowID:   2,
		Redirect: redirect,
		Rules:    rules,
		Default:  RuleHandlerInfo{ResolverID: "up", Mark: types.FlowMark{Action: types.FlowDirect}, Priority: 1, ValidateIP: true},
		Resolvers: map[string]*dnsresolve.Resolver{"up": resolver},
	})

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	resp, err := e.Handle(context.Background(), 2, req)
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)

	// 203.0.113.0/24 is a documentation range: ValidateIP must suppress the mark.
	require.Empty(t, store.entries)

	select {
	case ev := <-sub.Events():
		require.Equal(t, "example.com.", ev.(eventbus.DnsEvent).Domain)
	case <-time.After(time.Second):
		t.Fatal("expected a DnsEvent metric")
	}
}

func TestHandleUnknownFlowIsServFail(t *testing.T) {
	e := New(newFakeStore(), eventbus.New())
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	resp, err := e.Handle(context.Background(), 99, req)
	require.Error(t, err)
	require.Equal(t, dns.RcodeServerFailure, resp.Rcode)
}
