// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeOrder(t *testing.T) {
	b := New()
	sub := b.Subscribe(KindFlow, 4)
	defer sub.Close()

	b.Publish(KindFlow, FlowEvent{FlowID: 1})
	b.Publish(KindFlow, FlowEvent{FlowID: 2})
	b.Publish(KindFlow, FlowEvent{FlowID: 3})

	for _, want := range []uint8{1, 2, 3} {
		select {
		case ev := <-sub.Events():
			require.Equal(t, want, ev.(FlowEvent).FlowID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestSubscribersAreIndependentByKind(t *testing.T) {
	b := New()
	dns := b.Subscribe(KindDns, 2)
	geo := b.Subscribe(KindGeoUpdated, 2)
	defer dns.Close()
	defer geo.Close()

	b.Publish(KindDns, DnsEvent{Domain: "example.com"})

	select {
	case <-geo.Events():
		t.Fatal("geo subscriber should not receive dns events")
	default:
	}

	select {
	case ev := <-dns.Events():
		require.Equal(t, "example.com", ev.(DnsEvent).Domain)
	default:
		t.Fatal("dns subscriber should have received the event")
	}
}

func TestGeoUpdatedDropsOldestUnderBackpressure(t *testing.T) {
	b := New()
	sub := b.Subscribe(KindGeoUpdated, 1)
	defer sub.Close()

	b.Publish(KindGeoUpdated, GeoUpdated{Country: "US"})
	b.Publish(KindGeoUpdated, GeoUpdated{Country: "CN"})

	ev := <-sub.Events()
	require.Equal(t, "CN", ev.(GeoUpdated).Country)
}

func TestCloseStopsDelivery(t *testing.T) {
	b := New()
	sub := b.Subscribe(KindDstIP, 1)
	sub.Close()

	b.Publish(KindDstIP, DstIpEvent{FlowID: 7})

	_, ok := <-sub.Events()
	require.False(t, ok, "channel should be closed after unsubscribe")
}
