// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package staticnat

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"landscape.router/core/internal/ebpf/types"
)

type fakeTable struct {
	added   []types.StaticNatKey
	removed []types.StaticNatKey
}

func (t *fakeTable) Add(key, value any) {
	t.added = append(t.added, *key.(*types.StaticNatKey))
}

func (t *fakeTable) Del(key any) {
	t.removed = append(t.removed, *key.(*types.StaticNatKey))
}

func addr(ip string) types.Addr16 {
	return types.AddrFromIP(net.ParseIP(ip))
}

func TestReconcileInstallsIngressAndEgressForEnabledMapping(t *testing.T) {
	table := &fakeTable{}
	m := New(table)

	diff := m.Reconcile([]StaticNatMapping{{
		ID: "m1", Enable: true, WanPort: 8080, LanPort: 80, LanIP: addr("192.168.1.10"), L4Proto: ProtoTCP,
	}})

	require.Len(t, diff.Adds, 2)
	require.Len(t, table.added, 2)
	require.Empty(t, diff.Removes)

	var sawIngress, sawEgress bool
	for _, k := range table.added {
		switch k.Direction {
		case types.NatIngress:
			sawIngress = true
			require.EqualValues(t, 8080, k.WanPort)
		case types.NatEgress:
			sawEgress = true
			require.EqualValues(t, 80, k.LanPort)
		}
	}
	require.True(t, sawIngress)
	require.True(t, sawEgress)
}

func TestReconcileSkipsDisabledMapping(t *testing.T) {
	table := &fakeTable{}
	m := New(table)

	diff := m.Reconcile([]StaticNatMapping{{
		ID: "m1", Enable: false, WanPort: 8080, LanPort: 80, LanIP: addr("192.168.1.10"), L4Proto: ProtoTCP,
	}})

	require.Empty(t, diff.Adds)
	require.Empty(t, table.added)
}

func TestReconcileComputesSymmetricDiffOnChange(t *testing.T) {
	table := &fakeTable{}
	m := New(table)

	m.Reconcile([]StaticNatMapping{{
		ID: "m1", Enable: true, WanPort: 8080, LanPort: 80, LanIP: addr("192.168.1.10"), L4Proto: ProtoTCP,
	}})
	table.added = nil

	diff := m.Reconcile([]StaticNatMapping{{
		ID: "m1", Enable: true, WanPort: 9090, LanPort: 80, LanIP: addr("192.168.1.10"), L4Proto: ProtoTCP,
	}})

	require.Len(t, diff.Removes, 1)
	require.Len(t, diff.Adds, 2)
}

func TestReconcileIsNoopWhenUnchanged(t *testing.T) {
	table := &fakeTable{}
	m := New(table)
	mapping := []StaticNatMapping{{
		ID: "m1", Enable: true, WanPort: 8080, LanPort: 80, LanIP: addr("192.168.1.10"), L4Proto: ProtoTCP,
	}}

	m.Reconcile(mapping)
	table.added = nil
	table.removed = nil

	diff := m.Reconcile(mapping)
	require.Empty(t, diff.Adds)
	require.Empty(t, diff.Removes)
	require.Empty(t, table.added)
	require.Empty(t, table.removed)
}

func TestUnspecifiedLanIPEgressMatchesAnySource(t *testing.T) {
	table := &fakeTable{}
	m := New(table)

	diff := m.Reconcile([]StaticNatMapping{{
		ID: "m1", Enable: true, WanPort: 22, LanPort: 22, LanIP: types.Addr16{Proto: types.L3ProtoV4}, L4Proto: ProtoTCP,
	}})

	var egress types.StaticNatKey
	for _, e := range diff.Adds {
		if e.key.Direction == types.NatEgress {
			egress = e.key
		}
	}
	require.True(t, net.IP(egress.LanIP.Bytes[:4]).IsUnspecified())
}

type fakeRegistrar struct {
	flowID  uint8
	ifindex uint32
	err     error
}

func (r *fakeRegistrar) RegisterSiblingTarget(flowID uint8, ifindex uint32) error {
	r.flowID = flowID
	r.ifindex = ifindex
	return r.err
}

func TestRegisterSiblingContainerWiresIfindexToFlow(t *testing.T) {
	reg := &fakeRegistrar{}
	err := RegisterSiblingContainer(reg, 4, DockerEnroll{ID: "abc123", Ifindex: 12})
	require.NoError(t, err)
	require.EqualValues(t, 4, reg.flowID)
	require.EqualValues(t, 12, reg.ifindex)
}

func TestRegisterSiblingContainerRejectsZeroIfindex(t *testing.T) {
	reg := &fakeRegistrar{}
	err := RegisterSiblingContainer(reg, 4, DockerEnroll{ID: "abc123", Ifindex: 0})
	require.Error(t, err)
}
