// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package routectl

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"landscape.router/core/internal/ebpf/types"
)

type fakeTable struct {
	added   int
	removed int
}

func (f *fakeTable) Add(key, value any) { f.added++ }
func (f *fakeTable) Del(key any)        { f.removed++ }

type fakeApplier struct {
	replacedV4, replacedV6 []Nexthop
	deletedV4, deletedV6   bool
}

func (f *fakeApplier) ReplaceDefault(v6 bool, nexthops []Nexthop) error {
	if v6 {
		f.replacedV6 = nexthops
	} else {
		f.replacedV4 = nexthops
	}
	return nil
}

func (f *fakeApplier) DeleteDefault(v6 bool) error {
	if v6 {
		f.deletedV6 = true
	} else {
		f.deletedV4 = true
	}
	return nil
}

func addr(ip string) types.Addr16 { return types.AddrFromIP(net.ParseIP(ip)) }

func TestSetLanEntriesResolvesLongestPrefix(t *testing.T) {
	c := New(&fakeTable{}, &fakeTable{}, nil)
	c.SetLanEntries([]LanEntry{
		{Prefix: NewPrefix(addr("192.168.0.0"), 16), Ifindex: 2},
		{Prefix: NewPrefix(addr("192.168.1.0"), 24), Ifindex: 3},
	})

	entry, ok := c.ResolveLan(addr("192.168.1.50"))
	require.True(t, ok)
	require.EqualValues(t, 3, entry.Ifindex, "the /24 is the longer, more specific match")

	entry, ok = c.ResolveLan(addr("192.168.9.9"))
	require.True(t, ok)
	require.EqualValues(t, 2, entry.Ifindex)

	_, ok = c.ResolveLan(addr("10.0.0.1"))
	require.False(t, ok)
}

func TestSetFlowTargetsSynthesizesDefaultRoute(t *testing.T) {
	lan, wan := &fakeTable{}, &fakeTable{}
	apply := &fakeApplier{}
	c := New(lan, wan, apply)

	err := c.SetFlowTargets(1, []WanTarget{
		{FlowID: 1, Ifindex: 5, Gateway: addr("203.0.113.1"), Weight: 1},
	})
	require.NoError(t, err)
	require.Len(t, apply.replacedV4, 1)
	require.Equal(t, 5, apply.replacedV4[0].Ifindex)
	require.Equal(t, 1, wan.added) // Del-then-Add reconcile still issues an Add
}

func TestSetFlowTargetsEmptySetDeletesDefaultRoute(t *testing.T) {
	apply := &fakeApplier{}
	c := New(&fakeTable{}, &fakeTable{}, apply)

	require.NoError(t, c.SetFlowTargets(1, []WanTarget{
		{FlowID: 1, Ifindex: 5, Gateway: addr("203.0.113.1"), Weight: 1},
	}))
	require.NoError(t, c.SetFlowTargets(1, nil))
	require.True(t, apply.deletedV4)
}

func TestSetFlowTargetsNoopWhenUnchanged(t *testing.T) {
	wan := &fakeTable{}
	apply := &fakeApplier{}
	c := New(&fakeTable{}, wan, apply)

	targets := []WanTarget{{FlowID: 1, Ifindex: 5, Gateway: addr("203.0.113.1"), Weight: 1}}
	require.NoError(t, c.SetFlowTargets(1, targets))
	addedAfterFirst := wan.added

	require.NoError(t, c.SetFlowTargets(1, targets))
	require.Equal(t, addedAfterFirst, wan.added, "unchanged target set must not rewrite the table or reissue the route")
}

func TestPPPNexthopOmitsGateway(t *testing.T) {
	apply := &fakeApplier{}
	c := New(&fakeTable{}, &fakeTable{}, apply)

	require.NoError(t, c.SetFlowTargets(1, []WanTarget{
		{FlowID: 1, Ifindex: 7, Weight: 1, IsPPP: true},
	}))
	require.Len(t, apply.replacedV4, 1)
	require.True(t, apply.replacedV4[0].Gateway == (types.Addr16{}))
}
