// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ifctl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeLinker struct {
	bridges   []string
	bonds     []string
	masters   map[string]string
	cleared   []string
	up        map[string]bool
	mtu       map[string]int
	wifi      map[string]WifiMode
	deleted   []string
}

func newFakeLinker() *fakeLinker {
	return &fakeLinker{
		masters: make(map[string]string),
		up:      make(map[string]bool),
		mtu:     make(map[string]int),
		wifi:    make(map[string]WifiMode),
	}
}

func (f *fakeLinker) EnsureBridge(name string) error { f.bridges = append(f.bridges, name); return nil }
func (f *fakeLinker) EnsureBond(name string) error    { f.bonds = append(f.bonds, name); return nil }
func (f *fakeLinker) SetMaster(member, parent string) error {
	f.masters[member] = parent
	return nil
}
func (f *fakeLinker) ClearMaster(member string) error {
	f.cleared = append(f.cleared, member)
	delete(f.masters, member)
	return nil
}
func (f *fakeLinker) SetUp(name string, up bool) error        { f.up[name] = up; return nil }
func (f *fakeLinker) SetMTU(name string, mtu int) error        { f.mtu[name] = mtu; return nil }
func (f *fakeLinker) SetWifiMode(name string, mode WifiMode) error { f.wifi[name] = mode; return nil }
func (f *fakeLinker) DeleteLink(name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

func TestReconcileCreatesBridgeAndEnslavesMembers(t *testing.T) {
	link := newFakeLinker()
	c := New(link)

	require.NoError(t, c.Reconcile([]Interface{
		{Name: "br0", Enable: true, Bridge: true, Members: []string{"eth0", "eth1"}},
	}))

	require.Contains(t, link.bridges, "br0")
	require.Equal(t, "br0", link.masters["eth0"])
	require.Equal(t, "br0", link.masters["eth1"])
	require.True(t, link.up["br0"])
}

func TestReconcileReleasesRemovedMember(t *testing.T) {
	link := newFakeLinker()
	c := New(link)

	require.NoError(t, c.Reconcile([]Interface{
		{Name: "br0", Enable: true, Bridge: true, Members: []string{"eth0", "eth1"}},
	}))
	require.NoError(t, c.Reconcile([]Interface{
		{Name: "br0", Enable: true, Bridge: true, Members: []string{"eth0"}},
	}))

	require.Contains(t, link.cleared, "eth1")
	require.Equal(t, "br0", link.masters["eth0"])
}

func TestReconcileDeletesDroppedInterface(t *testing.T) {
	link := newFakeLinker()
	c := New(link)

	require.NoError(t, c.Reconcile([]Interface{{Name: "vlan10", Enable: true}}))
	require.NoError(t, c.Reconcile(nil))

	require.Contains(t, link.deleted, "vlan10")
}

func TestReconcileSetsWifiModeAndDownState(t *testing.T) {
	link := newFakeLinker()
	c := New(link)

	require.NoError(t, c.Reconcile([]Interface{
		{Name: "wlan0", Enable: false, Wifi: WifiModeAP},
	}))

	require.Equal(t, WifiModeAP, link.wifi["wlan0"])
	require.False(t, link.up["wlan0"])
}
