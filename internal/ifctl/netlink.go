// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ifctl

import (
	"github.com/vishvananda/netlink"

	"landscape.router/core/internal/errors"
	"landscape.router/core/internal/logging"
)

// netlinkLinker is the production Linker, issuing link changes through
// vishvananda/netlink, the same library internal/routectl's
// netlinkApplier wraps for the routing table.
type netlinkLinker struct{}

// NewNetlinkLinker returns the production Linker.
func NewNetlinkLinker() Linker { return netlinkLinker{} }

func (netlinkLinker) EnsureBridge(name string) error {
	if _, err := netlink.LinkByName(name); err == nil {
		return nil
	}
	br := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: name}}
	if err := netlink.LinkAdd(br); err != nil {
		return errors.Wrapf(err, errors.KindDatapathAttach, "create bridge %s", name)
	}
	return nil
}

func (netlinkLinker) EnsureBond(name string) error {
	if _, err := netlink.LinkByName(name); err == nil {
		return nil
	}
	bond := netlink.NewLinkBond(netlink.NewLinkAttrs())
	bond.Name = name
	bond.Mode = netlink.BOND_MODE_802_3AD
	if err := netlink.LinkAdd(bond); err != nil {
		return errors.Wrapf(err, errors.KindDatapathAttach, "create bond %s", name)
	}
	return nil
}

func (netlinkLinker) SetMaster(member, parent string) error {
	m, err := netlink.LinkByName(member)
	if err != nil {
		return errors.Wrapf(err, errors.KindDatapathAttach, "lookup member %s", member)
	}
	p, err := netlink.LinkByName(parent)
	if err != nil {
		return errors.Wrapf(err, errors.KindDatapathAttach, "lookup parent %s", parent)
	}
	if err := netlink.LinkSetMaster(m, p); err != nil {
		return errors.Wrapf(err, errors.KindDatapathAttach, "enslave %s to %s", member, parent)
	}
	return nil
}

func (netlinkLinker) ClearMaster(member string) error {
	m, err := netlink.LinkByName(member)
	if err != nil {
		return errors.Wrapf(err, errors.KindDatapathAttach, "lookup member %s", member)
	}
	if err := netlink.LinkSetNoMaster(m); err != nil {
		return errors.Wrapf(err, errors.KindDatapathAttach, "release %s", member)
	}
	return nil
}

func (netlinkLinker) SetUp(name string, up bool) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return errors.Wrapf(err, errors.KindDatapathAttach, "lookup link %s", name)
	}
	if up {
		if err := netlink.LinkSetUp(link); err != nil {
			return errors.Wrapf(err, errors.KindDatapathAttach, "bring up %s", name)
		}
		return nil
	}
	if err := netlink.LinkSetDown(link); err != nil {
		return errors.Wrapf(err, errors.KindDatapathAttach, "bring down %s", name)
	}
	return nil
}

func (netlinkLinker) SetMTU(name string, mtu int) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return errors.Wrapf(err, errors.KindDatapathAttach, "lookup link %s", name)
	}
	if err := netlink.LinkSetMTU(link, mtu); err != nil {
		return errors.Wrapf(err, errors.KindDatapathAttach, "set MTU on %s", name)
	}
	return nil
}

// SetWifiMode only logs the recorded role: generating and reloading the
// hostapd config for an AP-mode link is the Wi-Fi service actor's job
// (§4.8), not this controller's.
func (netlinkLinker) SetWifiMode(name string, mode WifiMode) error {
	if mode != WifiModeNone {
		logging.Info("ifctl: %s recorded as wifi mode %s", name, mode)
	}
	return nil
}

func (netlinkLinker) DeleteLink(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return nil
		}
		return errors.Wrapf(err, errors.KindDatapathAttach, "lookup link %s", name)
	}
	if err := netlink.LinkDel(link); err != nil {
		return errors.Wrapf(err, errors.KindDatapathAttach, "delete link %s", name)
	}
	return nil
}
