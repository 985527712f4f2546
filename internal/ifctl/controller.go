// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ifctl is the Interface controller (§4.9): on boot and on every
// config mutation it reconciles OS link state to match configuration —
// creating bridges, enslaving member links, bringing links up or down,
// and recording a link's Wi-Fi mode for the AP service actor to consume.
package ifctl

import (
	"sort"

	"landscape.router/core/internal/errors"
	"landscape.router/core/internal/logging"
)

// WifiMode is the role hostapd should run an interface in; the actual
// hostapd process lifecycle belongs to a separate service actor (§4.8),
// not this controller — Linker.SetWifiMode only records the role a
// link carries so that actor's config generation has something to read.
type WifiMode string

const (
	WifiModeNone    WifiMode = ""
	WifiModeManaged WifiMode = "managed"
	WifiModeAP      WifiMode = "ap"
)

// Interface is one configured link (§4.1): either a physical NIC, a
// bridge (Bridge true), or a bond (Bond true, Members non-empty).
type Interface struct {
	Name    string
	Enable  bool
	Bridge  bool
	Bond    bool
	Members []string
	MTU     int
	Wifi    WifiMode
}

// EntityID identifies this interface for the Config/Store repository.
func (i Interface) EntityID() string { return i.Name }

// Linker is the seam over the OS link state the controller reconciles
// against, the same narrow-interface-over-netlink idiom as
// internal/routectl's RouteApplier and internal/staticnat's Table.
type Linker interface {
	EnsureBridge(name string) error
	EnsureBond(name string) error
	SetMaster(member, parent string) error
	ClearMaster(member string) error
	SetUp(name string, up bool) error
	SetMTU(name string, mtu int) error
	SetWifiMode(name string, mode WifiMode) error
	DeleteLink(name string) error
}

// Controller reconciles the full Interface set against Linker on every
// call to Reconcile, diffing against the previously-applied set so a
// link already in the right state is left untouched.
type Controller struct {
	link Linker

	applied map[string]Interface
}

// New constructs a Controller driving OS link state through link.
func New(link Linker) *Controller {
	return &Controller{link: link, applied: make(map[string]Interface)}
}

// Reconcile brings OS link state in line with desired: removed
// interfaces are torn down first, then bridges/bonds are (re)created,
// members are enslaved/released, and up/down + MTU + Wi-Fi mode are
// applied last so a link's parent exists before the link is configured.
func (c *Controller) Reconcile(desired []Interface) error {
	byName := make(map[string]Interface, len(desired))
	for _, i := range desired {
		byName[i.Name] = i
	}

	for name := range c.applied {
		if _, ok := byName[name]; ok {
			continue
		}
		if err := c.link.DeleteLink(name); err != nil {
			logging.Warn("ifctl: delete stale link %s: %v", name, err)
		}
		delete(c.applied, name)
	}

	sorted := make([]Interface, len(desired))
	copy(sorted, desired)
	sort.Slice(sorted, func(a, b int) bool {
		return rank(sorted[a]) < rank(sorted[b])
	})

	var firstErr error
	for _, iface := range sorted {
		if err := c.apply(iface); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, errors.KindDatapathAttach, "ifctl: reconcile %s", iface.Name)
		}
	}
	return firstErr
}

// rank orders bridges/bonds before the plain links their Members will
// reference, so EnsureBridge/EnsureBond always runs before SetMaster.
func rank(i Interface) int {
	if i.Bridge || i.Bond {
		return 0
	}
	return 1
}

func (c *Controller) apply(iface Interface) error {
	switch {
	case iface.Bridge:
		if err := c.link.EnsureBridge(iface.Name); err != nil {
			return err
		}
	case iface.Bond:
		if err := c.link.EnsureBond(iface.Name); err != nil {
			return err
		}
	}

	previous, had := c.applied[iface.Name]
	if had {
		for _, old := range previous.Members {
			if !contains(iface.Members, old) {
				if err := c.link.ClearMaster(old); err != nil {
					logging.Warn("ifctl: clear master %s: %v", old, err)
				}
			}
		}
	}
	for _, member := range iface.Members {
		if err := c.link.SetMaster(member, iface.Name); err != nil {
			return err
		}
	}

	if iface.MTU > 0 {
		if err := c.link.SetMTU(iface.Name, iface.MTU); err != nil {
			return err
		}
	}
	if err := c.link.SetWifiMode(iface.Name, iface.Wifi); err != nil {
		return err
	}
	if err := c.link.SetUp(iface.Name, iface.Enable); err != nil {
		return err
	}

	c.applied[iface.Name] = iface
	return nil
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
