// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package staticnat is the Static NAT mapper (§4.11): each enabled
// StaticNatMapping compiles to an ingress and an egress `static-nat-mappings`
// table entry, and updates are issued as the symmetric diff of the
// currently-enabled set against whatever was previously installed.
package staticnat

import (
	"fmt"
	"sort"

	"landscape.router/core/internal/ebpf/types"
	"landscape.router/core/internal/errors"
	"landscape.router/core/internal/logging"
)

// L4Proto is the subset of IANA protocol numbers a mapping may target.
type L4Proto uint8

const (
	ProtoTCP L4Proto = 6
	ProtoUDP L4Proto = 17
)

// StaticNatMapping is one configured port-forward rule (§3). LanIP may be
// the unspecified address, meaning "the router itself".
type StaticNatMapping struct {
	ID          string
	Enable      bool
	Remark      string
	WanPort     uint16
	WanIfaceName string
	LanPort     uint16
	LanIP       types.Addr16
	L4Proto     L4Proto
}

// EntityID identifies this mapping for the Config/Store repository layer
// (§4.9): id is the stable key a StaticNat config entry is addressed by.
func (m StaticNatMapping) EntityID() string { return m.ID }

// Table is the kernel-table writer the mapper targets, kept as an
// interface so the diff logic is testable without a kernel.
type Table interface {
	Add(key, value any)
	Del(key any)
}

// entry pairs one compiled key with its value, so the installed set can be
// tracked and diffed by key alone.
type entry struct {
	key types.StaticNatKey
	val types.StaticNatValue
}

func (m StaticNatMapping) ingress() entry {
	return entry{
		key: types.StaticNatKey{
			Direction: types.NatIngress,
			L4Proto:   uint8(m.L4Proto),
			WanPort:   m.WanPort,
		},
		val: types.StaticNatValue{LanIP: m.LanIP, LanPort: m.LanPort},
	}
}

// egress builds the egress entry. An unspecified LanIP shortens the key's
// effective match to "any source", which here means the key simply carries
// the unspecified address rather than a real one; the facade's table
// lookup treats that as a wildcard prefix (§4.11).
func (m StaticNatMapping) egress() entry {
	return entry{
		key: types.StaticNatKey{
			Direction: types.NatEgress,
			L4Proto:   uint8(m.L4Proto),
			LanIP:     m.LanIP,
			LanPort:   m.LanPort,
		},
		val: types.StaticNatValue{WanPort: m.WanPort},
	}
}

// Mapper tracks the currently-installed entry set so Reconcile can compute
// an incremental symmetric diff on every call.
type Mapper struct {
	table     Table
	installed map[types.StaticNatKey]types.StaticNatValue
}

// New constructs a Mapper writing through table.
func New(table Table) *Mapper {
	return &Mapper{table: table, installed: make(map[types.StaticNatKey]types.StaticNatValue)}
}

// Diff is the (adds, removes) result of one Reconcile call, exposed for
// inspection/testing.
type Diff struct {
	Adds    []entry
	Removes []types.StaticNatKey
}

// Reconcile compiles every enabled mapping to its ingress+egress entries,
// computes the symmetric diff against the previously-installed set, and
// issues it as a batch add/del (§4.11).
func (m *Mapper) Reconcile(mappings []StaticNatMapping) Diff {
	wanted := make(map[types.StaticNatKey]types.StaticNatValue)
	for _, mp := range mappings {
		if !mp.Enable {
			continue
		}
		in := mp.ingress()
		eg := mp.egress()
		wanted[in.key] = in.val
		wanted[eg.key] = eg.val
	}

	var diff Diff
	for k, v := range wanted {
		if existing, ok := m.installed[k]; !ok || existing != v {
			diff.Adds = append(diff.Adds, entry{key: k, val: v})
		}
	}
	for k := range m.installed {
		if _, ok := wanted[k]; !ok {
			diff.Removes = append(diff.Removes, k)
		}
	}

	sort.Slice(diff.Adds, func(i, j int) bool { return diff.Adds[i].key.WanPort < diff.Adds[j].key.WanPort })

	for _, k := range diff.Removes {
		k := k
		m.table.Del(&k)
		delete(m.installed, k)
	}
	for _, e := range diff.Adds {
		e := e
		m.table.Add(&e.key, &e.val)
		m.installed[e.key] = e.val
	}

	if len(diff.Adds) > 0 || len(diff.Removes) > 0 {
		logging.Info("static nat reconciled: %d added, %d removed", len(diff.Adds), len(diff.Removes))
	}
	return diff
}

// DockerEnroll is the sibling-container registration message a Docker
// network-namespace companion sends over the namespace-register socket,
// grounded on the original's DockerTargetEnroll{id, ifindex}.
type DockerEnroll struct {
	ID      string
	Ifindex uint32
}

// SiblingRegistrar installs the WAN-route target a registered Docker
// sibling container resolves to, keyed by its flow assignment.
type SiblingRegistrar interface {
	RegisterSiblingTarget(flowID uint8, ifindex uint32) error
}

// RegisterSiblingContainer handles one DockerEnroll: it hands the
// container's ifindex to reg as the WAN-route nexthop for flowID, so
// traffic NATed to that container's static mapping routes back out
// through its own veth rather than the router's uplink.
func RegisterSiblingContainer(reg SiblingRegistrar, flowID uint8, enroll DockerEnroll) error {
	if enroll.Ifindex == 0 {
		return errors.Errorf(errors.KindValidation, "docker sibling enroll %s: zero ifindex", enroll.ID)
	}
	if err := reg.RegisterSiblingTarget(flowID, enroll.Ifindex); err != nil {
		return errors.Wrapf(err, errors.KindDatapathAttach, "register docker sibling %s on flow %d", enroll.ID, flowID)
	}
	logging.Info("docker sibling registered: id=%s ifindex=%d flow=%d", enroll.ID, enroll.Ifindex, flowID)
	return nil
}

// String renders an L4Proto for logging.
func (p L4Proto) String() string {
	switch p {
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	default:
		return fmt.Sprintf("proto(%d)", uint8(p))
	}
}
