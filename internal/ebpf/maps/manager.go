// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package maps is the kernel-table facade (§4.1): typed wrappers over the
// pinned per-CPU lookup tables the datapath consults, plus the one
// write-ordering invariant the facade enforces on behalf of every
// caller — recreating the route caches whenever a table they depend on
// changes.
package maps

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cilium/ebpf"

	"landscape.router/core/internal/errors"
	"landscape.router/core/internal/logging"
)

// Name identifies one of the named pinned tables in §4.1.
type Name string

const (
	TableWanIPBinding  Name = "wan-ip-binding"
	TableFlowMatch     Name = "flow-match"
	TableVerdictDNS    Name = "flow-verdict-dns" // flat hash: answer address -> mark, shared by all flows
	TableVerdictIP     Name = "flow-verdict-ip"  // nested: flow-id -> inner LPM trie
	TableStaticNat     Name = "static-nat-mappings"
	TableRouteLan      Name = "route-lan"
	TableRouteWan      Name = "route-wan" // flat hash keyed by flow-id
	TableRouteCacheLan Name = "route-cache-lan"
	TableRouteCacheWan Name = "route-cache-wan"
	TableFirewallRules Name = "firewall-rules"
	TableIPMacV4       Name = "ip-mac-v4"
	TableIPMacV6       Name = "ip-mac-v6"
	TableDnsSockMap    Name = "dns-sock-map"
)

// Manager is the single facade instance every controller writes through.
// It is constructed with an explicit pinned-path root (a directory on a
// bpf-filesystem mount, §6) rather than a process-wide static, so tests
// can point it at a scratch mount.
type Manager struct {
	root string

	mu     sync.RWMutex
	tables map[Name]*Table
}

// New constructs the facade rooted at pinRoot. It does not create any
// table itself; call Init per table on first use.
func New(pinRoot string) *Manager {
	return &Manager{
		root:   pinRoot,
		tables: make(map[Name]*Table),
	}
}

// Table wraps one pinned eBPF map with the facade's add/del/replace
// contract. The nested table (flow-verdict-ip) additionally owns a set of
// inner maps, one per flow-id.
type Table struct {
	name Name
	mu   sync.RWMutex
	m    *ebpf.Map
	spec *ebpf.MapSpec

	inner map[uint8]*ebpf.Map
}

// Init creates the pinned table if its path is missing, or opens it if
// present. It panics if the pinned path exists but is not a regular file
// (§4.1: a directory at that path means another subsystem, or a stale
// mount, has claimed it — that is an operator error, not a runtime one).
func (m *Manager) Init(name Name, spec *ebpf.MapSpec) (*Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.tables[name]; ok {
		return t, nil
	}

	path := m.pinPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.KindDatapathAttach, "create pin directory for %s", name)
	}

	if fi, err := os.Stat(path); err == nil {
		if fi.IsDir() {
			panic(fmt.Sprintf("maps: pinned path %s exists and is a directory, not a map file", path))
		}
		pinned, err := ebpf.LoadPinnedMap(path, nil)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindDatapathAttach, "load pinned map %s", name)
		}
		t := &Table{name: name, m: pinned, spec: spec, inner: make(map[uint8]*ebpf.Map)}
		m.tables[name] = t
		return t, nil
	}

	spec.Pinning = ebpf.PinByName
	mp, err := ebpf.NewMapWithOptions(spec, ebpf.MapOptions{PinPath: filepath.Dir(path)})
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindDatapathAttach, "create map %s", name)
	}
	t := &Table{name: name, m: mp, spec: spec, inner: make(map[uint8]*ebpf.Map)}
	m.tables[name] = t
	return t, nil
}

func (m *Manager) pinPath(name Name) string {
	return filepath.Join(m.root, string(name))
}

// Get returns an already-initialized table.
func (m *Manager) Get(name Name) (*Table, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[name]
	return t, ok
}

// Add installs one key/value pair. Failures are logged but never
// propagated as a state-changing error: the caller's intended
// configuration state is unaffected and reconciles on the next mutation
// or link-up observation (§4.1, §7).
func (t *Table) Add(key, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.m.Update(key, value, ebpf.UpdateAny); err != nil {
		logging.Error("maps[%s]: add failed: %v", t.name, err)
	}
}

// Del removes a key. Best-effort, same contract as Add.
func (t *Table) Del(key any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.m.Delete(key); err != nil && err != ebpf.ErrKeyNotExist {
		logging.Error("maps[%s]: del failed: %v", t.name, err)
	}
}

// Lookup retrieves a value. Returns ebpf.ErrKeyNotExist (unwrapped) when
// absent so callers can branch on it with errors.Is.
func (t *Table) Lookup(key, value any) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.m.Lookup(key, value)
}

// ReplaceBatch replaces the full key/value set: every key not present in
// the new set is removed, every key in it is added or updated. Used by
// controllers that reconcile their whole table on each config change
// (flow-match, static-nat-mappings, ip-mac[v4|v6]) rather than tracking
// an incremental diff themselves.
func (t *Table) ReplaceBatch(keys, values []any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	want := make(map[string]struct{}, len(keys))
	for i, k := range keys {
		want[fmt.Sprintf("%v", k)] = struct{}{}
		if err := t.m.Update(k, values[i], ebpf.UpdateAny); err != nil {
			logging.Error("maps[%s]: replace add failed: %v", t.name, err)
		}
	}

	it := t.m.Iterate()
	var existing any
	var toDelete []any
	for it.Next(&existing, new(any)) {
		if _, keep := want[fmt.Sprintf("%v", existing)]; !keep {
			toDelete = append(toDelete, existing)
		}
	}
	for _, k := range toDelete {
		if err := t.m.Delete(k); err != nil && err != ebpf.ErrKeyNotExist {
			logging.Error("maps[%s]: replace del failed: %v", t.name, err)
		}
	}
}

// ReplaceInner atomically swaps the inner map for flowID in a nested
// table (flow-verdict-ip). The datapath
// observes the swap atomically: once this returns, lookups against
// flowID see only the new inner map's contents (§4.1).
func (t *Table) ReplaceInner(flowID uint8, spec *ebpf.MapSpec) (*ebpf.Map, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	inner, err := ebpf.NewMap(spec)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindDatapathAttach, "create inner map for flow %d", flowID)
	}

	if t.m != nil {
		fid := flowID
		if err := t.m.Update(&fid, inner, ebpf.UpdateAny); err != nil {
			logging.Error("maps[%s]: outer update for flow %d failed: %v", t.name, flowID, err)
		}
	}

	old, had := t.inner[flowID]
	t.inner[flowID] = inner
	if had {
		old.Close()
	}

	return inner, nil
}

// Inner returns the current inner map for flowID, if one has been
// installed via ReplaceInner.
func (t *Table) Inner(flowID uint8) (*ebpf.Map, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.inner[flowID]
	return m, ok
}

// Close releases the map handle. It does not remove the pin: the pin
// persists so the datapath keeps functioning across a control-plane
// restart.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, inner := range t.inner {
		inner.Close()
	}
	return t.m.Close()
}

// InvalidateRouteCache recreates route-cache[lan] and, if wan is true,
// route-cache[wan]. Per §4.1: any change to flow-match, the DNS or IP
// verdict tables, or wan-ip-binding must be followed by recreating
// route-cache[lan]; a wan-ip-binding change additionally invalidates
// route-cache[wan]. Callers that mutate those tables invoke this after
// every ReplaceBatch/ReplaceInner/Add/Del rather than tracking staleness
// themselves.
func (m *Manager) InvalidateRouteCache(lan, wan bool) {
	if lan {
		m.recreateCache(TableRouteCacheLan)
	}
	if wan {
		m.recreateCache(TableRouteCacheWan)
	}
}

func (m *Manager) recreateCache(name Name) {
	t, ok := m.Get(name)
	if !ok {
		return
	}
	if err := t.recreate(); err != nil {
		logging.Error("maps[%s]: cache recreate failed: %v", name, err)
	}
}

func (t *Table) recreate() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	fresh, err := ebpf.NewMap(t.spec)
	if err != nil {
		return errors.Wrapf(err, errors.KindDatapathAttach, "recreate cache %s", t.name)
	}
	old := t.m
	t.m = fresh
	if old != nil {
		old.Close()
	}
	return nil
}
