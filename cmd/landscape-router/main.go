// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command landscape-router is the control-plane daemon: it wires the
// kernel-table facade, every Config/Store controller, the DNS policy
// and flow engines, and the per-interface service supervisor into one
// running process, seeding the repositories from landscape_init.hcl on
// first boot (§6).
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"landscape.router/core/internal/config"
	"landscape.router/core/internal/config/store"
	"landscape.router/core/internal/dnsmatch"
	"landscape.router/core/internal/dnspolicy"
	"landscape.router/core/internal/dnsresolve"
	"landscape.router/core/internal/ebpf/maps"
	"landscape.router/core/internal/ebpf/types"
	"landscape.router/core/internal/eventbus"
	"landscape.router/core/internal/flowengine"
	"landscape.router/core/internal/geo"
	"landscape.router/core/internal/host"
	"landscape.router/core/internal/ifctl"
	"landscape.router/core/internal/logging"
	"landscape.router/core/internal/routectl"
	"landscape.router/core/internal/services/dhcp4"
	"landscape.router/core/internal/services/dhcp6pd"
	"landscape.router/core/internal/services/pppoe"
	"landscape.router/core/internal/services/ra"
	"landscape.router/core/internal/staticnat"
	"landscape.router/core/internal/supervisor"
	"landscape.router/core/internal/wanipctl"
)

func main() {
	stateDir := flag.String("state-dir", "/var/lib/landscape-router", "directory for the repository database and init lock")
	pinRoot := flag.String("pin-root", "/sys/fs/bpf/landscape-router", "bpf filesystem root for pinned kernel tables")
	initManifest := flag.String("init-manifest", "/etc/landscape-router/landscape_init.hcl", "first-boot seed manifest, applied once")
	flag.Parse()

	if err := run(*stateDir, *pinRoot, *initManifest); err != nil {
		logging.Error("fatal: %v", err)
		os.Exit(1)
	}
}

func run(stateDir, pinRoot, initManifest string) error {
	for _, req := range host.VerifyBPFSupport() {
		logging.Warn("preflight: %s", req.Error())
	}

	bus := eventbus.New()
	facade := maps.New(pinRoot)

	app, err := newApp(stateDir, facade, bus)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer app.db.Close()

	if err := app.seedIfNeeded(stateDir, initManifest); err != nil {
		return fmt.Errorf("first-boot seed: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.reconcileAll(ctx); err != nil {
		return fmt.Errorf("initial reconcile: %w", err)
	}

	go func() {
		if err := supervisor.ObserveLinks(ctx, app); err != nil {
			logging.Warn("link observer exited: %v", err)
		}
	}()

	logging.Info("landscape-router started (state-dir=%s pin-root=%s)", stateDir, pinRoot)
	<-ctx.Done()
	logging.Info("shutting down")
	return app.shutdown()
}

// app holds every wired component the daemon drives for its lifetime.
type app struct {
	db  *store.DB
	bus *eventbus.Bus
	sup *supervisor.Supervisor
	mgr *supervisor.Manager

	ifaceCtl   *ifctl.Controller
	flowEngine *flowengine.Engine
	dnsEngine  *dnspolicy.Engine
	wanIP      *wanipctl.Controller
	routeCtl   *routectl.Controller
	natMapper  *staticnat.Mapper
	geoCache   *geo.Cache

	ifaceCtrl *store.Controller[ifctl.Interface]
	flowCtrl  *store.Controller[flowengine.FlowConfig]
	dnsCtrl   *store.Controller[store.DNSRule]
	wanIPCtrl *store.Controller[wanipctl.WanIpRule]
	natCtrl   *store.Controller[staticnat.StaticNatMapping]
	geoCtrl   *store.Controller[geo.SourceConfig]

	ranges    *dhcp4.RangeRegistry
	tables    *kernelTables
	resolvers map[string]*dnsresolve.Resolver
}

func newApp(stateDir string, facade *maps.Manager, bus *eventbus.Bus) (*app, error) {
	db, err := store.Open(filepath.Join(stateDir, "landscape.db"))
	if err != nil {
		return nil, err
	}

	tables, err := initTables(facade)
	if err != nil {
		return nil, err
	}
	if err := initVerdictIPOuter(facade); err != nil {
		return nil, err
	}

	geoCache, err := geo.New(filepath.Join(stateDir, "geo"), bus)
	if err != nil {
		return nil, err
	}

	sup := supervisor.New(stateDir, supervisor.DefaultConfig())
	mgr := supervisor.NewManager(sup)

	a := &app{
		db:         db,
		bus:        bus,
		sup:        sup,
		mgr:        mgr,
		ifaceCtl:   ifctl.New(ifctl.NewNetlinkLinker()),
		flowEngine: flowengine.New(tables.flowMatch, facade),
		dnsEngine:  dnspolicy.New(tables.verdictDNS, bus),
		wanIP:      wanipctl.New(wanipctl.NewMapsTable(facade), wanipctl.NewGeoCacheLookup(geoCache)),
		routeCtl:   routectl.New(tables.routeLan, tables.routeWan, routectl.NewNetlinkApplier()),
		natMapper:  staticnat.New(tables.staticNat),
		geoCache:   geoCache,
		ranges:     dhcp4.NewRangeRegistry(),
		tables:     tables,
		resolvers:  make(map[string]*dnsresolve.Resolver),
	}

	ifaceRepo, err := store.NewRepository[ifctl.Interface](db, "interfaces")
	if err != nil {
		return nil, err
	}
	flowRepo, err := store.NewRepository[flowengine.FlowConfig](db, "flows")
	if err != nil {
		return nil, err
	}
	dnsRepo, err := store.NewRepository[store.DNSRule](db, "dns_rules")
	if err != nil {
		return nil, err
	}
	wanIPRepo, err := store.NewRepository[wanipctl.WanIpRule](db, "wan_ip_rules")
	if err != nil {
		return nil, err
	}
	natRepo, err := store.NewRepository[staticnat.StaticNatMapping](db, "static_nat")
	if err != nil {
		return nil, err
	}
	geoRepo, err := store.NewRepository[geo.SourceConfig](db, "geo_sources")
	if err != nil {
		return nil, err
	}

	a.ifaceCtrl = store.NewInterfaceController(ifaceRepo, a.ifaceCtl)
	a.flowCtrl = store.NewFlowController(flowRepo, a.flowEngine, bus)
	a.dnsCtrl = store.NewDNSRuleController(dnsRepo, a.dnsEngine, a.resolvers, bus)
	a.wanIPCtrl = store.NewDstIpRuleController(wanIPRepo, a.wanIP)
	a.natCtrl = store.NewStaticNatController(natRepo, a.natMapper)
	a.geoCtrl = store.NewGeoSourceController(geoRepo, geoCache)

	return a, nil
}

func (a *app) seedIfNeeded(stateDir, manifestPath string) error {
	needs, err := store.NeedsSeed(stateDir)
	if err != nil {
		return err
	}
	if !needs {
		return nil
	}

	var manifest config.Manifest
	found, err := store.DecodeManifest(manifestPath, &manifest)
	if err != nil {
		return err
	}
	if found {
		if err := a.applyManifest(context.Background(), &manifest); err != nil {
			return err
		}
	}
	return store.WriteInitLock(stateDir)
}

func (a *app) applyManifest(ctx context.Context, m *config.Manifest) error {
	for _, s := range m.Resolvers {
		mode := dnsresolve.ModePlaintext
		switch s.Mode {
		case "tls":
			mode = dnsresolve.ModeTLS
		case "https":
			mode = dnsresolve.ModeHTTPS
		case "quic":
			mode = dnsresolve.ModeQUIC
		}
		a.resolvers[s.ID] = dnsresolve.New(dnsresolve.Config{
			Address: s.Address, Mode: mode, SNI: s.SNI, Path: s.Path,
			FlowID: uint8(s.FlowID), Mark: uint32(s.Mark),
		})
	}

	for _, s := range m.Interfaces {
		wifi := ifctl.WifiModeNone
		switch s.WifiMode {
		case "client":
			wifi = ifctl.WifiModeManaged
		case "ap":
			wifi = ifctl.WifiModeAP
		}
		if err := a.ifaceCtrl.Set(ctx, ifctl.Interface{
			Name: s.Name, Enable: s.Enable, Bridge: s.Bridge, Bond: s.Bond,
			Members: s.Members, MTU: s.MTU, Wifi: wifi,
		}); err != nil {
			return err
		}
	}

	for _, s := range m.Flows {
		fc := flowengine.FlowConfig{FlowID: uint8(s.FlowID), VlanID: uint16(s.VlanID), QoS: uint8(s.QoS), PrefixLen: uint8(s.PrefixLen)}
		if s.Kind == "mac" {
			fc.Kind = flowengine.MatchMAC
			if mac, err := net.ParseMAC(s.MAC); err == nil {
				copy(fc.SrcMAC[:], mac)
			}
		} else {
			fc.Kind = flowengine.MatchIP
			if ip := net.ParseIP(s.IP); ip != nil {
				fc.SrcAddr = types.AddrFromIP(ip)
			}
		}
		if err := a.flowCtrl.Set(ctx, fc); err != nil {
			return err
		}
	}

	for _, s := range m.DNSRules {
		if err := a.dnsCtrl.Set(ctx, store.DNSRule{
			ID: s.ID, FlowID: uint8(s.FlowID), IsRedirect: s.IsRedirect,
			Kind: parseDNSMatchKind(s.Kind), Pattern: s.Pattern, ResultIPs: s.ResultIPs,
			Handler: dnspolicy.RuleHandlerInfo{
				ResolverID: s.ResolverID,
				Filter:     parseDNSFilter(s.Filter),
				Mark:       types.FlowMark{Action: types.FlowDirect, FlowID: uint8(s.FlowID)},
				Priority:   uint32(s.Priority),
			},
		}); err != nil {
			return err
		}
	}

	for _, s := range m.WanIPRules {
		if err := a.wanIPCtrl.Set(ctx, wanipctl.WanIpRule{
			ID: s.ID, FlowID: uint8(s.FlowID), Enable: s.Enable, Index: s.Index,
			Mark: uint32(s.Mark), OverrideDNS: s.OverrideDNS, Source: s.Source,
		}); err != nil {
			return err
		}
	}

	for _, s := range m.StaticNats {
		if err := a.natCtrl.Set(ctx, staticnat.StaticNatMapping{
			ID: s.ID, Enable: s.Enable, Remark: s.Remark,
			WanPort: uint16(s.WanPort), WanIfaceName: s.WanIfaceName, LanPort: uint16(s.LanPort),
			LanIP: types.AddrFromIP(net.ParseIP(s.LanIP)), L4Proto: parseL4Proto(s.L4Proto),
		}); err != nil {
			return err
		}
	}

	for _, s := range m.GeoSources {
		kind := geo.KindIP
		if s.Kind == "site" {
			kind = geo.KindSite
		}
		if err := a.geoCtrl.Set(ctx, geo.SourceConfig{Name: s.Name, URL: s.URL, Kind: kind}); err != nil {
			return err
		}
	}

	for _, s := range m.DHCPScopes {
		a.applyDHCPScope(ctx, s)
	}
	for _, s := range m.DHCPv6PDs {
		a.applyDHCP6PD(s)
	}
	for _, s := range m.RAs {
		a.applyRA(s)
	}
	for _, s := range m.PPPoEs {
		a.applyPPPoE(s)
	}

	return nil
}

// reconcileAll replays the current repository contents through every
// effect hook exactly once at startup, since the hooks otherwise only
// fire on a subsequent mutation (§4.9's controllers recompute derived
// state "after every mutation", which an empty-to-populated boot never
// triggers on its own).
func (a *app) reconcileAll(ctx context.Context) error {
	if ifaces, err := a.ifaceCtrl.List(ctx); err == nil {
		a.ifaceCtl.Reconcile(ifaces)
	}
	if flows, err := a.flowCtrl.List(ctx); err == nil {
		a.flowEngine.Reconcile(flows)
	}
	if rules, err := a.wanIPCtrl.List(ctx); err == nil {
		a.wanIP.SetRules(rules)
	}
	if mappings, err := a.natCtrl.List(ctx); err == nil {
		a.natMapper.Reconcile(mappings)
	}
	if sources, err := a.geoCtrl.List(ctx); err == nil {
		a.geoCache.SetSources(sources)
		a.geoCache.Refresh(ctx)
	}
	return nil
}

// LinkUp implements supervisor.LinkEventHandler: re-read the interface
// set and reconcile so attachments the kernel dropped on link-down are
// re-installed (§4.8).
func (a *app) LinkUp(iface string) {
	ifaces, err := a.ifaceCtrl.List(context.Background())
	if err != nil {
		return
	}
	a.ifaceCtl.Reconcile(ifaces)
}

func (a *app) shutdown() error {
	return a.mgr.Wait()
}

func (a *app) applyDHCPScope(ctx context.Context, s config.DHCPScopeSeed) {
	var subnet *net.IPNet
	if s.Subnet != "" {
		if _, n, err := net.ParseCIDR(s.Subnet); err == nil {
			subnet = n
		}
	}
	cfg := dhcp4.Config{
		Iface: s.Iface, RangeStart: net.ParseIP(s.RangeStart), RangeEnd: net.ParseIP(s.RangeEnd),
		Subnet: subnet, Router: net.ParseIP(s.Router), Domain: s.Domain,
		LeaseTime: time.Duration(s.LeaseTimeSeconds) * time.Second,
	}
	for _, d := range s.DNS {
		if ip := net.ParseIP(d); ip != nil {
			cfg.DNS = append(cfg.DNS, ip)
		}
	}
	sink := dhcp4.NewIpMacSink(a.tables.ipMacV4)
	actor := dhcp4.NewActor(dhcp4.NewUDPBinder(), sink, a.ranges)
	if err := a.mgr.ApplyConfig(supervisor.Key{Kind: "dhcpv4-server", Iface: s.Iface}, actor, cfg); err != nil {
		logging.Warn("apply dhcpv4 scope %s: %v", s.Iface, err)
	}
}

func (a *app) applyDHCP6PD(s config.DHCPv6PDSeed) {
	actor := dhcp6pd.NewActor(dhcp6pd.NewWireClient(), logInstaller{})
	var iaid [4]byte
	if b, err := hex.DecodeString(s.IAID); err == nil {
		copy(iaid[:], b)
	} else {
		logging.Warn("dhcpv6-pd %s: IAID %q is not hex: %v", s.Iface, s.IAID, err)
	}
	cfg := dhcp6pd.Config{Iface: s.Iface, IAID: iaid}
	if err := a.mgr.ApplyConfig(supervisor.Key{Kind: "dhcpv6-pd", Iface: s.Iface}, actor, cfg); err != nil {
		logging.Warn("apply dhcpv6-pd %s: %v", s.Iface, err)
	}
}

func (a *app) applyRA(s config.RASeed) {
	actor := ra.NewActor(ra.DialInterface)
	cfg := ra.Config{
		Iface:          s.Iface,
		RouterLifetime: time.Duration(s.RouterLifetimeSeconds) * time.Second,
		Interval:       time.Duration(s.IntervalSeconds) * time.Second,
	}
	for _, p := range s.Prefixes {
		if prefix, err := netip.ParsePrefix(p); err == nil {
			cfg.Prefixes = append(cfg.Prefixes, prefix)
		}
	}
	for _, r := range s.RDNSS {
		if addr, err := netip.ParseAddr(r); err == nil {
			cfg.RDNSS = append(cfg.RDNSS, addr)
		}
	}
	if err := a.mgr.ApplyConfig(supervisor.Key{Kind: "ipv6-ra", Iface: s.Iface}, actor, cfg); err != nil {
		logging.Warn("apply ipv6-ra %s: %v", s.Iface, err)
	}
}

// logInstaller is the dhcp6pd.Installer used until delegated prefixes are
// republished into the ipv6-ra actor's advertised set; for now a
// delegated prefix only gets logged, not installed anywhere (TODO: feed
// it into applyRA's Config.Prefixes on delegation/renewal).
type logInstaller struct{}

func (logInstaller) InstallDelegatedPrefix(iface string, prefix dhcp6pd.DelegatedPrefix) error {
	logging.Info("dhcpv6-pd %s: delegated prefix %v (not yet wired to ipv6-ra)", iface, prefix)
	return nil
}

func (a *app) applyPPPoE(s config.PPPoESeed) {
	actor := pppoe.NewActor(pppoe.NewProcessStarter())
	cfg := pppoe.Config{Iface: s.Iface, Username: s.Username, Password: s.Password, PPPdPath: s.PPPdPath}
	if err := a.mgr.ApplyConfig(supervisor.Key{Kind: "pppoe", Iface: s.Iface}, actor, cfg); err != nil {
		logging.Warn("apply pppoe %s: %v", s.Iface, err)
	}
}

func parseDNSMatchKind(s string) dnsmatch.Kind {
	switch s {
	case "domain":
		return dnsmatch.KindDomain
	case "plain":
		return dnsmatch.KindPlain
	case "regex":
		return dnsmatch.KindRegex
	default:
		return dnsmatch.KindFull
	}
}

func parseDNSFilter(s string) dnspolicy.Filter {
	switch s {
	case "only-ipv4":
		return dnspolicy.FilterOnlyIPv4
	case "only-ipv6":
		return dnspolicy.FilterOnlyIPv6
	default:
		return dnspolicy.FilterNone
	}
}

func parseL4Proto(s string) staticnat.L4Proto {
	if s == "udp" {
		return staticnat.ProtoUDP
	}
	return staticnat.ProtoTCP
}
