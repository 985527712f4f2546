// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config holds the first-boot seed manifest format: a small,
// scalar-only HCL schema (§6: "if landscape_init.hcl exists, seeds the
// repositories from it") that gets hand-converted into the richer
// domain types each internal/config/store controller actually persists.
// It deliberately does not attempt the teacher's full whole-document
// HCL schema (internal/config/store supersedes that with typed
// per-entity repositories); this is just the seed format.
package config

// Manifest is the root of landscape_init.hcl. Every block is optional;
// an absent block seeds nothing for that entity kind.
type Manifest struct {
	Interfaces []InterfaceSeed `hcl:"interface,block"`
	Flows      []FlowSeed      `hcl:"flow,block"`
	DNSRules   []DNSRuleSeed   `hcl:"dns_rule,block"`
	WanIPRules []WanIPRuleSeed `hcl:"wan_ip_rule,block"`
	StaticNats []StaticNatSeed `hcl:"static_nat,block"`
	GeoSources []GeoSourceSeed `hcl:"geo_source,block"`

	DHCPScopes []DHCPScopeSeed `hcl:"dhcp_server,block"`
	DHCPv6PDs  []DHCPv6PDSeed  `hcl:"dhcp6_pd,block"`
	RAs        []RASeed        `hcl:"ipv6_ra,block"`
	PPPoEs     []PPPoESeed     `hcl:"pppoe,block"`

	Resolvers []ResolverSeed `hcl:"dns_resolver,block"`
}

// ResolverSeed maps to dnsresolve.Config. DNSRuleSeed.ResolverID refers
// to one of these by its label.
type ResolverSeed struct {
	ID      string `hcl:"id,label"`
	Address string `hcl:"address,optional"`
	Mode    string `hcl:"mode,optional"` // "plaintext","tls","https","quic"
	SNI     string `hcl:"sni,optional"`
	Path    string `hcl:"path,optional"`
	FlowID  int    `hcl:"flow_id,optional"`
	Mark    int    `hcl:"mark,optional"`
}

// InterfaceSeed maps to ifctl.Interface.
type InterfaceSeed struct {
	Name    string   `hcl:"name,label"`
	Enable  bool     `hcl:"enable,optional"`
	Bridge  bool     `hcl:"bridge,optional"`
	Bond    bool     `hcl:"bond,optional"`
	Members []string `hcl:"members,optional"`
	MTU     int      `hcl:"mtu,optional"`
	WifiMode string  `hcl:"wifi_mode,optional"` // "", "client", "ap"
}

// FlowSeed maps to flowengine.FlowConfig. A flow's match rule is a
// single entry here (one ip/mac pattern per seed block); richer
// multi-rule flows are expected to be built up through the Config/Store
// API after first boot, not from the seed manifest.
type FlowSeed struct {
	FlowID    int    `hcl:"flow_id,label"`
	Kind      string `hcl:"kind,optional"`   // "ip" or "mac"
	IP        string `hcl:"ip,optional"`
	PrefixLen int    `hcl:"prefix_len,optional"`
	MAC       string `hcl:"mac,optional"`
	VlanID    int    `hcl:"vlan_id,optional"`
	QoS       int    `hcl:"qos,optional"`
}

// DNSRuleSeed maps to store.DNSRule.
type DNSRuleSeed struct {
	ID         string   `hcl:"id,label"`
	FlowID     int      `hcl:"flow_id,optional"`
	IsRedirect bool     `hcl:"redirect,optional"`
	Kind       string   `hcl:"kind,optional"` // "full","domain","plain","regex"
	Pattern    string   `hcl:"pattern,optional"`
	ResultIPs  []string `hcl:"result_ips,optional"`
	ResolverID string   `hcl:"resolver_id,optional"`
	Filter     string   `hcl:"filter,optional"` // "unfilter","only-ipv4","only-ipv6"
	Mark       int      `hcl:"mark,optional"`
	Priority   int      `hcl:"priority,optional"`
}

// WanIPRuleSeed maps to wanipctl.WanIpRule.
type WanIPRuleSeed struct {
	ID          string   `hcl:"id,label"`
	FlowID      int      `hcl:"flow_id,optional"`
	Enable      bool     `hcl:"enable,optional"`
	Index       int      `hcl:"index,optional"`
	Mark        int      `hcl:"mark,optional"`
	OverrideDNS bool     `hcl:"override_dns,optional"`
	Source      []string `hcl:"source,optional"`
}

// StaticNatSeed maps to staticnat.StaticNatMapping.
type StaticNatSeed struct {
	ID           string `hcl:"id,label"`
	Enable       bool   `hcl:"enable,optional"`
	Remark       string `hcl:"remark,optional"`
	WanPort      int    `hcl:"wan_port,optional"`
	WanIfaceName string `hcl:"wan_iface,optional"`
	LanPort      int    `hcl:"lan_port,optional"`
	LanIP        string `hcl:"lan_ip,optional"`
	L4Proto      string `hcl:"proto,optional"` // "tcp" or "udp"
}

// GeoSourceSeed maps to geo.SourceConfig.
type GeoSourceSeed struct {
	Name string `hcl:"name,label"`
	URL  string `hcl:"url,optional"`
	Kind string `hcl:"kind,optional"` // "ip" or "site"
}

// DHCPScopeSeed maps to dhcp4.Config, scoped by the supervisor.Key it
// will be applied under (kind "dhcpv4-server", iface = Iface).
type DHCPScopeSeed struct {
	Iface      string   `hcl:"iface,label"`
	RangeStart string   `hcl:"range_start,optional"`
	RangeEnd   string   `hcl:"range_end,optional"`
	Subnet     string   `hcl:"subnet,optional"` // CIDR, e.g. 192.168.1.0/24
	Router     string   `hcl:"router,optional"`
	DNS        []string `hcl:"dns,optional"`
	Domain     string   `hcl:"domain,optional"`
	LeaseTimeSeconds int `hcl:"lease_time_seconds,optional"`
}

// DHCPv6PDSeed maps to dhcp6pd.Config.
type DHCPv6PDSeed struct {
	Iface string `hcl:"iface,label"`
	IAID  string `hcl:"iaid,optional"` // 4 hex bytes, e.g. "00000001"
}

// RASeed maps to ra.Config.
type RASeed struct {
	Iface            string   `hcl:"iface,label"`
	Prefixes         []string `hcl:"prefixes,optional"`
	RDNSS            []string `hcl:"rdnss,optional"`
	RouterLifetimeSeconds int `hcl:"router_lifetime_seconds,optional"`
	IntervalSeconds  int      `hcl:"interval_seconds,optional"`
}

// PPPoESeed maps to pppoe.Config.
type PPPoESeed struct {
	Iface    string `hcl:"iface,label"`
	Username string `hcl:"username,optional"`
	Password string `hcl:"password,optional"`
	PPPdPath string `hcl:"pppd_path,optional"`
}
