// Package config decodes the daemon's TOML configuration file into the
// pool/selector/option structures the rest of the daemon is built from,
// per spec.md §6.5.
//
// Grounded on teacher's config/config.go (flat TOML struct, BurntSushi/toml
// Unmarshal, Load(path) function shape), generalized from its single
// pool-per-interface shape to the multi-pool-per-interface shape spec.md
// requires, with Selector/Range as TOML-friendly tagged structs (a "kind"
// discriminator plus the fields relevant to that kind) since TOML has no
// native sum type — original_source/src/config/mod.rs's Selector and
// IPPool enums are the semantics being encoded.
package config

import (
	"fmt"
	"net"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/haldane-systems/dhcpauthd/internal/addr"
	"github.com/haldane-systems/dhcpauthd/internal/allocunit"
	"github.com/haldane-systems/dhcpauthd/internal/dhcp4"
	"github.com/haldane-systems/dhcpauthd/internal/pool"
)

// Config is the top-level daemon configuration.
type Config struct {
	LogLevel   string      `toml:"log_level"`
	CacheDir   string      `toml:"cache_dir"`
	Interfaces []Interface `toml:"interfaces"`
}

// Interface configures one NIC and its pools.
type Interface struct {
	Name  string `toml:"name"`
	Pools []Pool `toml:"pool"`
}

// Pool configures one AllocationUnit: which clients it serves, the address
// range it allocates from, the reply options it hands out, and its
// operator hook paths.
type Pool struct {
	Selector   Selector `toml:"selector"`
	Range      Range    `toml:"range"`
	Options    Options  `toml:"options"`
	Allocate   string   `toml:"allocate"`
	Deallocate string   `toml:"deallocate"`
	Lease      string   `toml:"lease"`
}

// Selector is the TOML encoding of the allocunit.Selector variants.
// Kind selects which of the other fields apply: "all" (default),
// "macs", "hostnames", or "either".
type Selector struct {
	Kind      string     `toml:"kind"`
	Macs      []string   `toml:"macs"`
	Hostnames []string   `toml:"hostnames"`
	Either    []Selector `toml:"either"`
}

// Build converts s into the runtime Selector it describes.
func (s Selector) Build() (allocunit.Selector, error) {
	switch s.Kind {
	case "", "all":
		return allocunit.All{}, nil
	case "macs":
		return allocunit.NewMacs(s.Macs...), nil
	case "hostnames":
		return allocunit.NewHostnames(s.Hostnames...), nil
	case "either":
		sub := make(allocunit.Either, 0, len(s.Either))
		for _, e := range s.Either {
			built, err := e.Build()
			if err != nil {
				return nil, err
			}
			sub = append(sub, built)
		}
		return sub, nil
	default:
		return nil, fmt.Errorf("config: unknown selector kind %q", s.Kind)
	}
}

// RangePair is one lower/upper address pair within a "ranges" Range.
type RangePair struct {
	Lower string `toml:"lower"`
	Upper string `toml:"upper"`
}

// Range is the TOML encoding of a pool's address range. Kind selects
// "guess" (derive from the interface's own address), "range"
// (Lower/Upper), or "ranges" (Ranges, a disjoint union).
type Range struct {
	Kind   string      `toml:"kind"`
	Lower  string      `toml:"lower"`
	Upper  string      `toml:"upper"`
	Ranges []RangePair `toml:"ranges"`
}

// Build constructs the pool this Range describes. iface is required for
// "guess" ranges, where the pool is derived from the interface's single
// configured IPv4 network.
func (r Range) Build(iface *net.Interface) (*pool.Pool[addr.V4], error) {
	switch r.Kind {
	case "range":
		lower, err := addr.ParseV4(r.Lower)
		if err != nil {
			return nil, fmt.Errorf("config: range lower bound: %w", err)
		}
		upper, err := addr.ParseV4(r.Upper)
		if err != nil {
			return nil, fmt.Errorf("config: range upper bound: %w", err)
		}
		return pool.New(lower, upper)

	case "ranges":
		ranges := make([]pool.Range[addr.V4], 0, len(r.Ranges))
		for _, rp := range r.Ranges {
			lower, err := addr.ParseV4(rp.Lower)
			if err != nil {
				return nil, fmt.Errorf("config: range lower bound: %w", err)
			}
			upper, err := addr.ParseV4(rp.Upper)
			if err != nil {
				return nil, fmt.Errorf("config: range upper bound: %w", err)
			}
			built, err := pool.NewRange(lower, upper)
			if err != nil {
				return nil, err
			}
			ranges = append(ranges, built)
		}
		return pool.NewMulti(ranges)

	case "", "guess":
		return guessPool(iface)

	default:
		return nil, fmt.Errorf("config: unknown range kind %q", r.Kind)
	}
}

// guessPool derives a pool spanning iface's single IPv4 network, reserving
// the network address, broadcast address, and the interface's own address
// as used. Grounded on original_source/src/config/ippool.rs's
// IPPool::Guess.
func guessPool(iface *net.Interface) (*pool.Pool[addr.V4], error) {
	if iface == nil {
		return nil, fmt.Errorf("config: guess range requires an interface")
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("config: listing addresses on %s: %w", iface.Name, err)
	}

	var ipNet *net.IPNet
	for _, a := range addrs {
		n, ok := a.(*net.IPNet)
		if !ok || n.IP.To4() == nil {
			continue
		}
		if ipNet != nil {
			return nil, fmt.Errorf("config: cannot guess a pool when %s has more than one IPv4 address", iface.Name)
		}
		ipNet = n
	}
	if ipNet == nil {
		return nil, fmt.Errorf("config: %s has no IPv4 address to guess a pool from", iface.Name)
	}

	own := addr.V4FromNet(ipNet.IP)
	network := addr.V4FromNet(ipNet.IP.Mask(ipNet.Mask))

	broadcastBytes := make(net.IP, 4)
	for i := range broadcastBytes {
		broadcastBytes[i] = ipNet.IP.To4()[i] | ^ipNet.Mask[i]
	}
	broadcast := addr.V4FromNet(broadcastBytes)

	p, err := pool.New(network, broadcast)
	if err != nil {
		return nil, err
	}

	p.SetUsed(network)
	p.SetUsed(broadcast)
	p.SetUsed(own)

	return p, nil
}

// ClasslessRouteConfig is the TOML encoding of one RFC 3442 route.
type ClasslessRouteConfig struct {
	Net    string `toml:"net"`
	Prefix uint8  `toml:"prefix"`
	Router string `toml:"router"`
}

// Options is the TOML encoding of a pool's reply options. Any field left
// at its zero value is simply omitted; SubnetMask and LeaseTime are
// defaulted by internal/allocunit when absent.
type Options struct {
	SubnetMask        string                 `toml:"subnet_mask"`
	Routers           []string               `toml:"routers"`
	DomainNameServers []string               `toml:"dns_servers"`
	DomainName        string                 `toml:"domain_name"`
	BroadcastAddress  string                 `toml:"broadcast_address"`
	LeaseTime         *uint32                `toml:"lease_time"`
	RenewalTime       *uint32                `toml:"renewal_time"`
	RebindingTime     *uint32                `toml:"rebinding_time"`
	DomainSearch      []string               `toml:"domain_search"`
	ClasslessRoutes   []ClasslessRouteConfig `toml:"classless_routes"`
}

// Build converts o into wire options. Parse errors in any configured
// address are reported with enough context to find the offending key.
func (o Options) Build() ([]dhcp4.Option, error) {
	var opts []dhcp4.Option

	if o.SubnetMask != "" {
		ip, err := parseIP(o.SubnetMask, "options.subnet_mask")
		if err != nil {
			return nil, err
		}
		opts = append(opts, dhcp4.NewSubnetMask(ip))
	}

	if len(o.Routers) > 0 {
		ips, err := parseIPs(o.Routers, "options.routers")
		if err != nil {
			return nil, err
		}
		opts = append(opts, dhcp4.NewRouter(ips...))
	}

	if len(o.DomainNameServers) > 0 {
		ips, err := parseIPs(o.DomainNameServers, "options.dns_servers")
		if err != nil {
			return nil, err
		}
		opts = append(opts, dhcp4.NewDomainNameServer(ips...))
	}

	if o.DomainName != "" {
		opts = append(opts, dhcp4.NewDomainName(o.DomainName))
	}

	if o.BroadcastAddress != "" {
		ip, err := parseIP(o.BroadcastAddress, "options.broadcast_address")
		if err != nil {
			return nil, err
		}
		opts = append(opts, dhcp4.NewBroadcastAddress(ip))
	}

	if o.LeaseTime != nil {
		opts = append(opts, dhcp4.NewLeaseTime(*o.LeaseTime))
	}
	if o.RenewalTime != nil {
		opts = append(opts, dhcp4.NewRenewalTime(*o.RenewalTime))
	}
	if o.RebindingTime != nil {
		opts = append(opts, dhcp4.NewRebindingTime(*o.RebindingTime))
	}

	if len(o.DomainSearch) > 0 {
		opts = append(opts, dhcp4.NewDomainSearch(o.DomainSearch...))
	}

	if len(o.ClasslessRoutes) > 0 {
		routes := make([]dhcp4.ClasslessRoute, 0, len(o.ClasslessRoutes))
		for _, rc := range o.ClasslessRoutes {
			netIP, err := parseIP(rc.Net, "options.classless_routes.net")
			if err != nil {
				return nil, err
			}
			routerIP, err := parseIP(rc.Router, "options.classless_routes.router")
			if err != nil {
				return nil, err
			}
			routes = append(routes, dhcp4.ClasslessRoute{Net: netIP, Prefix: rc.Prefix, Router: routerIP})
		}
		opts = append(opts, dhcp4.NewClasslessRoutes(routes...))
	}

	return opts, nil
}

func parseIP(s, field string) (net.IP, error) {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("config: %s: invalid IPv4 literal %q", field, s)
	}
	return ip, nil
}

func parseIPs(ss []string, field string) ([]net.IP, error) {
	ips := make([]net.IP, 0, len(ss))
	for _, s := range ss {
		ip, err := parseIP(s, field)
		if err != nil {
			return nil, err
		}
		ips = append(ips, ip)
	}
	return ips, nil
}

// Load reads and decodes the TOML configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return &c, nil
}
