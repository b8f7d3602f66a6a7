package allocunit

import "github.com/haldane-systems/dhcpauthd/internal/lease"

// Selector decides whether a client is served by a given pool. It is the Go
// encoding of spec.md §4.4's Selector variant enum.
type Selector interface {
	Matches(c lease.Client) bool
}

// All always matches.
type All struct{}

// Matches implements Selector.
func (All) Matches(lease.Client) bool { return true }

// Macs matches clients whose hardware address is in the set.
type Macs map[string]struct{}

// NewMacs builds a Macs selector from a list of hardware address strings.
func NewMacs(macs ...string) Macs {
	m := make(Macs, len(macs))
	for _, mac := range macs {
		m[mac] = struct{}{}
	}
	return m
}

// Matches implements Selector.
func (m Macs) Matches(c lease.Client) bool {
	_, ok := m[c.HWAddr.String()]
	return ok
}

// Hostnames matches clients whose hostname is in the set. An empty
// hostname never matches, per spec.md §4.4.
type Hostnames map[string]struct{}

// NewHostnames builds a Hostnames selector from a list of hostnames.
func NewHostnames(names ...string) Hostnames {
	h := make(Hostnames, len(names))
	for _, name := range names {
		h[name] = struct{}{}
	}
	return h
}

// Matches implements Selector.
func (h Hostnames) Matches(c lease.Client) bool {
	if c.Hostname == "" {
		return false
	}
	_, ok := h[c.Hostname]
	return ok
}

// Either matches when any one of its sub-selectors matches.
type Either []Selector

// Matches implements Selector.
func (e Either) Matches(c lease.Client) bool {
	for _, s := range e {
		if s.Matches(c) {
			return true
		}
	}
	return false
}
