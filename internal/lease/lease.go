// Package lease defines the value types shared by the allocator and
// pipeline: Client identity, durable Allocation bindings, and
// time-bounded Lease assertions, per spec.md §3/§4.2.
package lease

import (
	"net"
	"time"

	"github.com/haldane-systems/dhcpauthd/internal/addr"
)

// Client is a DHCP client identity derived from a request. Two clients are
// identical when all three components match; they overlap when any one
// non-empty component matches (see Identical and Overlaps).
type Client struct {
	HWAddr           net.HardwareAddr
	ClientIdentifier []byte
	Hostname         string
}

// Identical reports whether c and other have matching HWAddr,
// ClientIdentifier and Hostname.
func (c Client) Identical(other Client) bool {
	return hwEqual(c.HWAddr, other.HWAddr) &&
		bytesEqual(c.ClientIdentifier, other.ClientIdentifier) &&
		c.Hostname == other.Hostname
}

// Overlaps reports whether c and other share at least one non-empty
// matching field among HWAddr, ClientIdentifier, and Hostname.
func (c Client) Overlaps(other Client) bool {
	if len(c.HWAddr) > 0 && hwEqual(c.HWAddr, other.HWAddr) {
		return true
	}
	if len(c.ClientIdentifier) > 0 && bytesEqual(c.ClientIdentifier, other.ClientIdentifier) {
		return true
	}
	if c.Hostname != "" && c.Hostname == other.Hostname {
		return true
	}
	return false
}

// HasClientIdentifier reports whether c carries a client identifier
// option.
func (c Client) HasClientIdentifier() bool {
	return len(c.ClientIdentifier) > 0
}

// HasHostname reports whether c carries a hostname option.
func (c Client) HasHostname() bool {
	return c.Hostname != ""
}

func hwEqual(a, b net.HardwareAddr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Allocation is a durable client<->address binding, persisted to disk.
// Every Allocation.Assigned is marked used in its pool. Forever exempts
// the allocation from LRU eviction.
type Allocation struct {
	Assigned addr.V4
	Client   Client
	LastSeen time.Time
	Forever  bool
}

// Lease is a time-bounded assertion that Client currently holds Assigned.
type Lease struct {
	Assigned      addr.V4
	Client        Client
	LeaseStart    time.Time
	LeaseDuration time.Duration
}

// IsActive reports whether the lease has not yet expired as of now.
func (l Lease) IsActive(now time.Time) bool {
	return now.Sub(l.LeaseStart) < l.LeaseDuration
}

// CoversAllocation reports whether l is the lease for a, by content-address
// (client, assigned) rather than a pointer/back-reference — see spec.md §9's
// note on avoiding ownership cycles between leases and allocations.
func (l Lease) CoversAllocation(a Allocation) bool {
	return l.Assigned == a.Assigned && l.Client.Identical(a.Client)
}

// ForAllocation builds a fresh Lease for a, stamped to start at now, valid
// for duration.
func ForAllocation(a Allocation, now time.Time, duration time.Duration) Lease {
	return Lease{
		Assigned:      a.Assigned,
		Client:        a.Client,
		LeaseStart:    now,
		LeaseDuration: duration,
	}
}
