// Package allocator implements the persistent binding engine described in
// spec.md §4.3: it maps clients to allocations, overlays short-lived
// leases on top, evicts via LRU when the pool is exhausted, invokes
// operator hooks, and persists both collections to disk.
//
// Grounded on original_source/allocator.rs's Allocator (allocations +
// leases + pool, find_allocation/allocation_for/get_requested/next_ip),
// extended per spec.md for the four-step client matching fallback, the
// forever flag, hook invocation, and active-lease-aware eviction.
package allocator

import (
	"bytes"
	"sort"
	"time"

	"github.com/haldane-systems/dhcpauthd/internal/addr"
	"github.com/haldane-systems/dhcpauthd/internal/clock"
	"github.com/haldane-systems/dhcpauthd/internal/hooks"
	"github.com/haldane-systems/dhcpauthd/internal/lease"
	"github.com/haldane-systems/dhcpauthd/internal/pool"
)

// Hooks names the three operator-program paths an Allocator may invoke.
// Any field left empty is simply not invoked.
type Hooks struct {
	Allocate   string
	Deallocate string
	Lease      string
}

// Allocator owns a pool and the allocations/leases bound to it. It is not
// safe for concurrent use: spec.md §5 calls for single-writer-per-worker
// access, and the allocator relies on that for its eviction invariant.
type Allocator struct {
	pool        *pool.Pool[addr.V4]
	allocations []lease.Allocation
	leases      []lease.Lease
	hooks       Hooks
	clock       clock.Clock
}

// New builds an Allocator over p with the given hooks. clk defaults to
// [clock.System] if nil.
func New(p *pool.Pool[addr.V4], h Hooks, clk clock.Clock) *Allocator {
	if clk == nil {
		clk = clock.System
	}

	return &Allocator{pool: p, hooks: h, clock: clk}
}

// Name returns the underlying pool's stable name, used as the allocator's
// persistence directory name.
func (a *Allocator) Name() string {
	return a.pool.Name()
}

// Bounds returns the pool's lowest and highest configured addresses, used
// by AllocationUnit to derive a default subnet mask.
func (a *Allocator) Bounds() (lowest, highest addr.V4) {
	return a.pool.Lowest(), a.pool.Highest()
}

// findAllocationIndex implements the four-step fallback matching policy
// from spec.md §4.3: exact identity, then client identifier, then hwaddr,
// then hostname, each only considered if the requesting client carries
// that field (steps 2 and 4).
func (a *Allocator) findAllocationIndex(c lease.Client) (int, bool) {
	for i, alloc := range a.allocations {
		if alloc.Client.Identical(c) {
			return i, true
		}
	}

	if c.HasClientIdentifier() {
		for i, alloc := range a.allocations {
			if bytes.Equal(alloc.Client.ClientIdentifier, c.ClientIdentifier) {
				return i, true
			}
		}
	}

	for i, alloc := range a.allocations {
		if bytes.Equal(alloc.Client.HWAddr, c.HWAddr) {
			return i, true
		}
	}

	if c.HasHostname() {
		for i, alloc := range a.allocations {
			if alloc.Client.Hostname == c.Hostname {
				return i, true
			}
		}
	}

	return 0, false
}

// findLeaseIndex applies the same four-step fallback to the lease
// collection.
func (a *Allocator) findLeaseIndex(c lease.Client) (int, bool) {
	for i, l := range a.leases {
		if l.Client.Identical(c) {
			return i, true
		}
	}

	if c.HasClientIdentifier() {
		for i, l := range a.leases {
			if bytes.Equal(l.Client.ClientIdentifier, c.ClientIdentifier) {
				return i, true
			}
		}
	}

	for i, l := range a.leases {
		if bytes.Equal(l.Client.HWAddr, c.HWAddr) {
			return i, true
		}
	}

	if c.HasHostname() {
		for i, l := range a.leases {
			if l.Client.Hostname == c.Hostname {
				return i, true
			}
		}
	}

	return 0, false
}

// viableForEviction returns the indices of allocations that are eligible
// for LRU eviction: not Forever, and not covered by any currently active
// lease.
func (a *Allocator) viableForEviction() []int {
	now := a.clock.Now()

	var viable []int
	for i, alloc := range a.allocations {
		if alloc.Forever {
			continue
		}

		covered := false
		for _, l := range a.leases {
			if l.CoversAllocation(alloc) && l.IsActive(now) {
				covered = true
				break
			}
		}

		if !covered {
			viable = append(viable, i)
		}
	}

	return viable
}

// nextIP implements spec.md §4.3 nextIp: ask the pool, falling back to
// evicting the least-recently-seen viable allocation.
//
// Returns the address and whether it came from eviction (in which case the
// caller is responsible for removing the evicted allocation and firing the
// deallocate hook).
func (a *Allocator) nextIP() (ip addr.V4, evictedIdx int, evicted bool, ok bool) {
	if next, pooled := a.pool.Next(); pooled {
		return next, 0, false, true
	}

	viable := a.viableForEviction()
	if len(viable) == 0 {
		return addr.V4{}, 0, false, false
	}

	sort.Slice(viable, func(i, j int) bool {
		return a.allocations[viable[i]].LastSeen.Before(a.allocations[viable[j]].LastSeen)
	})

	idx := viable[0]
	return a.allocations[idx].Assigned, idx, true, true
}

// removeAllocation deletes the allocation at idx, preserving the relative
// order of the rest (order matters for LRU tie-breaking determinism).
func (a *Allocator) removeAllocation(idx int) lease.Allocation {
	removed := a.allocations[idx]
	a.allocations = append(a.allocations[:idx], a.allocations[idx+1:]...)
	return removed
}

// fireAllocate invokes the allocate hook, if configured.
func (a *Allocator) fireAllocate(alloc lease.Allocation) {
	hooks.Run(a.hooks.Allocate, alloc.Assigned.AsNetIP(), alloc.Client.HWAddr, alloc.Client.Hostname)
}

// fireDeallocate invokes the deallocate hook, if configured.
func (a *Allocator) fireDeallocate(alloc lease.Allocation) {
	hooks.Run(a.hooks.Deallocate, alloc.Assigned.AsNetIP(), alloc.Client.HWAddr, alloc.Client.Hostname)
}

// fireLease invokes the lease hook, if configured.
func (a *Allocator) fireLease(l lease.Lease) {
	hooks.Run(a.hooks.Lease, l.Assigned.AsNetIP(), l.Client.HWAddr, l.Client.Hostname)
}

// allocationFor implements spec.md §4.3 allocationFor: find-or-create an
// allocation for client with no address hint.
func (a *Allocator) allocationFor(c lease.Client) (*lease.Allocation, bool) {
	if idx, ok := a.findAllocationIndex(c); ok {
		return &a.allocations[idx], true
	}

	ip, evictedIdx, evicted, ok := a.nextIP()
	if !ok {
		return nil, false
	}

	if evicted {
		removed := a.removeAllocation(evictedIdx)
		a.pool.SetUnused(removed.Assigned)
		a.pool.SetUsed(ip)
		a.fireDeallocate(removed)
	}

	alloc := lease.Allocation{
		Assigned: ip,
		Client:   c,
		LastSeen: a.clock.Now(),
		Forever:  false,
	}
	a.allocations = append(a.allocations, alloc)
	a.fireAllocate(alloc)

	return &a.allocations[len(a.allocations)-1], true
}

// getRequested implements spec.md §4.3 getRequested: honor addr if an
// existing allocation for it overlaps the requesting client, otherwise
// claim addr fresh if the pool considers it suitable and unused.
func (a *Allocator) getRequested(c lease.Client, want addr.V4) (*lease.Allocation, bool) {
	for i := range a.allocations {
		if a.allocations[i].Assigned == want && a.allocations[i].Client.Overlaps(c) {
			return &a.allocations[i], true
		}
	}

	if !a.pool.IsSuitable(want) || a.pool.IsUsed(want) {
		return nil, false
	}

	a.pool.SetUsed(want)
	alloc := lease.Allocation{
		Assigned: want,
		Client:   c,
		LastSeen: a.clock.Now(),
		Forever:  false,
	}
	a.allocations = append(a.allocations, alloc)
	a.fireAllocate(alloc)

	return &a.allocations[len(a.allocations)-1], true
}

// GetAllocation implements spec.md's getAllocation: addrHint nil dispatches
// to allocationFor, a non-nil hint dispatches to getRequested.
func (a *Allocator) GetAllocation(c lease.Client, addrHint *addr.V4) (lease.Allocation, bool) {
	var (
		alloc *lease.Allocation
		ok    bool
	)

	if addrHint == nil {
		alloc, ok = a.allocationFor(c)
	} else {
		alloc, ok = a.getRequested(c, *addrHint)
	}

	if !ok {
		return lease.Allocation{}, false
	}
	return *alloc, true
}

// GetRenewedLease implements spec.md §4.3 getRenewedLease, the critical
// path driving REQUEST/ACK (DISCOVER/OFFER uses GetAllocation): find-or-create the
// allocation, touch its LastSeen, find-or-create the lease, stamp its
// LeaseStart, fire the lease hook, and return it.
func (a *Allocator) GetRenewedLease(c lease.Client, addrHint *addr.V4, leaseTime time.Duration) (lease.Lease, bool) {
	var (
		alloc *lease.Allocation
		ok    bool
	)

	if addrHint == nil {
		alloc, ok = a.allocationFor(c)
	} else {
		alloc, ok = a.getRequested(c, *addrHint)
	}

	if !ok {
		return lease.Lease{}, false
	}

	now := a.clock.Now()
	alloc.LastSeen = now

	idx, found := a.findLeaseIndex(c)
	if !found {
		l := lease.ForAllocation(*alloc, now, leaseTime)
		a.leases = append(a.leases, l)
		idx = len(a.leases) - 1
	}

	a.leases[idx].Assigned = alloc.Assigned
	a.leases[idx].Client = alloc.Client
	a.leases[idx].LeaseStart = now
	if a.leases[idx].LeaseDuration == 0 {
		a.leases[idx].LeaseDuration = leaseTime
	}

	a.fireLease(a.leases[idx])

	return a.leases[idx], true
}
