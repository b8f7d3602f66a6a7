// Package allocunit binds a pool's allocator to the Selector predicate that
// decides which clients it serves and the DHCP reply options it hands out,
// per spec.md §4.4.
//
// Grounded on original_source/allocationunit.rs's AllocationUnit: same
// default_options clz-derived subnet mask math, same get_lease_time /
// get_mask single-occurrence option lookups.
package allocunit

import (
	"math/bits"
	"time"

	"github.com/haldane-systems/dhcpauthd/internal/addr"
	"github.com/haldane-systems/dhcpauthd/internal/allocator"
	"github.com/haldane-systems/dhcpauthd/internal/dhcp4"
	"github.com/haldane-systems/dhcpauthd/internal/lease"
)

const defaultLeaseSeconds = 86400

// Unit is the per-pool operational object spec.md §4.4 describes: a
// Selector, an Allocator, the reply options for this pool, and the lease
// time extracted from those options.
type Unit struct {
	Selector  Selector
	Allocator *allocator.Allocator
	options   []dhcp4.Option
	leaseTime time.Duration
}

// New builds a Unit over alloc, applying defaultOptions to opts so the
// invariants in spec.md §4.4 hold: exactly one SubnetMask and one
// LeaseTime option.
func New(alloc *allocator.Allocator, sel Selector, opts []dhcp4.Option) *Unit {
	options := defaultOptions(opts, alloc)

	return &Unit{
		Selector:  sel,
		Allocator: alloc,
		options:   options,
		leaseTime: time.Duration(mustUint32(options, dhcp4.OptionLeaseTime)) * time.Second,
	}
}

// defaultOptions appends a LeaseTime option (86400s) and a SubnetMask
// option (derived from alloc's pool bounds) to opts if either is missing.
//
// The subnet mask derivation: treat the pool's lowest and highest address
// as 32-bit integers, count the leading zero bits of their XOR — that many
// high bits are common to every address in the pool and become the mask's
// network portion.
func defaultOptions(opts []dhcp4.Option, alloc *allocator.Allocator) []dhcp4.Option {
	out := append([]dhcp4.Option(nil), opts...)

	if !hasOption(out, dhcp4.OptionLeaseTime) {
		out = append(out, dhcp4.NewLeaseTime(defaultLeaseSeconds))
	}

	if !hasOption(out, dhcp4.OptionSubnetMask) {
		lowest, highest := alloc.Bounds()
		out = append(out, dhcp4.NewSubnetMask(defaultSubnetMask(lowest, highest).AsNetIP()))
	}

	return out
}

// defaultSubnetMask implements spec.md §4.4's mask derivation for a pool
// spanning [lowest, highest].
func defaultSubnetMask(lowest, highest addr.V4) addr.V4 {
	prefix := bits.LeadingZeros32(lowest.Uint32() ^ highest.Uint32())
	var mask uint32
	if prefix > 0 {
		mask = ^uint32(0) << (32 - prefix)
	}
	return addr.V4FromUint32(mask)
}

func hasOption(opts []dhcp4.Option, code dhcp4.OptionCode) bool {
	for _, o := range opts {
		if o.Code == code {
			return true
		}
	}
	return false
}

// mustUint32 is only ever called on LeaseTime right after defaultOptions
// has guaranteed its presence, so a lookup miss would be a bug in New, not
// a runtime condition callers need to handle.
func mustUint32(opts []dhcp4.Option, code dhcp4.OptionCode) uint32 {
	for _, o := range opts {
		if o.Code == code {
			v, err := o.Uint32()
			if err != nil {
				panic(err)
			}
			return v
		}
	}
	panic("allocunit: option not found after defaulting")
}

// Options returns the pool's reply options, including any defaulted
// SubnetMask/LeaseTime.
func (u *Unit) Options() []dhcp4.Option {
	return u.options
}

// LeaseTime returns the pool's configured lease duration.
func (u *Unit) LeaseTime() time.Duration {
	return u.leaseTime
}

// Name returns the underlying allocator's stable name.
func (u *Unit) Name() string {
	return u.Allocator.Name()
}

// Matches reports whether this unit's selector serves c.
func (u *Unit) Matches(c lease.Client) bool {
	return u.Selector.Matches(c)
}

// SaveTo persists the underlying allocator's state.
func (u *Unit) SaveTo(dir string) error {
	return u.Allocator.SaveTo(dir)
}

// LoadFrom restores the underlying allocator's state.
func (u *Unit) LoadFrom(dir string) error {
	return u.Allocator.LoadFrom(dir)
}
