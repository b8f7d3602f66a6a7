// Package pool implements the ordered, multi-range address allocator
// described in spec.md §4.1: a disjoint union of inclusive ranges over any
// [addr.Ordered] type, with explicit reservation and suitability checks.
//
// Grounded on original_source/pool.rs's single-range IPPool iterator,
// generalized to the multi-range pool spec.md requires.
package pool

import (
	"fmt"
	"strings"

	"github.com/haldane-systems/dhcpauthd/internal/addr"
)

// Range is an inclusive address range. The zero value is never valid;
// construct with [NewRange].
type Range[T addr.Ordered[T]] struct {
	Lower T
	Upper T
}

// NewRange validates and builds a Range. It fails when lower sorts after
// upper.
func NewRange[T addr.Ordered[T]](lower, upper T) (Range[T], error) {
	if upper.Less(lower) {
		return Range[T]{}, fmt.Errorf("pool: invalid range %s-%s: lower bound is greater than upper bound", lower, upper)
	}

	return Range[T]{Lower: lower, Upper: upper}, nil
}

// contains reports whether ip falls inside r, inclusive of both bounds.
func (r Range[T]) contains(ip T) bool {
	return !ip.Less(r.Lower) && !r.Upper.Less(ip)
}

// overlaps reports whether r and other share at least one address.
func (r Range[T]) overlaps(other Range[T]) bool {
	// r and other overlap unless one ends strictly before the other begins.
	return !(r.Upper.Less(other.Lower) || other.Upper.Less(r.Lower))
}

// Pool is an ordered, non-empty sequence of disjoint ranges with an
// explicit used-address set. It is not safe for concurrent use; callers
// (internal/allocator) serialize access themselves per spec.md §5.
type Pool[T addr.Ordered[T]] struct {
	ranges     []Range[T]
	used       map[T]struct{}
	rangeIndex int
	next       T
}

// New builds a single-range pool. It fails when lower > upper.
func New[T addr.Ordered[T]](lower, upper T) (*Pool[T], error) {
	r, err := NewRange(lower, upper)
	if err != nil {
		return nil, err
	}

	return NewMulti([]Range[T]{r})
}

// NewMulti builds a multi-range pool. It fails if ranges is empty, if any
// range is internally invalid, or if any two ranges overlap. Iteration
// order is the order ranges are given, matching spec.md's invariant that
// "iteration order is the order of the configured ranges".
func NewMulti[T addr.Ordered[T]](ranges []Range[T]) (*Pool[T], error) {
	if len(ranges) == 0 {
		return nil, fmt.Errorf("pool: at least one range is required")
	}

	for i := range ranges {
		for j := i + 1; j < len(ranges); j++ {
			if ranges[i].overlaps(ranges[j]) {
				return nil, fmt.Errorf(
					"pool: range %s-%s overlaps range %s-%s",
					ranges[i].Lower, ranges[i].Upper,
					ranges[j].Lower, ranges[j].Upper,
				)
			}
		}
	}

	cp := make([]Range[T], len(ranges))
	copy(cp, ranges)

	return &Pool[T]{
		ranges: cp,
		used:   make(map[T]struct{}),
		next:   cp[0].Lower,
	}, nil
}

// size returns the total number of addresses covered by the pool's ranges.
func (p *Pool[T]) size() uint64 {
	var total uint64
	for _, r := range p.ranges {
		total += r.Upper.Diff(r.Lower) + 1
	}
	return total
}

// Next advances to the next unused in-range address, marks it used, and
// returns it. It returns false once the used set covers the entire pool.
//
// Ordering: begin at the lowest address of the first configured range;
// advance by successor; skip addresses already in the used set; on
// crossing the current range's upper bound, wrap to the next range modulo
// the range count, resetting position to that range's lower bound.
func (p *Pool[T]) Next() (zero T, ok bool) {
	if uint64(len(p.used)) >= p.size() {
		return zero, false
	}

	current := p.next
	r := p.ranges[p.rangeIndex]

	for {
		// current.Less(r.Lower) catches the all-ones successor wrapping to zero.
		if r.Upper.Less(current) || current.Less(r.Lower) {
			p.rangeIndex = (p.rangeIndex + 1) % len(p.ranges)
			r = p.ranges[p.rangeIndex]
			current = r.Lower
		}

		if _, used := p.used[current]; used {
			current = current.Next()
			continue
		}

		p.next = current.Next()
		p.used[current] = struct{}{}
		return current, true
	}
}

// SetUsed marks ip as consumed, regardless of whether it was produced by
// Next. Used to replay persisted allocations at load time.
func (p *Pool[T]) SetUsed(ip T) {
	p.used[ip] = struct{}{}
}

// SetUnused returns ip to the pool's available set.
func (p *Pool[T]) SetUnused(ip T) {
	delete(p.used, ip)
}

// IsSuitable reports whether ip falls inside some configured range,
// regardless of whether it is currently used.
func (p *Pool[T]) IsSuitable(ip T) bool {
	for _, r := range p.ranges {
		if r.contains(ip) {
			return true
		}
	}
	return false
}

// IsUsed reports whether ip is in the used set.
func (p *Pool[T]) IsUsed(ip T) bool {
	_, used := p.used[ip]
	return used
}

// Lowest returns the smallest lower bound across all configured ranges.
func (p *Pool[T]) Lowest() T {
	lowest := p.ranges[0].Lower
	for _, r := range p.ranges[1:] {
		if r.Lower.Less(lowest) {
			lowest = r.Lower
		}
	}
	return lowest
}

// Highest returns the largest upper bound across all configured ranges.
func (p *Pool[T]) Highest() T {
	highest := p.ranges[0].Upper
	for _, r := range p.ranges[1:] {
		if highest.Less(r.Upper) {
			highest = r.Upper
		}
	}
	return highest
}

// Name returns a stable identifier for the pool, derived from its range
// bounds, suitable for use as a directory name: "a.b.c.d-e.f.g.h" per
// range, joined by "_".
func (p *Pool[T]) Name() string {
	parts := make([]string, len(p.ranges))
	for i, r := range p.ranges {
		parts[i] = fmt.Sprintf("%s-%s", r.Lower, r.Upper)
	}
	return strings.Join(parts, "_")
}

// Ranges returns the pool's configured ranges, in iteration order. The
// returned slice must not be mutated.
func (p *Pool[T]) Ranges() []Range[T] {
	return p.ranges
}
