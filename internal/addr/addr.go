// Package addr provides the ordered-address capability that internal/pool
// and internal/allocator are written against, plus the single IPv4
// implementation the rest of the daemon instantiates.
//
// The pool and allocator are deliberately not hard-coded to net/netip or
// net.IP: the spec calls for the pool to be "polymorphic over the address
// type", expressed as a small capability set rather than inheritance. Go
// encodes that as an interface with generics, not as a type hierarchy.
package addr

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Ordered is the capability a type must provide to be managed by
// [pool.Pool]: a total order, a successor function, and a difference
// (used to size ranges), plus a stable textual form for pool naming.
type Ordered[T any] interface {
	comparable

	// Less reports whether the receiver sorts before other.
	Less(other T) bool

	// Next returns the successor address. Next is only ever called on an
	// address that is not the maximum representable value for T.
	Next() T

	// Diff returns the number of successor steps from other to the
	// receiver. It is only meaningful when other.Less(receiver) or
	// other == receiver.
	Diff(other T) uint64

	// String returns the canonical textual form of the address.
	String() string
}

// V4 is an IPv4 address, stored big-endian so that byte-order comparisons
// coincide with the total numeric order.
type V4 [4]byte

// V4FromNet converts a net.IP (v4 or v4-in-v6) to a V4. It panics if ip is
// not a valid IPv4 address; callers at the config/wire boundary are
// expected to validate before calling this.
func V4FromNet(ip net.IP) V4 {
	v4 := ip.To4()
	if v4 == nil {
		panic(fmt.Sprintf("addr: %s is not an IPv4 address", ip))
	}

	var out V4
	copy(out[:], v4)
	return out
}

// ParseV4 parses a dotted-quad string into a V4.
func ParseV4(s string) (V4, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return V4{}, fmt.Errorf("addr: invalid IPv4 literal %q", s)
	}

	v4 := ip.To4()
	if v4 == nil {
		return V4{}, fmt.Errorf("addr: %q is not an IPv4 address", s)
	}

	var out V4
	copy(out[:], v4)
	return out, nil
}

// AsNetIP returns the address as a net.IP, for interop with gopacket layers
// and the standard library.
func (a V4) AsNetIP() net.IP {
	out := make(net.IP, 4)
	copy(out, a[:])
	return out
}

// Uint32 returns the address as a big-endian uint32, matching the numeric
// order used for subnet mask derivation.
func (a V4) Uint32() uint32 {
	return binary.BigEndian.Uint32(a[:])
}

// V4FromUint32 builds a V4 from its big-endian numeric value.
func V4FromUint32(v uint32) V4 {
	var out V4
	binary.BigEndian.PutUint32(out[:], v)
	return out
}

// Less implements [Ordered].
func (a V4) Less(other V4) bool {
	return a.Uint32() < other.Uint32()
}

// Next implements [Ordered]. Next of the all-ones address wraps to the
// all-zero address. [pool.Pool] does call Next on a range's upper bound; it
// treats a result below the range's lower bound, like one above its upper
// bound, as having left the range.
func (a V4) Next() V4 {
	return V4FromUint32(a.Uint32() + 1)
}

// Diff implements [Ordered].
func (a V4) Diff(other V4) uint64 {
	return uint64(a.Uint32()) - uint64(other.Uint32())
}

// String implements [Ordered] and fmt.Stringer.
func (a V4) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", a[0], a[1], a[2], a[3])
}
