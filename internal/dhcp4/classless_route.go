package dhcp4

import (
	"fmt"
	"net"
)

// ClasslessRoute is one entry of option 121 (RFC 3442): a destination
// prefix and the gateway that routes it.
type ClasslessRoute struct {
	Net    net.IP // only its first octetsForPrefix(Prefix) octets go on the wire; decoded routes hold 4 bytes
	Prefix uint8
	Router net.IP
}

// octetsForPrefix returns how many leading octets of Net a prefix of this
// length actually occupies on the wire (RFC 3442's significant-octets
// encoding): a /0 needs zero, a /25 needs four.
func octetsForPrefix(prefix uint8) int {
	n := int(prefix) / 8
	if prefix%8 != 0 {
		n++
	}
	return n
}

// size returns the on-wire byte length of r: one prefix-length byte, the
// significant network octets, and the 4-byte gateway.
func (r ClasslessRoute) size() int {
	return 1 + octetsForPrefix(r.Prefix) + 4
}

func (r ClasslessRoute) encode(buf *[]byte) {
	octets := octetsForPrefix(r.Prefix)
	*buf = append(*buf, r.Prefix)
	*buf = append(*buf, r.Net.To4()[:octets]...)
	*buf = append(*buf, r.Router.To4()...)
}

// decodeClasslessRoute reads a single route off the front of b and returns
// it along with the number of bytes consumed. It rejects prefixes over 32
// and buffers too short to hold the claimed route.
func decodeClasslessRoute(b []byte) (ClasslessRoute, int, error) {
	if len(b) < 1 {
		return ClasslessRoute{}, 0, fmt.Errorf("dhcp4: empty buffer for classless route")
	}

	prefix := b[0]
	if prefix > 32 {
		return ClasslessRoute{}, 0, fmt.Errorf("dhcp4: classless route prefix %d exceeds 32", prefix)
	}

	octets := octetsForPrefix(prefix)
	need := 1 + octets + 4
	if len(b) < need {
		return ClasslessRoute{}, 0, fmt.Errorf("dhcp4: classless route needs %d bytes, have %d", need, len(b))
	}

	netBytes := make(net.IP, 4)
	copy(netBytes, b[1:1+octets])

	router := make(net.IP, 4)
	copy(router, b[1+octets:need])

	return ClasslessRoute{Net: netBytes, Prefix: prefix, Router: router}, need, nil
}

// decodeClasslessRoutes parses the full option-121 value, which is a
// sequence of routes with no separator between them.
func decodeClasslessRoutes(b []byte) ([]ClasslessRoute, error) {
	var routes []ClasslessRoute
	for len(b) > 0 {
		r, n, err := decodeClasslessRoute(b)
		if err != nil {
			return nil, err
		}
		routes = append(routes, r)
		b = b[n:]
	}
	return routes, nil
}
