// Package dhcp4 implements the DHCPv4 wire format spec.md §6.1 describes: a
// fixed 236-byte BOOTP header, the magic cookie, and a TLV option stream
// with fragment-concatenating decode and single-occurrence encode.
//
// Grounded on original_source/packet/mod.rs's DhcpPacket, ported from its
// byte-oriented serialize_with/deserialize pair rather than reused as a
// krolaw/dhcp4-style Options map, since that type can't express option
// fragmentation or the ClasslessRoute/DomainSearch codecs this format
// needs — see DESIGN.md.
package dhcp4

import (
	"encoding/binary"
	"fmt"
	"net"
)

const (
	magicCookie  = 0x63825363
	cookieOffset = 236
	headerSize   = 240 // fixed header + magic cookie

	hwTypeEthernet = 1
	hwLenEthernet  = 6

	// FlagBroadcast is bit 15 of the flags field (spec.md §6.1 offset 10).
	FlagBroadcast = 0x8000
)

// Packet is a decoded DHCPv4 message. Options never contains a MessageType
// entry: that field is promoted to Type, matching spec.md's data model
// where the message type is a first-class field, not just another option.
type Packet struct {
	Type         MessageType
	XID          uint32
	Secs         uint16
	Flags        uint16
	ClientAddr   net.IP // ciaddr, nil if zero
	YourAddr     net.IP // yiaddr, nil if zero
	ServerAddr   net.IP // siaddr, nil if zero
	GatewayAddr  net.IP // giaddr, nil if zero
	ClientHWAddr net.HardwareAddr
	Options      []Option
}

// Broadcast reports whether the broadcast flag bit is set.
func (p *Packet) Broadcast() bool {
	return p.Flags&FlagBroadcast != 0
}

// Option returns the first option with the given code, if present.
func (p *Packet) Option(code OptionCode) (Option, bool) {
	for _, o := range p.Options {
		if o.Code == code {
			return o, true
		}
	}
	return Option{}, false
}

func pushIP(buf []byte, ip net.IP) []byte {
	if ip == nil {
		return append(buf, 0, 0, 0, 0)
	}
	return append(buf, ip.To4()...)
}

// Serialize encodes p into its wire representation.
func (p *Packet) Serialize() ([]byte, error) {
	if len(p.ClientHWAddr) != hwLenEthernet {
		return nil, fmt.Errorf("dhcp4: client hardware address must be %d bytes, got %d", hwLenEthernet, len(p.ClientHWAddr))
	}

	buf := make([]byte, 0, 300)
	buf = append(buf, p.Type.op(), hwTypeEthernet, hwLenEthernet, 0)

	var xid [4]byte
	binary.BigEndian.PutUint32(xid[:], p.XID)
	buf = append(buf, xid[:]...)

	var secs [2]byte
	binary.BigEndian.PutUint16(secs[:], p.Secs)
	buf = append(buf, secs[:]...)

	var flags [2]byte
	binary.BigEndian.PutUint16(flags[:], p.Flags)
	buf = append(buf, flags[:]...)

	buf = pushIP(buf, p.ClientAddr)
	buf = pushIP(buf, p.YourAddr)
	buf = pushIP(buf, p.ServerAddr)
	buf = pushIP(buf, p.GatewayAddr)

	buf = append(buf, p.ClientHWAddr...)
	buf = append(buf, make([]byte, 16-hwLenEthernet)...) // pad chaddr to 16

	buf = append(buf, make([]byte, 64)...)  // sname, unused
	buf = append(buf, make([]byte, 128)...) // file, unused

	var cookie [4]byte
	binary.BigEndian.PutUint32(cookie[:], magicCookie)
	buf = append(buf, cookie[:]...)

	NewMessageTypeOption(p.Type).encode(&buf)
	for _, o := range p.Options {
		o.encode(&buf)
	}
	buf = append(buf, 0xff)

	return buf, nil
}

func ipOrNil(b []byte) net.IP {
	ip := net.IP(append([]byte(nil), b[:4]...))
	if ip.Equal(net.IPv4zero) {
		return nil
	}
	return ip
}

// Deserialize decodes a wire-format DHCPv4 message. It rejects a short
// buffer, a missing or wrong magic cookie, a hardware type/length that
// isn't Ethernet, and a missing MessageType option — all per spec.md §6.1.
func Deserialize(buf []byte) (*Packet, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("dhcp4: message too short to contain a header and magic cookie: %d bytes", len(buf))
	}

	cookie := binary.BigEndian.Uint32(buf[cookieOffset:])
	if cookie != magicCookie {
		return nil, fmt.Errorf("dhcp4: bad magic cookie %#x", cookie)
	}

	htype, hlen := buf[1], buf[2]
	if htype != hwTypeEthernet || hlen != hwLenEthernet {
		return nil, fmt.Errorf("dhcp4: unsupported hardware type/length %d/%d", htype, hlen)
	}

	p := &Packet{
		XID:          binary.BigEndian.Uint32(buf[4:8]),
		Secs:         binary.BigEndian.Uint16(buf[8:10]),
		Flags:        binary.BigEndian.Uint16(buf[10:12]),
		ClientAddr:   ipOrNil(buf[12:16]),
		YourAddr:     ipOrNil(buf[16:20]),
		ServerAddr:   ipOrNil(buf[20:24]),
		GatewayAddr:  ipOrNil(buf[24:28]),
		ClientHWAddr: net.HardwareAddr(append([]byte(nil), buf[28:28+hwLenEthernet]...)),
	}

	opts, err := decodeOptions(buf[headerSize:])
	if err != nil {
		return nil, err
	}

	var found bool
	for _, o := range opts {
		if o.Code == OptionMessageType {
			t, err := o.MessageType()
			if err != nil {
				return nil, err
			}
			p.Type = t
			found = true
			continue
		}
		p.Options = append(p.Options, o)
	}
	if !found {
		return nil, fmt.Errorf("dhcp4: no MessageType option present")
	}

	return p, nil
}

// decodeOptions parses the TLV option stream starting just past the magic
// cookie, concatenating the value octets of any option code that appears
// more than once (spec.md §6.1's fragmentation rule) before decoding each
// code's value exactly once.
func decodeOptions(buf []byte) ([]Option, error) {
	fragments := make(map[OptionCode][]byte)
	order := make([]OptionCode, 0, 8)

	i := 0
	for {
		if i >= len(buf) {
			return nil, fmt.Errorf("dhcp4: option stream ended before the 0xff terminator")
		}

		code := buf[i]
		if code == 0xff {
			break
		}
		if code == 0x00 {
			i++
			continue
		}

		if i+1 >= len(buf) {
			return nil, fmt.Errorf("dhcp4: option %d has no length byte", code)
		}
		length := int(buf[i+1])

		if i+2+length > len(buf) {
			return nil, fmt.Errorf("dhcp4: option %d length %d overruns buffer", code, length)
		}

		value := buf[i+2 : i+2+length]
		oc := OptionCode(code)
		if _, seen := fragments[oc]; !seen {
			order = append(order, oc)
		}
		fragments[oc] = append(fragments[oc], value...)

		i += 2 + length
	}

	opts := make([]Option, 0, len(order))
	for _, code := range order {
		opts = append(opts, Option{Code: code, Value: fragments[code]})
	}
	return opts, nil
}
