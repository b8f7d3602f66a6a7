// Package frame wraps and unwraps the Ethernet/IPv4/UDP envelope around a
// DHCPv4 payload, per spec.md §4.5's encapsulation rules. A client mid-DORA
// has no configured address to route through the kernel's UDP stack, so the
// daemon builds and parses these frames itself rather than going through a
// bound socket.
//
// Grounded on original_source/src/frame/mod.rs (Ethernet/IPv4Packet/UDP
// serialize_onto, zero UDP checksum, IPv4 ones'-complement header checksum)
// and on the Ethernet/IPv4/UDP construction in
// psanford-dhcpeterd/internal/dhcp4d/dhcp4d.go's ServeDHCP, generalized to
// also decode inbound frames the way
// AdguardTeam-AdGuardHome/internal/dhcpsvc/handle.go does with
// gopacket.NewPacketSource/pkt.Layer.
package frame

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ServerPort and ClientPort are the well-known DHCPv4 UDP ports.
const (
	ServerPort = 67
	ClientPort = 68
)

// BroadcastMAC is the all-ones Ethernet broadcast address. Replies built by
// internal/ifworker do not use it: they are addressed to the client's MAC.
var BroadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Inbound is a decoded request frame: the DHCPv4 payload plus the addressing
// detail the pipeline and reply encoder need.
type Inbound struct {
	SrcMAC  net.HardwareAddr
	SrcIP   net.IP
	DstIP   net.IP
	Payload []byte
}

// Decode parses raw as an Ethernet/IPv4/UDP frame and returns its payload.
// It returns an error for anything that isn't a UDP-over-IPv4 frame
// addressed to ServerPort; callers treat that as "not a DHCP request" and
// drop it silently rather than surfacing the error further.
func Decode(raw []byte) (*Inbound, error) {
	pkt := gopacket.NewPacket(raw, layers.LayerTypeEthernet, gopacket.NoCopy)

	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		return nil, fmt.Errorf("frame: not an ethernet frame")
	}
	if eth.EthernetType != layers.EthernetTypeIPv4 {
		return nil, fmt.Errorf("frame: ethertype %s is not IPv4", eth.EthernetType)
	}

	ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		return nil, fmt.Errorf("frame: not an IPv4 packet")
	}

	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		return nil, fmt.Errorf("frame: not a UDP datagram")
	}
	if udp.DstPort != ServerPort {
		return nil, fmt.Errorf("frame: udp dst port %d is not %d", udp.DstPort, ServerPort)
	}

	return &Inbound{
		SrcMAC:  eth.SrcMAC,
		SrcIP:   ip.SrcIP,
		DstIP:   ip.DstIP,
		Payload: udp.Payload,
	}, nil
}

// Encode builds an Ethernet/IPv4/UDP frame carrying payload from
// (srcMAC, srcIP, ServerPort) to (dstMAC, dstIP, ClientPort).
//
// The UDP checksum is left at zero: optional for IPv4 and the original
// implementation never computes one. The IPv4 header checksum is always
// computed, since routers and client stacks do validate it.
func Encode(srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		SrcIP:    srcIP.To4(),
		DstIP:    dstIP.To4(),
		Protocol: layers.IPProtocolUDP,
		Flags:    layers.IPv4DontFragment,
	}

	udpHeader := make([]byte, 8)
	binary.BigEndian.PutUint16(udpHeader[0:], ServerPort)
	binary.BigEndian.PutUint16(udpHeader[2:], ClientPort)
	binary.BigEndian.PutUint16(udpHeader[4:], uint16(8+len(payload)))
	// bytes [6:8] (checksum) stay zero.

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}

	body := append(udpHeader, payload...)
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, gopacket.Payload(body)); err != nil {
		return nil, fmt.Errorf("frame: serialize: %w", err)
	}

	return buf.Bytes(), nil
}
