// Package pipeline turns one decoded DHCPv4 request into zero or one reply,
// per spec.md §4.5. It is deliberately a pure function of its inputs: no
// I/O, no goroutines, so it can be tested without a NIC.
//
// Grounded on original_source/src/handler.rs's get_answer/get_offer/get_ack/
// get_inform/get_server_ip, carried into Go as free functions over
// []*allocunit.Unit rather than a mutable Interface struct.
package pipeline

import (
	"log/slog"
	"net"

	"github.com/haldane-systems/dhcpauthd/internal/addr"
	"github.com/haldane-systems/dhcpauthd/internal/allocunit"
	"github.com/haldane-systems/dhcpauthd/internal/dhcp4"
	"github.com/haldane-systems/dhcpauthd/internal/lease"
)

const (
	nackNoAllocator = "Can't find a viable allocator for this client"
	nackNotOffered  = "Can't give you this address. Did I offer it?"
)

// Reply is what Handle produces: a packet ready for serialization and the
// server IP to carry it from.
type Reply struct {
	Packet   *dhcp4.Packet
	ServerIP net.IP
}

// Handle runs req through the pipeline for the units and addresses owned by
// one interface, and returns the reply to send, if any.
func Handle(log *slog.Logger, units []*allocunit.Unit, myIPs []net.IP, req *dhcp4.Packet) (*Reply, bool) {
	switch req.Type {
	case dhcp4.Discover:
		return offer(log, units, myIPs, req)
	case dhcp4.Request:
		return ack(log, units, myIPs, req)
	case dhcp4.Inform:
		return inform(units, myIPs, req)
	default:
		log.Info("unhandled dhcp message type, no reply", "type", req.Type)
		return nil, false
	}
}

func clientFromPacket(req *dhcp4.Packet) lease.Client {
	c := lease.Client{HWAddr: req.ClientHWAddr}

	if opt, ok := req.Option(dhcp4.OptionClientIdentifier); ok {
		c.ClientIdentifier = opt.Value
	}
	if opt, ok := req.Option(dhcp4.OptionHostname); ok {
		c.Hostname = opt.String()
	}

	return c
}

func requestedAddress(req *dhcp4.Packet) *addr.V4 {
	opt, ok := req.Option(dhcp4.OptionAddressRequest)
	if !ok {
		return nil
	}
	ip, err := opt.IPv4()
	if err != nil {
		return nil
	}
	v4 := addr.V4FromNet(ip)
	return &v4
}

func unitFor(units []*allocunit.Unit, c lease.Client) (*allocunit.Unit, bool) {
	for _, u := range units {
		if u.Matches(c) {
			return u, true
		}
	}
	return nil, false
}

// getServerIP returns the first of myIPs whose subnet, under mask, contains
// client. Per spec.md §4.5 this is how the daemon decides which of its own
// addresses to present as ServerIdentifier/IPv4 source for a reply destined
// to a given allocated address.
func getServerIP(myIPs []net.IP, client net.IP, mask net.IP) (net.IP, bool) {
	clientNet := client.Mask(net.IPMask(mask.To4()))
	for _, ip := range myIPs {
		if ip.Mask(net.IPMask(mask.To4())).Equal(clientNet) {
			return ip, true
		}
	}
	return nil, false
}

func offer(log *slog.Logger, units []*allocunit.Unit, myIPs []net.IP, req *dhcp4.Packet) (*Reply, bool) {
	client := clientFromPacket(req)
	hint := requestedAddress(req)

	u, ok := unitFor(units, client)
	if !ok {
		return nil, false
	}

	alloc, ok := u.Allocator.GetAllocation(client, hint)
	if !ok {
		alloc, ok = u.Allocator.GetAllocation(client, nil)
		if !ok {
			return nil, false
		}
	}

	mask := subnetMask(u)
	serverIP, ok := getServerIP(myIPs, alloc.Assigned.AsNetIP(), mask)
	if !ok {
		log.Error("tried to assign an address with no matching local subnet", "address", alloc.Assigned)
		return nil, false
	}

	opts := append(append([]dhcp4.Option(nil), u.Options()...), dhcp4.NewServerIdentifier(serverIP))

	return &Reply{
		Packet: &dhcp4.Packet{
			Type:         dhcp4.Offer,
			XID:          req.XID,
			YourAddr:     alloc.Assigned.AsNetIP(),
			ClientHWAddr: req.ClientHWAddr,
			Options:      opts,
		},
		ServerIP: serverIP,
	}, true
}

func ack(log *slog.Logger, units []*allocunit.Unit, myIPs []net.IP, req *dhcp4.Packet) (*Reply, bool) {
	client := clientFromPacket(req)
	hint := requestedAddress(req)

	u, ok := unitFor(units, client)
	if !ok {
		return nackReply(req, myIPs[0], nackNoAllocator), true
	}

	l, ok := u.Allocator.GetRenewedLease(client, hint, u.LeaseTime())
	if !ok {
		return nackReply(req, myIPs[0], nackNotOffered), true
	}

	mask := subnetMask(u)
	serverIP, ok := getServerIP(myIPs, l.Assigned.AsNetIP(), mask)
	if !ok {
		log.Error("tried to assign an address with no matching local subnet", "address", l.Assigned)
		return nil, false
	}

	opts := append(append([]dhcp4.Option(nil), u.Options()...), dhcp4.NewServerIdentifier(serverIP))

	return &Reply{
		Packet: &dhcp4.Packet{
			Type:         dhcp4.Ack,
			XID:          req.XID,
			YourAddr:     l.Assigned.AsNetIP(),
			ClientHWAddr: req.ClientHWAddr,
			Options:      opts,
		},
		ServerIP: serverIP,
	}, true
}

func nackReply(req *dhcp4.Packet, serverIP net.IP, message string) *Reply {
	return &Reply{
		Packet: &dhcp4.Packet{
			Type:         dhcp4.Nack,
			XID:          req.XID,
			ClientHWAddr: req.ClientHWAddr,
			Options:      []dhcp4.Option{dhcp4.NewMessage(message)},
		},
		ServerIP: serverIP,
	}
}

func inform(units []*allocunit.Unit, myIPs []net.IP, req *dhcp4.Packet) (*Reply, bool) {
	client := clientFromPacket(req)

	u, ok := unitFor(units, client)
	if !ok {
		return nil, false
	}

	return &Reply{
		Packet: &dhcp4.Packet{
			Type:         dhcp4.Offer,
			XID:          req.XID,
			ClientHWAddr: req.ClientHWAddr,
			Options:      append([]dhcp4.Option(nil), u.Options()...),
		},
		ServerIP: myIPs[0],
	}, true
}

func subnetMask(u *allocunit.Unit) net.IP {
	for _, o := range u.Options() {
		if o.Code == dhcp4.OptionSubnetMask {
			ip, err := o.IPv4()
			if err == nil {
				return ip
			}
		}
	}
	return net.IPv4(255, 255, 255, 255)
}
