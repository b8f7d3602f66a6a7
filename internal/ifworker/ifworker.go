// Package ifworker owns one physical interface: it resolves the NIC,
// builds the allocation units configured for it, and runs the
// receive/handle/reply loop described in spec.md §4.6.
//
// Grounded on original_source/src/interface.rs's Interface::get (NIC
// resolution, fatal on a missing interface) and
// original_source/src/handler.rs's handle_interface (the EINTR-retry read
// loop), and on psanford-dhcpeterd/internal/dhcp4d/dhcp4d.go's use of
// mdlayher/packet for the raw Ethernet socket.
package ifworker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"

	golibserrors "github.com/AdguardTeam/golibs/errors"
	"github.com/mdlayher/packet"
	"golang.org/x/sys/unix"

	"github.com/haldane-systems/dhcpauthd/internal/allocator"
	"github.com/haldane-systems/dhcpauthd/internal/allocunit"
	"github.com/haldane-systems/dhcpauthd/internal/clock"
	"github.com/haldane-systems/dhcpauthd/internal/config"
	"github.com/haldane-systems/dhcpauthd/internal/dhcp4"
	"github.com/haldane-systems/dhcpauthd/internal/frame"
	"github.com/haldane-systems/dhcpauthd/internal/pipeline"
)

// rawConn is the capability Worker needs from its Ethernet socket, satisfied
// in production by *packet.Conn and by a fake in tests.
type rawConn interface {
	ReadFrom(b []byte) (int, net.Addr, error)
	WriteTo(b []byte, addr net.Addr) (int, error)
	Close() error
}

// Worker serves one configured interface: it owns the raw socket and the
// allocation units built from that interface's pools.
type Worker struct {
	Name     string
	iface    *net.Interface
	rx, tx   rawConn
	units    []*allocunit.Unit
	myIPs    []net.IP
	cacheDir string
	log      *slog.Logger
}

// New resolves conf.Name to a live NIC, builds an AllocationUnit per
// configured pool, loads each unit's persisted state from cacheDir, and
// opens the raw Ethernet socket the worker reads and writes through.
//
// Every error New returns is fatal per spec.md §7: a missing NIC, a
// malformed persisted-state file, or failure to bind the raw socket.
func New(conf config.Interface, cacheDir string, log *slog.Logger) (*Worker, error) {
	iface, err := net.InterfaceByName(conf.Name)
	if err != nil {
		return nil, golibserrors.Annotate(err, fmt.Sprintf("resolving interface %s: %%w", conf.Name))
	}

	myIPs, err := interfaceIPv4s(iface)
	if err != nil {
		return nil, err
	}

	units := make([]*allocunit.Unit, 0, len(conf.Pools))
	for _, poolConf := range conf.Pools {
		u, err := buildUnit(iface, poolConf)
		if err != nil {
			return nil, golibserrors.Annotate(err, fmt.Sprintf("building pool on %s: %%w", conf.Name))
		}

		if err := u.LoadFrom(filepath.Join(cacheDir, conf.Name, u.Name())); err != nil {
			return nil, golibserrors.Annotate(err, fmt.Sprintf("loading persisted state for pool %s on %s: %%w", u.Name(), conf.Name))
		}

		units = append(units, u)
	}

	conn, err := packet.Listen(iface, packet.Raw, unix.ETH_P_ALL, nil)
	if err != nil {
		return nil, golibserrors.Annotate(err, fmt.Sprintf("opening raw socket on %s: %%w", conf.Name))
	}

	log.Info("interface ready", "iface", conf.Name, "mac", iface.HardwareAddr, "ips", myIPs, "pools", len(units))

	return &Worker{
		Name:     conf.Name,
		iface:    iface,
		rx:       conn,
		tx:       conn,
		units:    units,
		myIPs:    myIPs,
		cacheDir: filepath.Join(cacheDir, conf.Name),
		log:      log,
	}, nil
}

func interfaceIPv4s(iface *net.Interface) ([]net.IP, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, golibserrors.Annotate(err, fmt.Sprintf("listing addresses on %s: %%w", iface.Name))
	}

	var ips []net.IP
	for _, a := range addrs {
		n, ok := a.(*net.IPNet)
		if !ok || n.IP.To4() == nil {
			continue
		}
		ips = append(ips, n.IP.To4())
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("ifworker: %s has no IPv4 address", iface.Name)
	}
	return ips, nil
}

func buildUnit(iface *net.Interface, poolConf config.Pool) (*allocunit.Unit, error) {
	sel, err := poolConf.Selector.Build()
	if err != nil {
		return nil, err
	}

	p, err := poolConf.Range.Build(iface)
	if err != nil {
		return nil, err
	}

	opts, err := poolConf.Options.Build()
	if err != nil {
		return nil, err
	}

	hooks := allocator.Hooks{
		Allocate:   poolConf.Allocate,
		Deallocate: poolConf.Deallocate,
		Lease:      poolConf.Lease,
	}
	alloc := allocator.New(p, hooks, clock.System)

	return allocunit.New(alloc, sel, opts), nil
}

// Run reads frames off the interface until ctx is cancelled or a
// non-interrupted read error occurs. Each inbound frame is decoded,
// silently dropped on any framing/decode error, run through the pipeline,
// and any reply is encoded and written back; a handled request is followed
// by a best-effort persist of every unit's state.
func (w *Worker) Run(ctx context.Context) error {
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			w.rx.Close()
		case <-stopped:
		}
	}()

	buf := make([]byte, 1500)

	for {
		n, _, err := w.rx.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return golibserrors.Annotate(err, fmt.Sprintf("reading from %s: %%w", w.Name))
		}

		w.handleFrame(buf[:n])
	}
}

func (w *Worker) handleFrame(raw []byte) {
	in, err := frame.Decode(raw)
	if err != nil {
		w.log.Debug("dropped non-dhcp frame", "iface", w.Name, "err", err)
		return
	}

	req, err := dhcp4.Deserialize(in.Payload)
	if err != nil {
		w.log.Debug("dropped malformed dhcp message", "iface", w.Name, "err", err)
		return
	}

	reply, ok := pipeline.Handle(w.log, w.units, w.myIPs, req)
	if !ok {
		return
	}

	if err := w.sendReply(reply, req.ClientHWAddr); err != nil {
		w.log.Error("failed to send reply", "iface", w.Name, "err", err)
	}

	w.save()
}

func (w *Worker) sendReply(reply *pipeline.Reply, clientMAC net.HardwareAddr) error {
	wire, err := reply.Packet.Serialize()
	if err != nil {
		return golibserrors.Annotate(err, "serializing reply: %w")
	}

	// Ethernet destination is always the requesting client's own hardware
	// address, per spec.md §4.5 — never the broadcast MAC, even for a
	// client with no assigned source address yet.
	out, err := frame.Encode(w.iface.HardwareAddr, clientMAC, reply.ServerIP, net.IPv4bcast, wire)
	if err != nil {
		return golibserrors.Annotate(err, "encoding reply frame: %w")
	}

	_, err = w.tx.WriteTo(out, &packet.Addr{HardwareAddr: clientMAC})
	return err
}

// save persists every unit's state to the worker's cache directory,
// logging but not otherwise acting on a failure — a soft-persistence error
// per spec.md §7, not fatal to the running worker.
func (w *Worker) save() {
	for _, u := range w.units {
		if err := u.SaveTo(filepath.Join(w.cacheDir, u.Name())); err != nil {
			w.log.Error("failed to persist allocator state", "iface", w.Name, "pool", u.Name(), "err", err)
		}
	}
}

// Close releases the worker's raw socket.
func (w *Worker) Close() error {
	return w.rx.Close()
}
