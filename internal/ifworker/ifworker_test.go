package ifworker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haldane-systems/dhcpauthd/internal/addr"
	"github.com/haldane-systems/dhcpauthd/internal/allocator"
	"github.com/haldane-systems/dhcpauthd/internal/allocunit"
	"github.com/haldane-systems/dhcpauthd/internal/clock"
	"github.com/haldane-systems/dhcpauthd/internal/dhcp4"
	"github.com/haldane-systems/dhcpauthd/internal/frame"
	"github.com/haldane-systems/dhcpauthd/internal/pool"
)

// fakeConn is a rawConn double: ReadFrom serves queued frames, one per
// call, blocking once the queue is drained until Close is called.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	sent   [][]byte
	closed chan struct{}
}

func newFakeConn(frames ...[]byte) *fakeConn {
	return &fakeConn{frames: frames, closed: make(chan struct{})}
}

func (f *fakeConn) ReadFrom(b []byte) (int, net.Addr, error) {
	f.mu.Lock()
	if len(f.frames) > 0 {
		next := f.frames[0]
		f.frames = f.frames[1:]
		f.mu.Unlock()
		return copy(b, next), nil, nil
	}
	f.mu.Unlock()

	<-f.closed
	return 0, nil, errors.New("fakeConn: closed")
}

func (f *fakeConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), b...))
	return len(b), nil
}

func (f *fakeConn) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	require.NoError(t, err)
	return mac
}

// discoverFrame builds a client-to-server request frame (UDP src 68, dst
// 67) carrying a DISCOVER, the mirror image of what frame.Encode builds
// for server-to-client replies.
func discoverFrame(t *testing.T, srcMAC net.HardwareAddr, xid uint32) []byte {
	t.Helper()

	req := &dhcp4.Packet{
		Type:         dhcp4.Discover,
		XID:          xid,
		ClientHWAddr: srcMAC,
	}
	wire, err := req.Serialize()
	require.NoError(t, err)

	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: frame.BroadcastMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64,
		SrcIP: net.IPv4zero.To4(), DstIP: net.IPv4bcast.To4(),
		Protocol: layers.IPProtocolUDP, Flags: layers.IPv4DontFragment,
	}
	udp := &layers.UDP{SrcPort: frame.ClientPort, DstPort: frame.ServerPort}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(wire)))
	return buf.Bytes()
}

func newTestWorker(t *testing.T, conn *fakeConn) *Worker {
	t.Helper()

	lower, err := addr.ParseV4("192.168.0.10")
	require.NoError(t, err)
	upper, err := addr.ParseV4("192.168.0.20")
	require.NoError(t, err)

	p, err := pool.New(lower, upper)
	require.NoError(t, err)
	alloc := allocator.New(p, allocator.Hooks{}, clock.NewFixed(time.Unix(0, 0)))
	unit := allocunit.New(alloc, allocunit.All{}, nil)

	iface := &net.Interface{Name: "eth0", HardwareAddr: mustMAC(t, "02:00:00:00:00:01")}

	return &Worker{
		Name:     "eth0",
		iface:    iface,
		rx:       conn,
		tx:       conn,
		units:    []*allocunit.Unit{unit},
		myIPs:    []net.IP{net.IPv4(192, 168, 0, 1)},
		cacheDir: filepath.Join(t.TempDir(), "eth0"),
		log:      testLogger(),
	}
}

func TestRunHandlesADiscoverAndPersists(t *testing.T) {
	chaddr := mustMAC(t, "aa:bb:cc:dd:ee:ff")
	conn := newFakeConn(discoverFrame(t, chaddr, 0x42))

	w := newTestWorker(t, conn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		conn.mu.Lock()
		n := len(conn.sent)
		conn.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a reply to be written")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	require.NoError(t, <-done)

	conn.mu.Lock()
	reply := conn.sent[0]
	conn.mu.Unlock()

	replyPkt := gopacket.NewPacket(reply, layers.LayerTypeEthernet, gopacket.NoCopy)
	udp, ok := replyPkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	require.True(t, ok)
	assert.EqualValues(t, frame.ServerPort, udp.SrcPort)
	assert.EqualValues(t, frame.ClientPort, udp.DstPort)

	pkt, err := dhcp4.Deserialize(udp.Payload)
	require.NoError(t, err)
	assert.Equal(t, dhcp4.Offer, pkt.Type)

	_, err = os.Stat(filepath.Join(w.cacheDir, w.units[0].Name(), "allocations.json"))
	assert.NoError(t, err)
}

func TestRunDropsUndecodableFrames(t *testing.T) {
	conn := newFakeConn([]byte{0x00, 0x01, 0x02})
	w := newTestWorker(t, conn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Empty(t, conn.sent)
}
