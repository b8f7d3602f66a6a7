package frame_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haldane-systems/dhcpauthd/internal/frame"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	srcMAC, err := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	dstMAC, err := net.ParseMAC("11:22:33:44:55:66")
	require.NoError(t, err)

	srcIP := net.IPv4(192, 168, 0, 1)
	dstIP := net.IPv4(192, 168, 0, 50)
	payload := []byte("hello dhcp")

	raw, err := frame.Encode(srcMAC, dstMAC, srcIP, dstIP, payload)
	require.NoError(t, err)

	in, err := frame.Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, srcMAC, in.SrcMAC)
	assert.True(t, srcIP.Equal(in.SrcIP))
	assert.True(t, dstIP.Equal(in.DstIP))
	assert.Equal(t, payload, in.Payload)
}

func TestEncodeLeavesUDPChecksumZero(t *testing.T) {
	srcMAC, err := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)

	raw, err := frame.Encode(srcMAC, frame.BroadcastMAC, net.IPv4(10, 0, 0, 1), net.IPv4bcast, []byte("x"))
	require.NoError(t, err)

	// Ethernet (14) + IPv4 (20, no options) header, then UDP checksum is
	// the last two bytes of the 8-byte UDP header.
	udpStart := 14 + 20
	checksum := raw[udpStart+6 : udpStart+8]
	assert.Equal(t, []byte{0, 0}, checksum)
}

func TestDecodeRejectsNonIPv4EtherType(t *testing.T) {
	raw := make([]byte, 14)
	copy(raw[0:6], frame.BroadcastMAC)
	copy(raw[6:12], []byte{1, 2, 3, 4, 5, 6})
	raw[12] = 0x86
	raw[13] = 0xdd // IPv6

	_, err := frame.Decode(raw)
	assert.Error(t, err)
}

func TestDecodeRejectsWrongUDPPort(t *testing.T) {
	srcMAC, err := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)

	raw, err := frame.Encode(srcMAC, frame.BroadcastMAC, net.IPv4(10, 0, 0, 1), net.IPv4bcast, []byte("x"))
	require.NoError(t, err)

	// Flip the UDP destination port away from ServerPort.
	udpStart := 14 + 20
	raw[udpStart+2] = 0
	raw[udpStart+3] = 53

	_, err = frame.Decode(raw)
	assert.Error(t, err)
}
