package lease

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/haldane-systems/dhcpauthd/internal/addr"
)

// timestamp is the [secs, nsecs] wire encoding spec.md §6.3 mandates for
// LastSeen/LeaseStart, matching the original Rust implementation's
// time::Timespec-derived serialization.
type timestamp struct {
	secs  int64
	nsecs int32
}

func fromTime(t time.Time) timestamp {
	return timestamp{secs: t.Unix(), nsecs: int32(t.Nanosecond())}
}

func (t timestamp) toTime() time.Time {
	return time.Unix(t.secs, int64(t.nsecs)).UTC()
}

func (t timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int64{t.secs, int64(t.nsecs)})
}

func (t *timestamp) UnmarshalJSON(b []byte) error {
	var pair [2]int64
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("lease: decoding timestamp: %w", err)
	}
	t.secs = pair[0]
	t.nsecs = int32(pair[1])
	return nil
}

// clientJSON is the §6.3 wire shape for Client.
type clientJSON struct {
	HWAddr           [6]byte `json:"hw_addr"`
	ClientIdentifier []byte  `json:"client_identifier"`
	Hostname         *string `json:"hostname"`
}

func clientToJSON(c Client) clientJSON {
	var hw [6]byte
	copy(hw[:], c.HWAddr)

	out := clientJSON{HWAddr: hw, ClientIdentifier: c.ClientIdentifier}
	if c.Hostname != "" {
		h := c.Hostname
		out.Hostname = &h
	}
	return out
}

func clientFromJSON(j clientJSON) Client {
	c := Client{
		HWAddr:           net.HardwareAddr(append([]byte(nil), j.HWAddr[:]...)),
		ClientIdentifier: j.ClientIdentifier,
	}
	if j.Hostname != nil {
		c.Hostname = *j.Hostname
	}
	return c
}

// allocationJSON is the §6.3 wire shape for Allocation.
type allocationJSON struct {
	Assigned string     `json:"assigned"`
	Client   clientJSON `json:"client"`
	LastSeen timestamp  `json:"last_seen"`
	Forever  bool       `json:"forever"`
}

// MarshalJSON implements json.Marshaler for Allocation per spec.md §6.3.
func (a Allocation) MarshalJSON() ([]byte, error) {
	return json.Marshal(allocationJSON{
		Assigned: a.Assigned.String(),
		Client:   clientToJSON(a.Client),
		LastSeen: fromTime(a.LastSeen),
		Forever:  a.Forever,
	})
}

// UnmarshalJSON implements json.Unmarshaler for Allocation.
func (a *Allocation) UnmarshalJSON(b []byte) error {
	var j allocationJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return fmt.Errorf("lease: decoding allocation: %w", err)
	}

	assigned, err := addr.ParseV4(j.Assigned)
	if err != nil {
		return fmt.Errorf("lease: decoding allocation: %w", err)
	}

	a.Assigned = assigned
	a.Client = clientFromJSON(j.Client)
	a.LastSeen = j.LastSeen.toTime()
	a.Forever = j.Forever
	return nil
}

// leaseJSON is the §6.3 wire shape for Lease.
type leaseJSON struct {
	Assigned      string     `json:"assigned"`
	Client        clientJSON `json:"client"`
	LeaseStart    timestamp  `json:"lease_start"`
	LeaseDuration uint32     `json:"lease_duration"`
}

// MarshalJSON implements json.Marshaler for Lease per spec.md §6.3.
func (l Lease) MarshalJSON() ([]byte, error) {
	return json.Marshal(leaseJSON{
		Assigned:      l.Assigned.String(),
		Client:        clientToJSON(l.Client),
		LeaseStart:    fromTime(l.LeaseStart),
		LeaseDuration: uint32(l.LeaseDuration / time.Second),
	})
}

// UnmarshalJSON implements json.Unmarshaler for Lease.
func (l *Lease) UnmarshalJSON(b []byte) error {
	var j leaseJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return fmt.Errorf("lease: decoding lease: %w", err)
	}

	assigned, err := addr.ParseV4(j.Assigned)
	if err != nil {
		return fmt.Errorf("lease: decoding lease: %w", err)
	}

	l.Assigned = assigned
	l.Client = clientFromJSON(j.Client)
	l.LeaseStart = j.LeaseStart.toTime()
	l.LeaseDuration = time.Duration(j.LeaseDuration) * time.Second
	return nil
}

// DecodeHWAddr copies a raw chaddr byte slice into a new net.HardwareAddr.
func DecodeHWAddr(b []byte) net.HardwareAddr {
	return net.HardwareAddr(append([]byte(nil), b...))
}

// HWAddrHex renders mac in the lowercase colon-separated form the hook
// contract (spec.md §6.4) requires. net.HardwareAddr already formats this
// way; internal/hooks calls mac.String() directly rather than this helper.
func HWAddrHex(mac net.HardwareAddr) string {
	return mac.String()
}
