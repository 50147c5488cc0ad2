// Package wire implements the address-family detection, ICMP echo header
// assembly, and payload tiling used by the probe manager. Every function
// here is pure: no sockets, no syscalls.
package wire

import (
	"fmt"
	"net"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Family identifies an IP address family.
type Family int

const (
	// FamilyV4 is IPv4.
	FamilyV4 Family = iota
	// FamilyV6 is IPv6.
	FamilyV6
)

// String implements fmt.Stringer.
func (f Family) String() string {
	if f == FamilyV6 {
		return "ipv6"
	}
	return "ipv4"
}

// ParseAddress attempts a v4 parse first, then v6, matching spec.md's
// "attempted v4 then v6 textual parsing" family-detection rule.
func ParseAddress(s string) (net.IP, Family, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, 0, fmt.Errorf("wire: %q is not a valid IP address", s)
	}
	if v4 := ip.To4(); v4 != nil {
		return v4, FamilyV4, nil
	}
	return ip, FamilyV6, nil
}

// FormatAddress renders ip in its canonical textual form.
func FormatAddress(ip net.IP) string {
	return ip.String()
}

// IPHeaderSize returns the IP header size in bytes for the given family: 20
// for IPv4, 40 for IPv6.
func IPHeaderSize(f Family) int {
	if f == FamilyV6 {
		return 40
	}
	return 20
}

// ICMPNetwork returns the network string for icmp.ListenPacket under an
// unprivileged datagram socket ("udp4"/"udp6" rather than "ip4"/"ip6", which
// would require CAP_NET_RAW).
func ICMPNetwork(f Family) string {
	if f == FamilyV6 {
		return "udp6"
	}
	return "udp4"
}

// EchoHeaderSize is the fixed ICMP echo header size: 1 byte type, 1 byte
// code, 2 bytes checksum, 2 bytes identifier, 2 bytes sequence.
const EchoHeaderSize = 8

// echoType returns the ICMP echo-request type for the family: 8 for IPv4,
// 128 for IPv6 (spec.md §6).
func echoType(f Family) icmp.Type {
	if f == FamilyV6 {
		return ipv6.ICMPTypeEchoRequest
	}
	return ipv4.ICMPTypeEcho
}

// TilePayload fills buf by repeating pattern; an empty pattern zero-fills.
// Matches spec.md §4.2's "chunks the pattern into pattern_len-sized writes
// until the buffer is full".
func TilePayload(buf []byte, pattern []byte) {
	if len(pattern) == 0 {
		for i := range buf {
			buf[i] = 0
		}
		return
	}
	for i := range buf {
		buf[i] = pattern[i%len(pattern)]
	}
}

// BuildEchoRequest assembles an ICMP echo-request packet for family f,
// carrying identifier and sequence (both truncated to 16 bits) and a total
// length of size bytes. When size is smaller than EchoHeaderSize the payload
// is expanded up to the header size; the actually-produced length is
// returned alongside the bytes since it may not equal the caller's request.
func BuildEchoRequest(f Family, identifier, sequence uint16, size int, pattern []byte) ([]byte, int) {
	actual := size
	if actual < EchoHeaderSize {
		actual = EchoHeaderSize
	}
	data := make([]byte, actual-EchoHeaderSize)
	TilePayload(data, pattern)

	msg := icmp.Message{
		Type: echoType(f),
		Code: 0,
		Body: &icmp.Echo{
			ID:   int(identifier),
			Seq:  int(sequence),
			Data: data,
		},
	}
	// psh=nil: the unprivileged udp4/udp6 ICMP socket leaves checksum
	// computation to the kernel, which both families support for DGRAM
	// ICMP sockets.
	b, err := msg.Marshal(nil)
	if err != nil {
		// Only Marshal-able bodies reach here; a failure means a
		// programming error in this package, not caller input.
		panic(fmt.Sprintf("wire: failed to marshal echo request: %v", err))
	}
	return b, actual
}

// BuildUDPPayload returns a pattern-tiled payload of exactly size bytes,
// with no ICMP header reserved (spec.md §4.1 step 5, UDP branch).
func BuildUDPPayload(size int, pattern []byte) []byte {
	if size < 0 {
		size = 0
	}
	buf := make([]byte, size)
	TilePayload(buf, pattern)
	return buf
}
