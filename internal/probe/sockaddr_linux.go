//go:build linux

package probe

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/pathsonar/pathsonar/internal/wire"
)

// sockaddrFor builds a syscall.Sockaddr-equivalent unix.Sockaddr for the
// given family/IP/port, used for both bind (port 0) and sendto.
func sockaddrFor(fam wire.Family, ip net.IP, port int) (unix.Sockaddr, error) {
	if fam == wire.FamilyV6 {
		var addr [16]byte
		v6 := ip.To16()
		if v6 == nil {
			return nil, fmt.Errorf("probe: %v is not a valid IPv6 address", ip)
		}
		copy(addr[:], v6)
		return &unix.SockaddrInet6{Port: port, Addr: addr}, nil
	}
	var addr [4]byte
	v4 := ip.To4()
	if v4 == nil {
		return nil, fmt.Errorf("probe: %v is not a valid IPv4 address", ip)
	}
	copy(addr[:], v4)
	return &unix.SockaddrInet4{Port: port, Addr: addr}, nil
}

// destSockaddr builds the destination sockaddr for sendto. port is applied
// only when positive (UDP); ICMP probes address port 0.
func destSockaddr(fam wire.Family, ip net.IP, port int) (unix.Sockaddr, error) {
	if port < 0 {
		port = 0
	}
	return sockaddrFor(fam, ip, port)
}
