//go:build linux

package probe

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/pathsonar/pathsonar/internal/wire"
)

// Send is the send path of spec.md §4.1. Callable from any goroutine.
func (m *Manager) Send(req Request) {
	if !m.remoteValid {
		m.deliverSync(req, Result{
			Kind:    ResultUnknown,
			ID:      req.ID,
			Message: "probe manager: remote address did not parse",
		})
		return
	}

	overhead := wire.IPHeaderSize(m.remoteFam)
	if req.Kind == KindUDP {
		overhead += 8
	}

	p := &probeCtx{
		req:      req,
		family:   m.remoteFam,
		remote:   m.remoteText,
		overhead: overhead,
		status:   StatusWaiting,
	}

	domain := unix.AF_INET
	proto := unix.IPPROTO_ICMP
	if m.remoteFam == wire.FamilyV6 {
		domain = unix.AF_INET6
		proto = unix.IPPROTO_ICMPV6
	}
	if req.Kind == KindUDP {
		proto = unix.IPPROTO_UDP
	}

	fd, err := unix.Socket(domain, unix.SOCK_DGRAM, proto)
	if err != nil {
		m.deliverSync(req, Result{Kind: ResultUnknown, ID: req.ID, Message: fmt.Sprintf("socket: %v", err)})
		return
	}

	if m.sourceIP != nil {
		if err := bindSource(fd, m.remoteFam, m.sourceIP); err != nil {
			unix.Close(fd)
			m.deliverSync(req, Result{Kind: ResultUnknown, ID: req.ID, Message: fmt.Sprintf("bind: %v", err)})
			return
		}
	}

	if err := configureSocket(fd, m.remoteFam, req); err != nil {
		unix.Close(fd)
		m.deliverSync(req, Result{Kind: ResultUnknown, ID: req.ID, Message: fmt.Sprintf("setsockopt: %v", err)})
		return
	}

	var packet []byte
	if req.Kind == KindICMP {
		packet, p.req.Size = wire.BuildEchoRequest(m.remoteFam, m.ident, req.Sequence, req.Size, req.Pattern)
	} else {
		packet = wire.BuildUDPPayload(req.Size, req.Pattern)
		p.req.Size = len(packet)
	}
	p.packet = packet
	p.replyBuf = make([]byte, max(p.req.Size+overhead+128, 1500))

	p.sentAt = time.Now()
	sa, err := destSockaddr(m.remoteFam, m.remoteIP, req.Port)
	if err != nil {
		unix.Close(fd)
		m.deliverSync(req, Result{Kind: ResultUnknown, ID: req.ID, Message: err.Error()})
		return
	}
	if err := unix.Sendto(fd, packet, 0, sa); err != nil {
		if err == unix.EMSGSIZE {
			// Expected under PMTU probing; the kernel will deliver an
			// error-queue entry instead. Fall through to registration.
		} else {
			unix.Close(fd)
			m.deliverSync(req, Result{Kind: ResultUnknown, ID: req.ID, Message: fmt.Sprintf("sendto: %v", err)})
			return
		}
	}

	p.fd = fd
	m.mu.Lock()
	m.probes[fd] = p
	m.mu.Unlock()

	_ = unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLERR,
		Fd:     int32(fd),
	})
	m.postWake()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// deliverSync invokes the callback inline for a synchronous fatal-send
// error, per spec.md §4.1 step 2/3 ("emit FatalError synchronously").
func (m *Manager) deliverSync(req Request, result Result) {
	result.Sequence = req.Sequence
	if m.callback != nil {
		m.callback(result)
	}
}

// Linux socket-option values not always exposed by name in
// golang.org/x/sys/unix across module versions; hand-rolled the way the
// teacher's internal/trace/mtu_linux.go hard-codes IP_MTU_DISCOVER/
// IP_PMTUDISC_DO rather than trusting a named export.
const (
	ipMTUDiscover   = 10 // IP_MTU_DISCOVER
	ipPMTUDiscProbe = 3  // IP_PMTUDISC_PROBE
	ipv6MTUDiscover = 23 // IPV6_MTU_DISCOVER
	ipTOSLowDelay   = 0x10
)

func configureSocket(fd int, fam wire.Family, req Request) error {
	if req.TTL > 0 {
		opt := unix.IP_TTL
		level := unix.IPPROTO_IP
		if fam == wire.FamilyV6 {
			opt = unix.IPV6_UNICAST_HOPS
			level = unix.IPPROTO_IPV6
		}
		if err := unix.SetsockoptInt(fd, level, opt, req.TTL); err != nil {
			return err
		}
	}

	if req.Timeout > 0 {
		tv := unix.NsecToTimeval(req.Timeout.Nanoseconds())
		_ = unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
	}
	sndTv := unix.NsecToTimeval(time.Second.Nanoseconds())
	_ = unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &sndTv)

	if fam == wire.FamilyV6 {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_RECVERR, 1)
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_RECVHOPLIMIT, 1)
	} else {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_RECVERR, 1)
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_RECVTTL, 1)
	}

	if req.MTUDiscovery {
		if fam == wire.FamilyV6 {
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, ipv6MTUDiscover, ipPMTUDiscProbe)
		} else {
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_IP, ipMTUDiscover, ipPMTUDiscProbe)
		}
	}

	if fam == wire.FamilyV6 {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, ipTOSLowDelay)
	} else {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, ipTOSLowDelay)
	}

	return unix.SetNonblock(fd, true)
}

func bindSource(fd int, fam wire.Family, source net.IP) error {
	sa, err := sockaddrFor(fam, source, 0)
	if err != nil {
		return err
	}
	return unix.Bind(fd, sa)
}
