//go:build linux

package probe

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/pathsonar/pathsonar/internal/wire"
)

// maxEvents bounds one epoll_wait call, per spec.md §4.1 step 2.
const maxEvents = 32

// startTimeout bounds how long Start waits for the worker to report
// readiness, per spec.md §4.1's "Lifecycle" (10s).
const startTimeout = 10 * time.Second

// probeCtx is one in-flight probe, owned exclusively by the manager between
// Send and reap. Fields mirror spec.md §3's ProbeContext.
type probeCtx struct {
	req Request

	fd       int
	family   wire.Family
	packet   []byte
	replyBuf []byte

	sentAt     time.Time
	receivedAt time.Time
	remote     string
	overhead   int

	replyTTL int
	offender string

	errNo, errCode, errType, errInfo int

	status  Status
	message string
}

// Manager is a per-session probe scheduler: one background worker owns an
// epoll set and many datagram sockets, each representing one outstanding
// probe. Send is safe to call from any goroutine.
type Manager struct {
	remoteIP    net.IP
	remoteFam   wire.Family
	remoteValid bool
	remoteText  string

	sourceIP   net.IP
	sourceText string

	ident uint16

	callback Callback
	log      *slog.Logger

	mu     sync.Mutex
	probes map[int]*probeCtx

	epfd   int
	wakeFD int

	running bool
	readyCh chan error
	doneCh  chan struct{}
}

// New constructs a Manager. Parse failure on remote leaves the manager
// inert (spec.md §4.1, error kind 1): every Send returns a synchronous
// Unknown result. Parse failure on source is non-fatal: it's logged and
// dropped, letting the OS choose the source address (error kind 2).
func New(remote, source string, cb Callback, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.New(slog.NewTextHandler(discardWriter{}, nil))
	}
	m := &Manager{
		callback: cb,
		log:      log,
		probes:   make(map[int]*probeCtx),
		ident:    uint16(rand.Intn(1 << 16)),
	}
	if ip, fam, err := wire.ParseAddress(remote); err == nil {
		m.remoteIP, m.remoteFam, m.remoteValid = ip, fam, true
		m.remoteText = remote
	} else {
		m.log.Warn("probe manager: remote address did not parse; manager is inert", "remote", remote, "error", err)
	}
	if source != "" {
		if ip, _, err := wire.ParseAddress(source); err == nil {
			m.sourceIP = ip
			m.sourceText = source
		} else {
			m.log.Warn("probe manager: source address did not parse, dropping", "source", source, "error", err)
		}
	}
	return m
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// Start spawns the worker and waits up to 10s for it to report readiness.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	if m.doneCh != nil {
		m.mu.Unlock()
		return fmt.Errorf("probe manager: already stopped")
	}
	m.running = true
	m.readyCh = make(chan error, 1)
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.run()

	select {
	case err := <-m.readyCh:
		return err
	case <-time.After(startTimeout):
		return fmt.Errorf("probe manager: worker did not become ready within %s", startTimeout)
	}
}

// Stop clears the running flag, wakes the worker, and joins it. After Stop
// the manager is terminal.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	m.postWake()
	<-m.doneCh
}

// Pending returns the number of in-flight probes.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.probes)
}

// DrainContext blocks until Pending() reaches zero or ctx is done, matching
// the Pinger/Tracer "wait for the manager to drain" suspension point
// (spec.md §5).
func (m *Manager) DrainContext(ctx context.Context) error {
	const pollInterval = 20 * time.Millisecond
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		if m.Pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (m *Manager) postWake() {
	if m.wakeFD == 0 {
		return
	}
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	_, _ = unix.Write(m.wakeFD, one[:])
}

// run is the worker goroutine: the entire event loop of spec.md §4.1.
func (m *Manager) run() {
	defer close(m.doneCh)

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		m.readyCh <- fmt.Errorf("epoll_create1: %w", err)
		return
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		m.readyCh <- fmt.Errorf("eventfd: %w", err)
		return
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFD)}); err != nil {
		unix.Close(wakeFD)
		unix.Close(epfd)
		m.readyCh <- fmt.Errorf("epoll_ctl(wake): %w", err)
		return
	}

	m.epfd = epfd
	m.wakeFD = wakeFD
	m.readyCh <- nil

	events := make([]unix.EpollEvent, maxEvents)

	for {
		m.mu.Lock()
		running := m.running
		m.mu.Unlock()
		if !running {
			break
		}

		waitMs := m.nextWakeMs()
		n, err := unix.EpollWait(epfd, events, waitMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			m.log.Error("probe manager: epoll_wait failed", "error", err)
			continue
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == wakeFD {
				var buf [8]byte
				_, _ = unix.Read(wakeFD, buf[:])
				continue
			}
			m.handleReadable(fd)
		}

		m.sweepTimeouts()
		m.drainAndReap()
	}

	// Shutdown: force every still-waiting probe to Timeout, then reap.
	m.mu.Lock()
	for _, p := range m.probes {
		if p.status == StatusWaiting {
			p.status = StatusTimeout
			p.receivedAt = time.Now()
		}
	}
	m.mu.Unlock()
	m.drainAndReap()

	unix.Close(wakeFD)
	unix.Close(epfd)
}

// nextWakeMs computes the epoll_wait timeout: the minimum remaining time
// across waiting probes, clamped at 0, or -1 ("block indefinitely") when
// nothing is in flight.
func (m *Manager) nextWakeMs() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.probes) == 0 {
		return -1
	}
	now := time.Now()
	min := time.Duration(-1)
	for _, p := range m.probes {
		if p.status != StatusWaiting {
			continue
		}
		if p.req.Timeout <= 0 {
			return 0
		}
		remaining := p.req.Timeout - now.Sub(p.sentAt)
		if remaining < 0 {
			remaining = 0
		}
		if min < 0 || remaining < min {
			min = remaining
		}
	}
	if min < 0 {
		return -1
	}
	return int(min.Milliseconds())
}

func (m *Manager) sweepTimeouts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, p := range m.probes {
		if p.status != StatusWaiting {
			continue
		}
		if now.Sub(p.sentAt) >= p.req.Timeout {
			p.status = StatusTimeout
			p.receivedAt = now
		}
	}
}

// drainAndReap removes every non-waiting probe from the map under the lock,
// then, with the lock released (per DESIGN.md's open-question decision),
// invokes the callback for each and unregisters and closes its socket.
func (m *Manager) drainAndReap() {
	m.mu.Lock()
	var due []*probeCtx
	for fd, p := range m.probes {
		if p.status != StatusWaiting {
			due = append(due, p)
			delete(m.probes, fd)
		}
	}
	m.mu.Unlock()

	for _, p := range due {
		result := classify(p)
		if m.callback != nil {
			m.callback(result)
		}
		unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, p.fd, nil)
		unix.Close(p.fd)
	}
}
