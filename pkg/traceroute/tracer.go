// Package traceroute implements Tracer (TTL-limited hop enumeration under a
// Stepped or Concurrent scheduling strategy, with path-MTU discovery) and
// SimpleTracer (per-hop outcome aggregation on top of it).
package traceroute

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pathsonar/pathsonar/internal/probe"
	"github.com/pathsonar/pathsonar/internal/wire"
)

// CyclesInfinite is the Concurrent-strategy cycles sentinel for "run until
// cancelled".
const CyclesInfinite = -1

// emsgsize is Linux's EMSGSIZE errno value, matching the int stored in
// probe.Result.ErrNo (the errno field of the kernel's sock_extended_err, as
// decoded by internal/probe). Kept as a
// local constant so this package stays free of a golang.org/x/sys/unix
// import of its own.
const emsgsize = 90

// SizeMode selects how Tracer computes the probe payload size.
type SizeMode int

const (
	// SizeStatic uses a fixed size for every probe.
	SizeStatic SizeMode = iota
	// SizeMTUDiscovery starts near the link-MTU ceiling and shrinks on
	// EMSGSIZE, per spec.md §4.5.
	SizeMTUDiscovery
)

// ProbeSize configures Tracer's payload-size policy.
type ProbeSize struct {
	Mode SizeMode
	// Size is used only when Mode == SizeStatic.
	Size int
}

// Stepped bounds concurrency while enumerating hops one counter tick at a
// time; see spec.md §4.5.
type Stepped struct {
	ProbesPerHop int
	Concurrency  int
	MaxHops      int
}

// Concurrent emits one probe per hop simultaneously, once per cycle; see
// spec.md §4.5.
type Concurrent struct {
	Cycles   int
	Interval time.Duration
	MaxHops  int
}

// Config is Tracer's configuration, per spec.md §6.
type Config struct {
	Host     string
	Kind     probe.Kind
	SourceIP string

	Stepped    *Stepped
	Concurrent *Concurrent

	Port      probe.PortStrategy
	ProbeSize ProbeSize
	Timeout   time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns spec.md §6's Tracer defaults (Stepped/Fixed/Static).
func DefaultConfig(host string) Config {
	return Config{
		Host:      host,
		Kind:      probe.KindICMP,
		Stepped:   &Stepped{ProbesPerHop: 3, Concurrency: 5, MaxHops: 30},
		Port:      probe.FixedPort{Port: 33434},
		ProbeSize: ProbeSize{Mode: SizeStatic, Size: 32},
		Timeout:   5 * time.Second,
	}
}

// Validate checks that exactly one strategy is configured.
func (c Config) Validate() error {
	if c.Stepped == nil && c.Concurrent == nil {
		return fmt.Errorf("traceroute: exactly one of Stepped/Concurrent must be set")
	}
	if c.Stepped != nil && c.Concurrent != nil {
		return fmt.Errorf("traceroute: Stepped and Concurrent are mutually exclusive")
	}
	return nil
}

// HopCallback receives one outcome per probe, tagged with its hop number.
type HopCallback func(hop int, result probe.Result)

// inflight tracks the metadata needed to reissue a probe under MTU
// discovery: the hop/sequence/port it was sent with.
type inflight struct {
	hop      int
	sequence uint16
	port     int
}

// Tracer drives TTL-limited probes to enumerate path hops. Grounded on
// internal/trace/udp.go's per-hop loop and internal/trace/continuous.go's
// cadence handling, generalized to spec.md §4.5's Stepped/Concurrent split.
type Tracer struct {
	cfg Config

	mgr      *probe.Manager
	overhead int

	cutoff atomic.Int64 // smallest hop confirmed terminal; starts at MaxInt64
	size   atomic.Int64
	active atomic.Bool

	nextID atomic.Uint64

	mu       sync.Mutex
	inflight map[uint64]inflight
}

// New constructs a Tracer from cfg.
func New(cfg Config) (*Tracer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracer{cfg: cfg, inflight: make(map[uint64]inflight)}, nil
}

func maxHops(cfg Config) int {
	if cfg.Stepped != nil {
		return cfg.Stepped.MaxHops
	}
	return cfg.Concurrent.MaxHops
}

// Trace runs one trace session, invoking cb once per delivered probe
// outcome. Only one session may be active on a Tracer at a time.
func (t *Tracer) Trace(ctx context.Context, cb HopCallback) error {
	if !t.active.CompareAndSwap(false, true) {
		return fmt.Errorf("traceroute: a session is already active on this Tracer")
	}
	defer t.active.Store(false)

	_, fam, err := wire.ParseAddress(t.cfg.Host)
	if err != nil {
		return fmt.Errorf("traceroute: %w", err)
	}
	t.overhead = wire.IPHeaderSize(fam)
	if t.cfg.Kind == probe.KindUDP {
		t.overhead += 8
	}

	t.cutoff.Store(math.MaxInt64)
	if t.cfg.ProbeSize.Mode == SizeMTUDiscovery {
		t.size.Store(int64(65535 - t.overhead))
	} else {
		t.size.Store(int64(t.cfg.ProbeSize.Size))
	}

	mgr := probe.New(t.cfg.Host, t.cfg.SourceIP, t.onResult(cb), t.cfg.Logger)
	t.mgr = mgr
	if err := mgr.Start(); err != nil {
		return fmt.Errorf("traceroute: manager failed to start: %w", err)
	}
	defer mgr.Stop()

	if t.cfg.Stepped != nil {
		err = t.runStepped(ctx)
	} else {
		err = t.runConcurrent(ctx)
	}
	if err != nil {
		return err
	}

	return mgr.DrainContext(ctx)
}

// lowerCutoff atomically sets cutoff = min(cutoff, hop).
func (t *Tracer) lowerCutoff(hop int) {
	for {
		cur := t.cutoff.Load()
		if int64(hop) >= cur {
			return
		}
		if t.cutoff.CompareAndSwap(cur, int64(hop)) {
			return
		}
	}
}

// shrinkSize atomically sets size = min(size, newSize).
func (t *Tracer) shrinkSize(newSize int) {
	for {
		cur := t.size.Load()
		if int64(newSize) >= cur {
			return
		}
		if t.size.CompareAndSwap(cur, int64(newSize)) {
			return
		}
	}
}

// submit sends one probe for hop, tracking it under a fresh ID so MTU
// discovery can reissue it later with a shrunk size.
func (t *Tracer) submit(hop int, sequence uint16) {
	port := 0
	if t.cfg.Kind == probe.KindUDP && t.cfg.Port != nil {
		port = t.cfg.Port.Resolve(hop)
	}
	t.send(hop, sequence, port)
}

// send submits one probe with an already-resolved port.
func (t *Tracer) send(hop int, sequence uint16, port int) {
	id := t.nextID.Add(1)

	t.mu.Lock()
	t.inflight[id] = inflight{hop: hop, sequence: sequence, port: port}
	t.mu.Unlock()

	t.mgr.Send(probe.Request{
		Kind:         t.cfg.Kind,
		Port:         port,
		ID:           id,
		Sequence:     sequence,
		TTL:          hop,
		Timeout:      t.cfg.Timeout,
		Size:         int(t.size.Load()),
		MTUDiscovery: t.cfg.ProbeSize.Mode == SizeMTUDiscovery,
	})
}

// onResult is the manager callback: it handles MTU-discovery reissue and
// cutoff bookkeeping before delivering in-window results to the caller.
func (t *Tracer) onResult(cb HopCallback) probe.Callback {
	return func(r probe.Result) {
		t.mu.Lock()
		meta, ok := t.inflight[r.ID]
		if ok {
			delete(t.inflight, r.ID)
		}
		t.mu.Unlock()
		if !ok {
			return
		}

		if r.Kind == probe.ResultNetError && r.ErrNo == emsgsize && t.cfg.ProbeSize.Mode == SizeMTUDiscovery {
			newSize := r.ErrInfo - t.overhead
			if newSize < 0 {
				newSize = 0
			}
			t.shrinkSize(newSize)
			t.send(meta.hop, meta.sequence, meta.port)
			return
		}

		if r.Kind == probe.ResultSuccess || r.Kind == probe.ResultConnectionRefused {
			t.lowerCutoff(meta.hop)
		}
		if r.ProbeSize > 0 && r.ProbeSize < int(t.size.Load()) {
			t.shrinkSize(r.ProbeSize)
		}

		if int64(meta.hop) <= t.cutoff.Load() {
			cb(meta.hop, r)
		}
	}
}
