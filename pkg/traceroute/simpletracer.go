package traceroute

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/pathsonar/pathsonar/internal/probe"
)

// SimpleConfig configures SimpleTracer, per spec.md §6.
type SimpleConfig struct {
	Host         string
	Kind         probe.Kind
	Timeout      time.Duration
	MaxHops      int
	ProbesPerHop int
	Concurrency  int
	Port         probe.PortStrategy
	ProbeSize    ProbeSize
	SourceIP     string
	Logger       *slog.Logger
}

// DefaultSimpleConfig returns spec.md §6's SimpleTracer defaults.
func DefaultSimpleConfig(host string) SimpleConfig {
	return SimpleConfig{
		Host:         host,
		Kind:         probe.KindICMP,
		Timeout:      5 * time.Second,
		MaxHops:      30,
		ProbesPerHop: 3,
		Concurrency:  5,
		Port:         probe.SequentialPort{Start: 33434, Step: 1},
		ProbeSize:    ProbeSize{Mode: SizeMTUDiscovery},
	}
}

// SimpleTracer wraps a Stepped Tracer and aggregates per-hop outcomes into
// HopStatus records, delivered to the caller in strict order. Grounded on
// pkg/hop's Hop/TraceResult aggregate, restructured to spec.md §3's
// IP-set + tagged-Response-list shape.
type SimpleTracer struct {
	tracer *Tracer

	// mu is the "single-permit mutex" of spec.md §4.6: it serializes both
	// state mutation and the resulting callback invocation so user
	// callbacks observe a strict total order.
	mu     sync.Mutex
	hops   map[int]*HopStatus
	cutoff int
}

// NewSimpleTracer constructs a SimpleTracer from cfg.
func NewSimpleTracer(cfg SimpleConfig) (*SimpleTracer, error) {
	tcfg := Config{
		Host:     cfg.Host,
		Kind:     cfg.Kind,
		SourceIP: cfg.SourceIP,
		Stepped: &Stepped{
			ProbesPerHop: cfg.ProbesPerHop,
			Concurrency:  cfg.Concurrency,
			MaxHops:      cfg.MaxHops,
		},
		Port:      cfg.Port,
		ProbeSize: cfg.ProbeSize,
		Timeout:   cfg.Timeout,
		Logger:    cfg.Logger,
	}
	tr, err := New(tcfg)
	if err != nil {
		return nil, fmt.Errorf("traceroute: %w", err)
	}
	return &SimpleTracer{
		tracer: tr,
		hops:   make(map[int]*HopStatus),
		cutoff: math.MaxInt32,
	}, nil
}

// Trace runs one session, delivering a HopStatus snapshot to cb after every
// in-window probe outcome.
func (s *SimpleTracer) Trace(ctx context.Context, cb func(HopStatus)) error {
	return s.tracer.Trace(ctx, s.onHopResult(cb))
}

func (s *SimpleTracer) onHopResult(cb func(HopStatus)) HopCallback {
	return func(hop int, r probe.Result) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if hop > s.cutoff {
			return
		}

		terminal := false
		switch r.Kind {
		case probe.ResultSuccess:
			terminal = true
		case probe.ResultConnectionRefused, probe.ResultHostUnreachable:
			terminal = r.Offender == r.Remote
		}
		if terminal && hop < s.cutoff {
			s.cutoff = hop
			for h := range s.hops {
				if h > s.cutoff {
					delete(s.hops, h)
				}
			}
		}

		hs, ok := s.hops[hop]
		if !ok {
			hs = &HopStatus{Num: hop, IPs: make(map[string]struct{})}
			s.hops[hop] = hs
		}

		mtuDiscovery := s.tracer.cfg.ProbeSize.Mode == SizeMTUDiscovery

		switch r.Kind {
		case probe.ResultSuccess:
			mtu := 0
			if mtuDiscovery {
				mtu = r.ProbeSize + r.Overhead
			}
			hs.Responses = append(hs.Responses, Response{Kind: ResponseSuccess, ElapsedUsec: r.ElapsedUsec, MTU: mtu})
			hs.IPs[r.Remote] = struct{}{}

		case probe.ResultConnectionRefused, probe.ResultHostUnreachable, probe.ResultNetUnreachable:
			mtu := 0
			if mtuDiscovery {
				mtu = r.ProbeSize + r.Overhead
			}
			hs.Responses = append(hs.Responses, Response{Kind: ResponseSuccess, ElapsedUsec: r.ElapsedUsec, MTU: mtu})
			if r.Offender != "" {
				hs.IPs[r.Offender] = struct{}{}
			}

		default: // Unknown, Timeout, generic NetError
			hs.Responses = append(hs.Responses, Response{Kind: ResponseError})
			if r.Offender != "" {
				hs.IPs[r.Offender] = struct{}{}
			}
		}

		hs.IsLast = hop == s.cutoff

		snapshot := hs.clone()
		cb(snapshot)
	}
}
