// Package ping implements Pinger, a driver that uses the probe manager to
// emit a bounded or unbounded sequence of ICMP echoes at a fixed cadence.
package ping

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pathsonar/pathsonar/internal/probe"
)

// Infinite is the maxPingCount sentinel meaning "run until cancelled".
const Infinite = -1

// Pinger drives a probe.Manager to emit ICMP echoes, per spec.md §4.4.
// Grounded on internal/trace/continuous.go's interval/cycle loop, adapted
// from "wrap a full trace per cycle" to "submit one probe per tick".
type Pinger struct {
	Host         string
	TTL          int
	Timeout      time.Duration
	MaxPingCount int
	Interval     time.Duration
	ProbeSize    int
	Pattern      []byte
	SourceIP     string
	Logger       *slog.Logger

	active atomic.Bool
}

// DefaultPinger returns a Pinger configured with spec.md §6's defaults.
func DefaultPinger(host string) *Pinger {
	return &Pinger{
		Host:         host,
		TTL:          -1,
		Timeout:      5 * time.Second,
		MaxPingCount: 4,
		Interval:     time.Second,
		ProbeSize:    32,
	}
}

// Ping runs the driver loop, invoking cb once per probe outcome. Only one
// Ping call may be active on a given Pinger at a time.
func (p *Pinger) Ping(ctx context.Context, cb func(probe.Result)) error {
	if !p.active.CompareAndSwap(false, true) {
		return fmt.Errorf("ping: a session is already active on this Pinger")
	}
	defer p.active.Store(false)

	oneShot := make(chan probe.Result, 1)
	mgr := probe.New(p.Host, p.SourceIP, func(r probe.Result) {
		oneShot <- r
	}, p.Logger)

	if err := mgr.Start(); err != nil {
		return fmt.Errorf("ping: manager failed to start: %w", err)
	}
	defer mgr.Stop()

	for count := 1; p.MaxPingCount == Infinite || count <= p.MaxPingCount; count++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		mgr.Send(probe.Request{
			Kind:     probe.KindICMP,
			Sequence: uint16(count),
			TTL:      p.TTL,
			Timeout:  p.Timeout,
			Size:     p.ProbeSize,
			Pattern:  p.Pattern,
		})

		select {
		case r := <-oneShot:
			cb(r)
		case <-ctx.Done():
			return ctx.Err()
		}

		if p.MaxPingCount != Infinite && count == p.MaxPingCount {
			break
		}

		select {
		case <-time.After(p.Interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return mgr.DrainContext(ctx)
}
