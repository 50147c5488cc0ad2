package traceroute

import (
	"context"
	"sync/atomic"
	"time"
)

// queuePollInterval is the back-off sleep used when the manager's in-flight
// queue is full, per spec.md §4.5 ("sleep a short poll interval (~100 ms)
// and retry").
const queuePollInterval = 100 * time.Millisecond

// runStepped implements spec.md §4.5's Stepped strategy: a monotonically
// increasing probe counter derives hop = counter/probesPerHop + 1, bounded
// concurrency, terminating once hop exceeds min(maxHops, cutoff).
func (t *Tracer) runStepped(ctx context.Context) error {
	cfg := t.cfg.Stepped
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var probeCounter atomic.Uint64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		counter := probeCounter.Add(1) - 1
		hop := int(counter)/cfg.ProbesPerHop + 1

		limit := cfg.MaxHops
		if c := int(t.cutoff.Load()); c < limit {
			limit = c
		}
		if hop > limit {
			return nil
		}

		for t.mgr.Pending() > concurrency {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(queuePollInterval):
			}
		}

		t.submit(hop, uint16(counter))
	}
}
