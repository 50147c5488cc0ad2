package traceroute

import (
	"context"
	"time"
)

// runConcurrent implements spec.md §4.5's Concurrent strategy: each cycle
// emits one probe per hop simultaneously, then sleeps interval before the
// next cycle.
func (t *Tracer) runConcurrent(ctx context.Context) error {
	cfg := t.cfg.Concurrent

	for cycle := 0; cfg.Cycles == CyclesInfinite || cycle < cfg.Cycles; cycle++ {
		limit := cfg.MaxHops
		if c := int(t.cutoff.Load()); c < limit {
			limit = c
		}

		for hop := 1; hop <= limit; hop++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			t.submit(hop, uint16(cycle))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Interval):
		}
	}
	return nil
}
