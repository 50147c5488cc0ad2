//go:build linux

package traceroute

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pathsonar/pathsonar/internal/probe"
)

func TestSteppedTracerouteLoopbackCutoff(t *testing.T) {
	cfg := DefaultConfig("127.0.0.1")
	cfg.Stepped = &Stepped{ProbesPerHop: 3, Concurrency: 5, MaxHops: 30}
	cfg.Timeout = 500 * time.Millisecond

	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var mu sync.Mutex
	var hops []int
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = tr.Trace(ctx, func(hop int, r probe.Result) {
		mu.Lock()
		defer mu.Unlock()
		hops = append(hops, hop)
	})
	if err != nil {
		t.Skipf("trace failed in this environment: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(hops) == 0 {
		t.Skip("no callbacks observed; environment likely blocks unprivileged ICMP")
	}
	for _, h := range hops {
		if h > 1 {
			t.Fatalf("callback reported hop %d, loopback trace should never exceed hop 1", h)
		}
	}
	if len(hops) > 3 {
		t.Fatalf("got %d callbacks, want at most 3 (probesPerHop)", len(hops))
	}
}
