//go:build linux

package ping

import (
	"context"
	"testing"
	"time"

	"github.com/pathsonar/pathsonar/internal/probe"
)

func TestPingerLoopbackThreeProbes(t *testing.T) {
	p := &Pinger{
		Host:         "127.0.0.1",
		Timeout:      500 * time.Millisecond,
		MaxPingCount: 3,
		Interval:     10 * time.Millisecond,
		ProbeSize:    32,
	}

	var seqs []uint16
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := p.Ping(ctx, func(r probe.Result) {
		seqs = append(seqs, r.Sequence)
		if r.Kind != probe.ResultSuccess && r.Kind != probe.ResultTimeout {
			t.Errorf("unexpected result kind %v", r.Kind)
		}
	})
	if err != nil {
		t.Skipf("ping failed in this environment: %v", err)
	}

	if len(seqs) != 3 {
		t.Fatalf("got %d callbacks, want 3", len(seqs))
	}
	for i, want := range []uint16{1, 2, 3} {
		if seqs[i] != want {
			t.Errorf("seqs[%d] = %d, want %d", i, seqs[i], want)
		}
	}
}

func TestPingerRejectsOverlappingSessions(t *testing.T) {
	p := &Pinger{
		Host:         "127.0.0.1",
		Timeout:      2 * time.Second,
		MaxPingCount: 2,
		Interval:     200 * time.Millisecond,
		ProbeSize:    32,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = p.Ping(ctx, func(probe.Result) {})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := p.Ping(ctx, func(probe.Result) {}); err == nil {
		t.Fatal("expected an error for an overlapping session")
	}

	<-done
}
