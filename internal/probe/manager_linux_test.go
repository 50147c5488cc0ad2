//go:build linux

package probe

import (
	"sync"
	"testing"
	"time"
)

func TestNewInertOnUnparsableRemote(t *testing.T) {
	var mu sync.Mutex
	var got []Result
	m := New("not-an-ip", "", func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, r)
	}, nil)

	m.Send(Request{Sequence: 1})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	if got[0].Kind != ResultUnknown {
		t.Fatalf("kind = %v, want Unknown", got[0].Kind)
	}
}

func TestLoopbackICMPPing(t *testing.T) {
	var mu sync.Mutex
	results := make(chan Result, 8)

	m := New("127.0.0.1", "", func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		results <- r
	}, nil)

	if err := m.Start(); err != nil {
		t.Skipf("probe manager failed to start (environment likely lacks unprivileged ICMP): %v", err)
	}
	defer m.Stop()

	m.Send(Request{
		Kind:     KindICMP,
		Sequence: 1,
		Timeout:  2 * time.Second,
		Size:     32,
	})

	select {
	case r := <-results:
		if r.Kind != ResultSuccess && r.Kind != ResultTimeout {
			t.Fatalf("unexpected kind %v (message=%q)", r.Kind, r.Message)
		}
		if r.Kind == ResultSuccess && r.ElapsedUsec < 0 {
			t.Fatalf("elapsed = %d, want >= 0", r.ElapsedUsec)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func TestStopDrainsWaitingProbesAsTimeout(t *testing.T) {
	resultCh := make(chan Result, 1)
	m := New("127.0.0.1", "", func(r Result) { resultCh <- r }, nil)

	if err := m.Start(); err != nil {
		t.Skipf("probe manager failed to start: %v", err)
	}

	m.Send(Request{Kind: KindICMP, Sequence: 1, Timeout: 30 * time.Second, Size: 32})
	m.Stop()

	select {
	case r := <-resultCh:
		if r.Kind != ResultTimeout && r.Kind != ResultSuccess {
			t.Fatalf("kind = %v, want Timeout (or a fast Success)", r.Kind)
		}
	default:
		t.Fatal("expected a callback to have been delivered by Stop()")
	}
}
