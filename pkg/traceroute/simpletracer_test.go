package traceroute

import (
	"testing"

	"github.com/pathsonar/pathsonar/internal/probe"
)

func newTestSimpleTracer(t *testing.T) *SimpleTracer {
	t.Helper()
	cfg := DefaultSimpleConfig("198.51.100.1")
	cfg.ProbeSize = ProbeSize{Mode: SizeStatic, Size: 32}
	st, err := NewSimpleTracer(cfg)
	if err != nil {
		t.Fatalf("NewSimpleTracer: %v", err)
	}
	return st
}

func TestSimpleTracerAggregatesResponsesPerHop(t *testing.T) {
	st := newTestSimpleTracer(t)

	var got []HopStatus
	handler := st.onHopResult(func(hs HopStatus) { got = append(got, hs) })

	handler(1, probe.Result{Kind: probe.ResultTimeout, Remote: "198.51.100.1"})
	handler(1, probe.Result{Kind: probe.ResultSuccess, Remote: "10.0.0.1", ElapsedUsec: 500})

	if len(got) != 2 {
		t.Fatalf("got %d callbacks, want 2", len(got))
	}
	last := got[len(got)-1]
	if last.Num != 1 {
		t.Fatalf("Num = %d, want 1", last.Num)
	}
	if len(last.Responses) != 2 {
		t.Fatalf("Responses = %d, want 2", len(last.Responses))
	}
	if last.Responses[0].Kind != ResponseError {
		t.Errorf("Responses[0].Kind = %v, want ResponseError", last.Responses[0].Kind)
	}
	if last.Responses[1].Kind != ResponseSuccess {
		t.Errorf("Responses[1].Kind = %v, want ResponseSuccess", last.Responses[1].Kind)
	}
	if _, ok := last.IPs["10.0.0.1"]; !ok {
		t.Errorf("IPs = %v, want to contain 10.0.0.1", last.IPs)
	}
}

func TestSimpleTracerCutoffDropsLaterHops(t *testing.T) {
	st := newTestSimpleTracer(t)

	var got []HopStatus
	handler := st.onHopResult(func(hs HopStatus) { got = append(got, hs) })

	// Hop 3 reaches the destination (a Success from the final host).
	handler(3, probe.Result{Kind: probe.ResultSuccess, Remote: "198.51.100.1", ElapsedUsec: 1})
	// A later, slower hop-5 callback must be dropped.
	handler(5, probe.Result{Kind: probe.ResultTimeout, Remote: "198.51.100.1"})

	if len(got) != 1 {
		t.Fatalf("got %d callbacks, want 1 (hop 5 should have been dropped)", len(got))
	}
	if !got[0].IsLast {
		t.Error("expected hop 3's HopStatus to be marked IsLast")
	}
}

func TestSimpleTracerMonotonicNumAndGrowingResponses(t *testing.T) {
	st := newTestSimpleTracer(t)

	var nums []int
	var sizes []int
	handler := st.onHopResult(func(hs HopStatus) {
		nums = append(nums, hs.Num)
		sizes = append(sizes, len(hs.Responses))
	})

	handler(1, probe.Result{Kind: probe.ResultSuccess, Remote: "198.51.100.1"})
	handler(1, probe.Result{Kind: probe.ResultSuccess, Remote: "198.51.100.1"})

	if nums[1] < nums[0] {
		t.Fatalf("Num decreased between callbacks: %v", nums)
	}
	if sizes[1] <= sizes[0] {
		t.Fatalf("responses did not grow monotonically: %v", sizes)
	}
}
