package traceroute

import (
	"testing"
	"time"

	"github.com/pathsonar/pathsonar/internal/probe"
)

func TestConfigValidateRequiresExactlyOneStrategy(t *testing.T) {
	base := Config{Host: "127.0.0.1", Port: probe.FixedPort{Port: 33434}, ProbeSize: ProbeSize{Mode: SizeStatic, Size: 32}, Timeout: time.Second}

	if err := base.Validate(); err == nil {
		t.Fatal("expected error when neither strategy is set")
	}

	both := base
	both.Stepped = &Stepped{ProbesPerHop: 1, Concurrency: 1, MaxHops: 1}
	both.Concurrent = &Concurrent{Cycles: 1, Interval: time.Second, MaxHops: 1}
	if err := both.Validate(); err == nil {
		t.Fatal("expected error when both strategies are set")
	}

	stepped := base
	stepped.Stepped = &Stepped{ProbesPerHop: 1, Concurrency: 1, MaxHops: 1}
	if err := stepped.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLowerCutoffIsMonotonicallyNonIncreasing(t *testing.T) {
	tr := &Tracer{}
	tr.cutoff.Store(100)
	tr.lowerCutoff(5)
	if got := tr.cutoff.Load(); got != 5 {
		t.Fatalf("cutoff = %d, want 5", got)
	}
	tr.lowerCutoff(10)
	if got := tr.cutoff.Load(); got != 5 {
		t.Fatalf("cutoff rose to %d after a larger hop, want 5", got)
	}
}

func TestShrinkSizeNeverGrows(t *testing.T) {
	tr := &Tracer{}
	tr.size.Store(1000)
	tr.shrinkSize(500)
	if got := tr.size.Load(); got != 500 {
		t.Fatalf("size = %d, want 500", got)
	}
	tr.shrinkSize(900)
	if got := tr.size.Load(); got != 500 {
		t.Fatalf("size grew to %d, want 500", got)
	}
}
