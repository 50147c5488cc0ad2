package probe

import (
	"math/rand"
	"testing"
)

func TestFixedPort(t *testing.T) {
	f := FixedPort{Port: 33434}
	for hop := 1; hop <= 5; hop++ {
		if got := f.Resolve(hop); got != 33434 {
			t.Errorf("hop %d: got %d, want 33434", hop, got)
		}
	}
}

func TestSequentialPort(t *testing.T) {
	s := SequentialPort{Start: 33434, Step: 2}
	cases := []struct {
		hop  int
		want int
	}{
		{1, 33434},
		{2, 33436},
		{3, 33438},
	}
	for _, c := range cases {
		if got := s.Resolve(c.hop); got != c.want {
			t.Errorf("hop %d: got %d, want %d", c.hop, got, c.want)
		}
	}
}

func TestRandomPortWithinRangeAndExclusion(t *testing.T) {
	r := RandomPort{
		Min:     1024,
		Max:     1026,
		Exclude: map[int]struct{}{1025: {}},
		Rand:    rand.New(rand.NewSource(1)),
	}
	for i := 0; i < 50; i++ {
		got := r.Resolve(1)
		if got < 1024 || got > 1026 {
			t.Fatalf("got %d out of range [1024,1026]", got)
		}
		if got == 1025 {
			t.Fatalf("got excluded port 1025")
		}
	}
}

func TestRandomPortMaxIsInclusive(t *testing.T) {
	r := RandomPort{Min: 5000, Max: 5000, Rand: rand.New(rand.NewSource(2))}
	if got := r.Resolve(1); got != 5000 {
		t.Fatalf("got %d, want 5000", got)
	}
}

func TestRandomPortClampsMinBelowOne(t *testing.T) {
	r := RandomPort{Min: -10, Max: 2, Rand: rand.New(rand.NewSource(3))}
	for i := 0; i < 20; i++ {
		got := r.Resolve(1)
		if got < 1 || got > 2 {
			t.Fatalf("got %d out of range [1,2]", got)
		}
	}
}
