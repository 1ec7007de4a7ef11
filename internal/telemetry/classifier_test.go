package telemetry

import (
	"testing"
	"time"
)

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		elapsed time.Duration
		want    Connectivity
	}{
		{0, Connected},
		{1999 * time.Millisecond, Connected},
		{2 * time.Second, Stale},
		{4999 * time.Millisecond, Stale},
		{5 * time.Second, Disconnected},
		{time.Hour, Disconnected},
	}
	for _, c := range cases {
		if got := Classify(c.elapsed); got != c.want {
			t.Errorf("Classify(%v) = %v, want %v", c.elapsed, got, c.want)
		}
	}
}

func TestClassifyMonotonic(t *testing.T) {
	prev := Classify(0)
	for ms := 0; ms <= 8000; ms += 50 {
		cur := Classify(time.Duration(ms) * time.Millisecond)
		if cur > prev {
			t.Fatalf("connectivity improved at %dms: %v -> %v", ms, prev, cur)
		}
		prev = cur
	}
}

func TestClassifyNeverSeen(t *testing.T) {
	if got := classifyAt(time.Time{}, time.Now()); got != Disconnected {
		t.Fatalf("never-seen robot classified %v", got)
	}
}

func TestConnectivityText(t *testing.T) {
	for _, c := range []Connectivity{Disconnected, Stale, Connected} {
		b, _ := c.MarshalText()
		var back Connectivity
		if err := back.UnmarshalText(b); err != nil || back != c {
			t.Fatalf("round trip of %v gave %v, %v", c, back, err)
		}
	}
	var c Connectivity
	if err := c.UnmarshalText([]byte("flaky")); err == nil {
		t.Fatalf("expected error for unknown connectivity")
	}
}
