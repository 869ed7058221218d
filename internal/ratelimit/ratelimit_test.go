package ratelimit

import "testing"

func TestLimiterAllowsUpToBurstThenBlocks(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 2})

	if !l.Allow("1.2.3.4") {
		t.Fatalf("expected first request to be allowed")
	}
	if !l.Allow("1.2.3.4") {
		t.Fatalf("expected second request (within burst) to be allowed")
	}
	if l.Allow("1.2.3.4") {
		t.Fatalf("expected third request to exceed the burst and be blocked")
	}
}

func TestLimiterTracksKeysIndependently(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 1})

	if !l.Allow("a") {
		t.Fatalf("expected key a's first request to be allowed")
	}
	if !l.Allow("b") {
		t.Fatalf("expected key b's first request to be allowed independently of a")
	}
}

func TestCleanupKeepsLimiterSetBelowThreshold(t *testing.T) {
	l := New(DefaultConfig())
	for i := 0; i < 5; i++ {
		l.Allow(string(rune('a' + i)))
	}
	if len(l.limiters) != 5 {
		t.Fatalf("expected 5 tracked limiters, got %d", len(l.limiters))
	}
	// Cleanup only resets once the map passes its size threshold; below it,
	// tracked limiters are left untouched.
	l.Cleanup()
	if len(l.limiters) != 5 {
		t.Fatalf("expected limiters to survive a cleanup below the threshold")
	}
}
