package ratelimit

import (
	"testing"
	"time"

	"github.com/driftlabs/mixpool/internal/clock"
)

func newTestLimiter(rpm, burst int) (*Limiter, *clock.TestClock) {
	clk := clock.NewTestClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	l := New(Config{
		RequestsPerMinute: rpm,
		BurstSize:         burst,
		CleanupInterval:   time.Minute,
	}, clk)
	return l, clk
}

func TestBurstThenBlocked(t *testing.T) {
	l, _ := newTestLimiter(60, 5)
	defer l.Stop()

	for i := 0; i < 5; i++ {
		if !l.Allow("1.2.3.4") {
			t.Fatalf("request %d should be within burst", i)
		}
	}
	if l.Allow("1.2.3.4") {
		t.Error("request beyond burst should be blocked")
	}
}

func TestTokensRefillOverTime(t *testing.T) {
	l, clk := newTestLimiter(60, 5)
	defer l.Stop()

	for i := 0; i < 5; i++ {
		l.Allow("1.2.3.4")
	}
	if l.Allow("1.2.3.4") {
		t.Fatal("bucket should be empty")
	}

	// 60 rpm = 1 token per second.
	clk.Advance(2 * time.Second)
	if !l.Allow("1.2.3.4") {
		t.Error("expected a token after refill")
	}
	if !l.Allow("1.2.3.4") {
		t.Error("expected a second token after refill")
	}
	if l.Allow("1.2.3.4") {
		t.Error("refill should not exceed elapsed time")
	}
}

func TestClientsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(60, 2)
	defer l.Stop()

	l.Allow("1.2.3.4")
	l.Allow("1.2.3.4")
	if l.Allow("1.2.3.4") {
		t.Fatal("first client should be exhausted")
	}
	if !l.Allow("5.6.7.8") {
		t.Error("second client should have its own bucket")
	}
}
