package ratelimiter

import (
	"testing"
	"time"
)

func TestAllowEnforcesBurstPerKey(t *testing.T) {
	l := New(1, 2, time.Minute)
	now := time.Now()

	if !l.Allow("token:a", now) || !l.Allow("token:a", now) {
		t.Fatal("expected the burst to be allowed")
	}
	if l.Allow("token:a", now) {
		t.Fatal("expected the third call in the same instant to be rejected")
	}
	if !l.Allow("token:b", now) {
		t.Fatal("expected an independent key to have its own bucket")
	}
}

func TestAllowRefillsOverTime(t *testing.T) {
	l := New(10, 1, time.Minute)
	now := time.Now()

	if !l.Allow("ip:127.0.0.1", now) {
		t.Fatal("expected the first call to pass")
	}
	if l.Allow("ip:127.0.0.1", now) {
		t.Fatal("expected the bucket to be empty")
	}
	if !l.Allow("ip:127.0.0.1", now.Add(150*time.Millisecond)) {
		t.Fatal("expected a token after the refill interval")
	}
}

func TestNilAndBlankKeysAreNeverLimited(t *testing.T) {
	var l *MapLimiter
	if !l.Allow("anything", time.Now()) {
		t.Fatal("expected a nil limiter to allow everything")
	}
	active := New(1, 1, time.Minute)
	now := time.Now()
	for i := 0; i < 5; i++ {
		if !active.Allow("   ", now) {
			t.Fatal("expected blank keys to bypass limiting")
		}
	}
}

func TestNewRejectsInvalidArguments(t *testing.T) {
	if New(0, 1, time.Minute) != nil {
		t.Fatal("expected nil limiter for zero rps")
	}
	if New(1, 0, time.Minute) != nil {
		t.Fatal("expected nil limiter for zero burst")
	}
}

func TestIdleBucketsAreSweptDuringTraffic(t *testing.T) {
	l := New(1000, 1000, time.Second)
	start := time.Now()
	l.Allow("stale-key", start)

	later := start.Add(time.Hour)
	for i := 0; i < sweepEvery; i++ {
		l.Allow("busy-key", later)
	}

	l.mu.Lock()
	_, stale := l.buckets["stale-key"]
	l.mu.Unlock()
	if stale {
		t.Fatal("expected the idle bucket to be evicted")
	}
}

func TestRetryAfterIsAtLeastASecond(t *testing.T) {
	if got := New(30, 60, time.Minute).RetryAfter(); got != time.Second {
		t.Fatalf("expected 1s for fast refill, got %v", got)
	}
	if got := New(0.25, 1, time.Minute).RetryAfter(); got != 4*time.Second {
		t.Fatalf("expected 4s for slow refill, got %v", got)
	}
	var l *MapLimiter
	if got := l.RetryAfter(); got != 0 {
		t.Fatalf("expected 0 for nil limiter, got %v", got)
	}
}
