package main

import (
	"testing"
	"time"
)

func TestLimiter_PacesThenDrops(t *testing.T) {
	lm := NewLimiter(RateLimitConfig{Enabled: true, ClientQPS: 1, ClientBurst: 1})

	if action, _, _ := lm.Check("192.0.2.1"); action != ActionAllow {
		t.Fatalf("expected first request to pass, got %s", action)
	}

	action, delay, reason := lm.Check("192.0.2.1")
	if action != ActionDelay || delay <= 0 || delay > maxPacingDelay || reason == "" {
		t.Fatalf("expected second request to be paced, got %s (delay %v, reason %q)", action, delay, reason)
	}

	if action, _, _ := lm.Check("192.0.2.1"); action != ActionDrop {
		t.Fatalf("expected third request to be dropped, got %s", action)
	}

	// Other clients have their own bucket.
	if action, _, _ := lm.Check("192.0.2.2"); action != ActionAllow {
		t.Fatalf("expected a different client to pass, got %s", action)
	}
}

func TestLimiter_Disabled(t *testing.T) {
	lm := NewLimiter(RateLimitConfig{ClientQPS: 1, ClientBurst: 1})
	for i := 0; i < 10; i++ {
		if action, _, _ := lm.Check("192.0.2.1"); action != ActionAllow {
			t.Fatalf("expected disabled limiter to allow, got %s", action)
		}
	}

	enabled := NewLimiter(RateLimitConfig{Enabled: true, ClientQPS: 1, ClientBurst: 1})
	for i := 0; i < 3; i++ {
		if action, _, _ := enabled.Check(""); action != ActionAllow {
			t.Fatalf("expected unknown client to be allowed, got %s", action)
		}
	}
}

func TestLimiter_Cleanup(t *testing.T) {
	lm := NewLimiter(RateLimitConfig{Enabled: true, ClientQPS: 10, ClientBurst: 10})
	lm.Check("192.0.2.1")
	lm.Check("192.0.2.2")

	if n := lm.cleanup(time.Now()); n != 0 {
		t.Fatalf("expected fresh clients to be kept, removed %d", n)
	}
	if n := lm.cleanup(time.Now().Add(10 * time.Minute)); n != 2 {
		t.Fatalf("expected 2 idle clients to be removed, got %d", n)
	}
}

func TestClientKey(t *testing.T) {
	tests := map[string]string{
		"192.0.2.1:1234":       "192.0.2.1",
		"[2001:db8::1]:443":    "2001:db8::1",
		"[::ffff:10.0.0.1]:80": "10.0.0.1",
		"not-an-address":       "not-an-address",
	}
	for in, want := range tests {
		if got := clientKey(in); got != want {
			t.Errorf("clientKey(%q): expected %q, got %q", in, want, got)
		}
	}
}
