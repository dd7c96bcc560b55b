package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestLoginRateLimiterWindow(t *testing.T) {
	rl := NewLoginRateLimiter(2, time.Minute)
	defer rl.Close()

	base := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return base }

	if !rl.Allow("1.2.3.4") || !rl.Allow("1.2.3.4") {
		t.Fatalf("first two attempts should pass")
	}
	if rl.Allow("1.2.3.4") {
		t.Fatalf("third attempt should be limited")
	}
	if !rl.Allow("5.6.7.8") {
		t.Fatalf("other IPs are independent")
	}
	if got := rl.RetryAfterSeconds("1.2.3.4"); got != 61 {
		t.Fatalf("RetryAfterSeconds = %d, want 61", got)
	}

	rl.now = func() time.Time { return base.Add(61 * time.Second) }
	if !rl.Allow("1.2.3.4") {
		t.Fatalf("window should have rolled over")
	}
}

func TestLoginRateLimiterReset(t *testing.T) {
	rl := NewLoginRateLimiter(1, time.Minute)
	defer rl.Close()

	rl.Allow("ip")
	if rl.Allow("ip") {
		t.Fatalf("expected limit")
	}
	rl.Reset("ip")
	if !rl.Allow("ip") {
		t.Fatalf("Reset should clear the bucket")
	}
}

func TestMessageRateLimiterBurst(t *testing.T) {
	rl := NewMessageRateLimiter(0.01, 3)
	defer rl.Close()

	for i := 0; i < 3; i++ {
		if ok, _ := rl.Allow(42); !ok {
			t.Fatalf("send %d within burst was limited", i)
		}
	}
	ok, retry := rl.Allow(42)
	if ok {
		t.Fatalf("send beyond burst should be limited")
	}
	if retry < 1 {
		t.Fatalf("retry = %d, want >= 1", retry)
	}
	if ok, _ := rl.Allow(7); !ok {
		t.Fatalf("other users are independent")
	}
}

func TestMessageRateLimiterCleanup(t *testing.T) {
	rl := NewMessageRateLimiter(1, 1)
	defer rl.Close()

	rl.Allow(1)
	rl.cleanup(time.Now().Add(time.Hour))
	if len(rl.users) != 0 {
		t.Fatalf("idle bucket not removed")
	}
}

func TestExtractIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	if got := ExtractIP(r); got != "10.0.0.1" {
		t.Fatalf("ExtractIP = %q", got)
	}
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ExtractIP(r); got != "203.0.113.9" {
		t.Fatalf("ExtractIP with XFF = %q", got)
	}
}
