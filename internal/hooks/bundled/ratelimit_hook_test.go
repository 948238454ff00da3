package bundled

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToMaxWithinWindow(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxRequests: 3, WindowSecs: 60, CooldownSecs: 30})
	now := time.Now()

	for i := 0; i < 3; i++ {
		ok, _ := rl.allow("sess-1", now)
		if !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	ok, reason := rl.allow("sess-1", now)
	if ok {
		t.Fatal("4th request within window should be denied")
	}
	if reason == "" {
		t.Error("expected a denial reason")
	}
}

func TestRateLimiterCooldownBlocksUntilExpiry(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxRequests: 1, WindowSecs: 60, CooldownSecs: 10})
	now := time.Now()

	if ok, _ := rl.allow("sess-1", now); !ok {
		t.Fatal("first request should be allowed")
	}
	if ok, _ := rl.allow("sess-1", now); ok {
		t.Fatal("second request should trip cooldown")
	}
	if ok, _ := rl.allow("sess-1", now.Add(5*time.Second)); ok {
		t.Fatal("request during cooldown should still be denied")
	}
	if ok, _ := rl.allow("sess-1", now.Add(11*time.Second)); !ok {
		t.Fatal("request after cooldown expiry should be allowed")
	}
}

func TestRateLimiterWindowSlidesIndependentlyPerSession(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxRequests: 1, WindowSecs: 60, CooldownSecs: 30})
	now := time.Now()

	if ok, _ := rl.allow("sess-a", now); !ok {
		t.Fatal("sess-a first request should be allowed")
	}
	if ok, _ := rl.allow("sess-b", now); !ok {
		t.Fatal("sess-b should have its own independent window")
	}
}

func TestToolCallLimiterTripsAfterMax(t *testing.T) {
	lim := NewToolCallLimiter(RateLimitConfig{MaxToolCallsPerMsg: 2})
	h := lim.Hook()

	ctx := noopCtx()
	hctx := sessionCtx("sess-1")

	for i := 0; i < 2; i++ {
		res := h.Execute(ctx, hctx)
		if res.Kind != "continue" {
			t.Fatalf("call %d: got %v, want continue", i+1, res.Kind)
		}
	}
	res := h.Execute(ctx, hctx)
	if res.Kind != "skip" {
		t.Errorf("3rd call should skip, got %v", res.Kind)
	}
}

func TestToolCallLimiterResetClearsCount(t *testing.T) {
	lim := NewToolCallLimiter(RateLimitConfig{MaxToolCallsPerMsg: 1})
	h := lim.Hook()
	ctx := noopCtx()
	hctx := sessionCtx("sess-1")

	h.Execute(ctx, hctx)
	lim.Reset("sess-1")
	res := h.Execute(ctx, hctx)
	if res.Kind != "continue" {
		t.Errorf("after reset, first call should continue, got %v", res.Kind)
	}
}
