// Package bundled holds hooks shipped with the runtime, registered by
// default unless a deployment opts out.
package bundled

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nexuscore/runtime/internal/hooks"
	"github.com/nexuscore/runtime/pkg/models"
)

// RateLimitConfig configures the sliding-window limiter.
type RateLimitConfig struct {
	MaxRequests        int
	WindowSecs         int
	MaxToolCallsPerMsg int
	CooldownSecs       int
}

// window tracks one session's recent request timestamps and cooldown.
type window struct {
	mu         sync.Mutex
	hits       []time.Time
	cooldownAt time.Time // zero when not in cooldown
}

// RateLimiter is a bundled hook enforcing a sliding-window request cap per
// session with a cooldown once the window is exceeded, plus a hard cap on
// tool calls issued while handling a single message.
type RateLimiter struct {
	cfg     RateLimitConfig
	mu      sync.RWMutex
	windows map[string]*window
	maxKeys int
}

// NewRateLimiter constructs a RateLimiter hook.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 20
	}
	if cfg.WindowSecs <= 0 {
		cfg.WindowSecs = 60
	}
	if cfg.CooldownSecs <= 0 {
		cfg.CooldownSecs = 30
	}
	return &RateLimiter{
		cfg:     cfg,
		windows: make(map[string]*window),
		maxKeys: 10000,
	}
}

func (rl *RateLimiter) getWindow(key string) *window {
	rl.mu.RLock()
	w, ok := rl.windows[key]
	rl.mu.RUnlock()
	if ok {
		return w
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if w, ok = rl.windows[key]; ok {
		return w
	}
	if len(rl.windows) >= rl.maxKeys {
		rl.pruneLocked()
	}
	w = &window{}
	rl.windows[key] = w
	return w
}

// pruneLocked drops windows with no hits in the last window, evicting the
// oldest entries first. Caller must hold rl.mu.
func (rl *RateLimiter) pruneLocked() {
	cutoff := time.Now().Add(-time.Duration(rl.cfg.WindowSecs) * time.Second)
	for key, w := range rl.windows {
		w.mu.Lock()
		stale := len(w.hits) == 0 || (len(w.hits) > 0 && w.hits[len(w.hits)-1].Before(cutoff))
		w.mu.Unlock()
		if stale {
			delete(rl.windows, key)
		}
	}
}

// allow records one request for key and reports whether it is admitted
// under the sliding window, tripping a cooldown the moment the window is
// exceeded.
func (rl *RateLimiter) allow(key string, now time.Time) (bool, string) {
	w := rl.getWindow(key)
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.cooldownAt.IsZero() {
		elapsed := now.Sub(w.cooldownAt)
		if elapsed < time.Duration(rl.cfg.CooldownSecs)*time.Second {
			return false, fmt.Sprintf("rate limit cooldown active for %s", time.Duration(rl.cfg.CooldownSecs)*time.Second-elapsed)
		}
		w.cooldownAt = time.Time{}
		w.hits = nil
	}

	windowStart := now.Add(-time.Duration(rl.cfg.WindowSecs) * time.Second)
	kept := w.hits[:0]
	for _, t := range w.hits {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}
	w.hits = kept

	if len(w.hits) >= rl.cfg.MaxRequests {
		w.cooldownAt = now
		return false, fmt.Sprintf("rate limit exceeded: %d requests in %ds window", rl.cfg.MaxRequests, rl.cfg.WindowSecs)
	}

	w.hits = append(w.hits, now)
	return true, ""
}

// Hook returns the models.Hook wired to BeforeAgentStart, checking the
// session-level sliding window.
func (rl *RateLimiter) Hook() hooks.Hook {
	return hooks.NewFuncHook(
		"bundled.rate_limiter",
		"rate_limiter",
		[]models.HookEvent{models.BeforeAgentStart},
		func(ctx context.Context, hctx *models.HookContext) models.HookResult {
			ok, reason := rl.allow(hctx.SessionID, time.Now())
			if !ok {
				return models.CancelResult(reason)
			}
			return models.ContinueResult(nil)
		},
		hooks.WithDescription("sliding-window request rate limiter with cooldown"),
		hooks.WithHookPriority(models.PriorityHigh),
	)
}

// ToolCallLimiter caps the number of tool calls issued while handling a
// single message, independent of the request-level sliding window.
type ToolCallLimiter struct {
	cfg RateLimitConfig
	mu  sync.Mutex
	n   map[string]int
}

// NewToolCallLimiter constructs a ToolCallLimiter hook.
func NewToolCallLimiter(cfg RateLimitConfig) *ToolCallLimiter {
	if cfg.MaxToolCallsPerMsg <= 0 {
		cfg.MaxToolCallsPerMsg = 10
	}
	return &ToolCallLimiter{cfg: cfg, n: make(map[string]int)}
}

// Reset clears the tool-call count for a session, called once per inbound
// message before dispatch begins.
func (t *ToolCallLimiter) Reset(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.n, sessionID)
}

// Hook returns the models.Hook wired to BeforeToolCall.
func (t *ToolCallLimiter) Hook() hooks.Hook {
	return hooks.NewFuncHook(
		"bundled.tool_call_limiter",
		"tool_call_limiter",
		[]models.HookEvent{models.BeforeToolCall},
		func(ctx context.Context, hctx *models.HookContext) models.HookResult {
			t.mu.Lock()
			t.n[hctx.SessionID]++
			count := t.n[hctx.SessionID]
			t.mu.Unlock()

			if count > t.cfg.MaxToolCallsPerMsg {
				return models.SkipResult()
			}
			return models.ContinueResult(nil)
		},
		hooks.WithDescription("caps tool calls issued while handling one message"),
		hooks.WithHookPriority(models.PriorityHigh),
	)
}
