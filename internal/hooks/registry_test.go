package hooks

import (
	"context"
	"testing"
	"time"

	"github.com/nexuscore/runtime/pkg/models"
)

func newTestHook(id string, priority models.HookPriority, fn func(ctx context.Context, hctx *models.HookContext) models.HookResult) *FuncHook {
	return NewFuncHook(id, id, []models.HookEvent{models.BeforeToolCall}, fn, WithHookPriority(priority))
}

func TestTriggerRunsInPriorityOrder(t *testing.T) {
	r := NewRegistry(nil)
	var order []string

	r.Register(newTestHook("low", models.PriorityLow, func(ctx context.Context, hctx *models.HookContext) models.HookResult {
		order = append(order, "low")
		return models.ContinueResult(nil)
	}))
	r.Register(newTestHook("critical", models.PriorityCritical, func(ctx context.Context, hctx *models.HookContext) models.HookResult {
		order = append(order, "critical")
		return models.ContinueResult(nil)
	}))
	r.Register(newTestHook("normal", models.PriorityNormal, func(ctx context.Context, hctx *models.HookContext) models.HookResult {
		order = append(order, "normal")
		return models.ContinueResult(nil)
	}))

	r.Trigger(context.Background(), models.BeforeToolCall, &models.HookContext{})

	want := []string{"critical", "normal", "low"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestTriggerStopsOnSkip(t *testing.T) {
	r := NewRegistry(nil)
	ran := false

	r.Register(newTestHook("a", models.PriorityHigh, func(ctx context.Context, hctx *models.HookContext) models.HookResult {
		return models.SkipResult()
	}))
	r.Register(newTestHook("b", models.PriorityLow, func(ctx context.Context, hctx *models.HookContext) models.HookResult {
		ran = true
		return models.ContinueResult(nil)
	}))

	out := r.Trigger(context.Background(), models.BeforeToolCall, &models.HookContext{})
	if out.Kind != models.HookSkip {
		t.Errorf("Kind = %v, want Skip", out.Kind)
	}
	if ran {
		t.Error("lower-priority hook should not have run after Skip")
	}
}

func TestTriggerStopsOnCancelWithReason(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(newTestHook("a", models.PriorityNormal, func(ctx context.Context, hctx *models.HookContext) models.HookResult {
		return models.CancelResult("rate limited")
	}))

	out := r.Trigger(context.Background(), models.BeforeToolCall, &models.HookContext{})
	if out.Kind != models.HookCancel || out.Reason != "rate limited" {
		t.Errorf("out = %+v, want Cancel/rate limited", out)
	}
}

func TestTriggerReplaceOverridesValue(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(newTestHook("a", models.PriorityNormal, func(ctx context.Context, hctx *models.HookContext) models.HookResult {
		return models.ReplaceResult("replaced")
	}))

	out := r.Trigger(context.Background(), models.BeforeToolCall, &models.HookContext{})
	if out.Kind != models.HookContinue || out.Value != "replaced" {
		t.Errorf("out = %+v, want Continue with Value=replaced", out)
	}
}

func TestTriggerContinuesPastErrorByDefault(t *testing.T) {
	r := NewRegistry(nil)
	ran := false
	r.Register(newTestHook("a", models.PriorityHigh, func(ctx context.Context, hctx *models.HookContext) models.HookResult {
		return models.ErrorResult("boom")
	}))
	r.Register(newTestHook("b", models.PriorityLow, func(ctx context.Context, hctx *models.HookContext) models.HookResult {
		ran = true
		return models.ContinueResult(nil)
	}))

	r.Trigger(context.Background(), models.BeforeToolCall, &models.HookContext{})
	if !ran {
		t.Error("chain should continue past an Error result by default")
	}
}

func TestTriggerHookTimeoutProducesError(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(NewFuncHook("slow", "slow", []models.HookEvent{models.BeforeToolCall},
		func(ctx context.Context, hctx *models.HookContext) models.HookResult {
			<-ctx.Done()
			return models.ContinueResult(nil)
		},
		WithHookTimeout(5*time.Millisecond),
	))

	r.Trigger(context.Background(), models.BeforeToolCall, &models.HookContext{})
	stats := r.Stats("slow")
	if stats.Failures != 1 {
		t.Errorf("Failures = %d, want 1 after timeout", stats.Failures)
	}
}

func TestDisabledHookDoesNotRun(t *testing.T) {
	r := NewRegistry(nil)
	ran := false
	h := newTestHook("a", models.PriorityNormal, func(ctx context.Context, hctx *models.HookContext) models.HookResult {
		ran = true
		return models.ContinueResult(nil)
	})
	h.SetEnabled(false)
	r.Register(h)

	r.Trigger(context.Background(), models.BeforeToolCall, &models.HookContext{})
	if ran {
		t.Error("disabled hook should not run")
	}
}

func TestUnregisterRemovesHook(t *testing.T) {
	r := NewRegistry(nil)
	h := newTestHook("a", models.PriorityNormal, func(ctx context.Context, hctx *models.HookContext) models.HookResult {
		return models.ContinueResult(nil)
	})
	r.Register(h)
	if !r.Unregister("a") {
		t.Fatal("expected Unregister to report true")
	}
	if r.HookCount(models.BeforeToolCall) != 0 {
		t.Error("hook count should be 0 after unregister")
	}
	if r.Unregister("a") {
		t.Error("second unregister of same id should report false")
	}
}
