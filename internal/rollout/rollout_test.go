package rollout

import (
	"context"
	"errors"
	"testing"

	"github.com/nexuscore/runtime/pkg/models"
)

func testConfig() models.RolloutConfig {
	return models.RolloutConfig{
		TimeoutSecs:        300,
		MaxAttempts:        3,
		RetryConditions:    []models.RetryCondition{models.OnTimeout, models.OnLlmError},
		RetryDelayMs:       1000,
		ExponentialBackoff: true,
		MaxRetryDelayMs:    30000,
		MaxIterations:      25,
	}
}

func TestStartRolloutCreatesPreparingWithAttemptZero(t *testing.T) {
	store := NewMemStore()
	mgr := New(store)

	r, collector, err := mgr.StartRollout(context.Background(), "sess-1", 42, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != models.RolloutPreparing {
		t.Errorf("Status = %v, want Preparing", r.Status)
	}
	if len(r.Attempts) != 1 || r.Attempts[0].AttemptIdx != 0 {
		t.Fatalf("Attempts = %+v, want single attempt 0", r.Attempts)
	}
	if collector == nil {
		t.Error("expected a non-nil collector")
	}
}

func TestSucceedRolloutFinalizesAttemptAndRollout(t *testing.T) {
	store := NewMemStore()
	mgr := New(store)
	r, _, _ := mgr.StartRollout(context.Background(), "sess-1", 1, testConfig())

	if err := mgr.SucceedRollout(context.Background(), r, "done"); err != nil {
		t.Fatal(err)
	}
	if r.Status != models.RolloutSucceeded {
		t.Errorf("Status = %v, want Succeeded", r.Status)
	}
	if !r.CurrentAttempt().Succeeded {
		t.Error("current attempt should be marked succeeded")
	}
	if r.CompletedAt == nil || r.DurationMs < 0 {
		t.Error("rollout should have a completed_at and non-negative duration")
	}
}

func TestFailAttemptRetriesWhenEligible(t *testing.T) {
	store := NewMemStore()
	mgr := New(store)
	r, collector, _ := mgr.StartRollout(context.Background(), "sess-1", 1, testConfig())

	retried, err := mgr.FailAttempt(context.Background(), r, errors.New("request timeout"), collector)
	if err != nil {
		t.Fatal(err)
	}
	if !retried {
		t.Fatal("expected retry to be scheduled")
	}
	if r.Status == models.RolloutFailed {
		t.Error("rollout should not be terminally failed while retries remain")
	}
	if len(r.Attempts) != 2 {
		t.Fatalf("len(Attempts) = %d, want 2", len(r.Attempts))
	}
	if r.Attempts[0].Succeeded || r.Attempts[0].FailureReason.Kind != models.FailureTimeout {
		t.Errorf("first attempt = %+v, want failed with Timeout reason", r.Attempts[0])
	}
}

func TestFailAttemptTerminatesWhenConditionDoesNotMatch(t *testing.T) {
	store := NewMemStore()
	mgr := New(store)
	cfg := testConfig()
	cfg.RetryConditions = []models.RetryCondition{models.OnTimeout}
	r, collector, _ := mgr.StartRollout(context.Background(), "sess-1", 1, cfg)

	retried, err := mgr.FailAttempt(context.Background(), r, errors.New("permission denied"), collector)
	if err != nil {
		t.Fatal(err)
	}
	if retried {
		t.Fatal("unknown failure reason should not retry under on_timeout-only policy")
	}
	if r.Status != models.RolloutFailed {
		t.Errorf("Status = %v, want Failed", r.Status)
	}
}

func TestFailAttemptStopsAtMaxAttempts(t *testing.T) {
	store := NewMemStore()
	mgr := New(store)
	cfg := testConfig()
	cfg.MaxAttempts = 1
	r, collector, _ := mgr.StartRollout(context.Background(), "sess-1", 1, cfg)

	retried, err := mgr.FailAttempt(context.Background(), r, errors.New("timeout"), collector)
	if err != nil {
		t.Fatal(err)
	}
	if retried {
		t.Fatal("should not retry once max_attempts is reached")
	}
	if r.Status != models.RolloutFailed {
		t.Errorf("Status = %v, want Failed", r.Status)
	}
}

func TestCancelRollout(t *testing.T) {
	store := NewMemStore()
	mgr := New(store)
	r, _, _ := mgr.StartRollout(context.Background(), "sess-1", 1, testConfig())

	if err := mgr.CancelRollout(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if r.Status != models.RolloutCancelled {
		t.Errorf("Status = %v, want Cancelled", r.Status)
	}
	if r.CurrentAttempt().FailureReason.Kind != models.FailureCancelled {
		t.Error("current attempt should carry a Cancelled failure reason")
	}
}

func TestRetryDelayExponentialBackoffCapsAtMax(t *testing.T) {
	r := &models.Rollout{
		Config: models.RolloutConfig{
			RetryDelayMs:       1000,
			ExponentialBackoff: true,
			MaxRetryDelayMs:    5000,
		},
		Attempts: []*models.Attempt{{}, {}, {}, {}},
	}
	d := RetryDelay(r)
	if d.Milliseconds() != 5000 {
		t.Errorf("RetryDelay = %v, want capped at 5000ms", d)
	}
}

func TestRetryDelayFlatWithoutBackoff(t *testing.T) {
	r := &models.Rollout{
		Config: models.RolloutConfig{
			RetryDelayMs:       2000,
			ExponentialBackoff: false,
		},
		Attempts: []*models.Attempt{{}, {}},
	}
	d := RetryDelay(r)
	if d.Milliseconds() != 2000 {
		t.Errorf("RetryDelay = %v, want flat 2000ms", d)
	}
}

func TestClassifyFailureReasons(t *testing.T) {
	cases := []struct {
		msg  string
		want models.FailureReasonKind
	}{
		{"connection timeout after 30s", models.FailureTimeout},
		{"request timed out", models.FailureTimeout},
		{"context window overflow", models.FailureContextOverflow},
		{"context too large for model", models.FailureContextOverflow},
		{"loop detected in tool calls", models.FailureLoopDetected},
		{"operation was cancelled by user", models.FailureCancelled},
		{"received 429 from provider", models.FailureLlmError},
		{"upstream returned 500", models.FailureLlmError},
		{"rate limit exceeded", models.FailureLlmError},
		{"unexpected null pointer", models.FailureUnknown},
	}
	for _, c := range cases {
		got := Classify(errors.New(c.msg))
		if got.Kind != c.want {
			t.Errorf("Classify(%q) = %v, want %v", c.msg, got.Kind, c.want)
		}
	}
}
