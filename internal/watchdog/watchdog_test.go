package watchdog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nexuscore/runtime/internal/spans"
)

func TestGuardToolCallTimeout(t *testing.T) {
	w := New(Config{DefaultToolTimeout: 10 * time.Millisecond})
	c := spans.NewCollector("r1", "s1")

	_, ok := GuardToolCall(context.Background(), w, c, "slow", func(ctx context.Context) string {
		<-ctx.Done()
		return "never"
	})
	if ok {
		t.Error("expected timeout (ok=false)")
	}

	drained := c.Drain()
	var sawTimeout, sawReward bool
	for _, s := range drained {
		if s.Name == "watchdog:slow" && string(s.Status) == "timed_out" {
			sawTimeout = true
		}
		if s.Name == "watchdog_timeout" {
			sawReward = true
		}
	}
	if !sawTimeout || !sawReward {
		t.Errorf("expected watchdog timeout span and reward span, got %+v", drained)
	}
}

func TestGuardToolSuccessUpdatesHeartbeat(t *testing.T) {
	w := New(Config{DefaultToolTimeout: time.Second})
	c := spans.NewCollector("r1", "s1")
	before := w.lastBeat.Load()

	time.Sleep(time.Millisecond)
	_, err := GuardTool(context.Background(), w, c, "echo", func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.lastBeat.Load() <= before {
		t.Error("heartbeat should advance on successful guard return")
	}
}

func TestGuardToolPropagatesError(t *testing.T) {
	w := New(Config{DefaultToolTimeout: time.Second})
	c := spans.NewCollector("r1", "s1")
	boom := errors.New("boom")

	_, err := GuardTool(context.Background(), w, c, "fails", func(ctx context.Context) (string, error) {
		return "", boom
	})
	if err == nil {
		t.Fatal("expected error")
	}
	var werr *Error
	if !errors.As(err, &werr) || werr.Timeout {
		t.Errorf("expected non-timeout watchdog error, got %v", err)
	}
}

func TestIsUnresponsive(t *testing.T) {
	w := New(Config{HeartbeatMaxSilence: 5 * time.Millisecond})
	if w.IsUnresponsive() {
		t.Error("should not be unresponsive immediately after New")
	}
	time.Sleep(10 * time.Millisecond)
	if !w.IsUnresponsive() {
		t.Error("should be unresponsive after exceeding max silence")
	}
}
