package spans

import (
	"testing"

	"github.com/nexuscore/runtime/pkg/models"
)

func TestSequenceIDsContiguousAndIncreasing(t *testing.T) {
	c := NewCollector("r1", "s1")

	for i := 0; i < 5; i++ {
		g := c.StartGuarded(models.SpanToolCall, "tool")
		g.Done()
	}

	drained := c.Drain()
	if len(drained) != 5 {
		t.Fatalf("len(drained) = %d, want 5", len(drained))
	}
	for i, span := range drained {
		if span.SequenceID != uint64(i) {
			t.Errorf("span[%d].SequenceID = %d, want %d", i, span.SequenceID, i)
		}
	}
}

func TestGuardDroppedWithoutCompletionSucceeds(t *testing.T) {
	c := NewCollector("r1", "s1")

	func() {
		g := c.StartGuarded(models.SpanLlmCall, "model")
		defer g.Done()
	}()

	drained := c.Drain()
	if len(drained) != 1 {
		t.Fatalf("len(drained) = %d, want 1", len(drained))
	}
	if drained[0].Status != models.SpanSucceeded {
		t.Errorf("Status = %v, want Succeeded", drained[0].Status)
	}
	if drained[0].CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
}

func TestGuardTerminalCallsAreIdempotent(t *testing.T) {
	c := NewCollector("r1", "s1")
	g := c.StartGuarded(models.SpanToolCall, "tool")
	g.Fail("boom")
	g.Succeed() // must not override the Fail
	g.Timeout()

	drained := c.Drain()
	if drained[0].Status != models.SpanFailed {
		t.Errorf("Status = %v, want Failed (first terminal call wins)", drained[0].Status)
	}
	if drained[0].Error != "boom" {
		t.Errorf("Error = %q, want boom", drained[0].Error)
	}
}

func TestWatchdogTimeoutRewardSpan(t *testing.T) {
	c := NewCollector("r1", "s1")
	WatchdogTimeout(c, "slow_tool", 1000)

	drained := c.Drain()
	if len(drained) != 1 {
		t.Fatalf("len(drained) = %d, want 1", len(drained))
	}
	span := drained[0]
	if span.SpanType != models.SpanReward || span.Name != "watchdog_timeout" {
		t.Errorf("span = %+v, want watchdog_timeout reward span", span)
	}
	if span.Attributes["reward_value"] != -1.0 {
		t.Errorf("reward_value = %v, want -1.0", span.Attributes["reward_value"])
	}
}
