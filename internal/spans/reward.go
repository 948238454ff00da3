package spans

import "github.com/nexuscore/runtime/pkg/models"

// EmitReward (C3) records a finalized Reward span carrying reward_value.
func EmitReward(c *Collector, name string, rewardValue float64, attrs map[string]any) {
	span := c.StartSpan(models.SpanReward, name)
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrs["reward_value"] = rewardValue
	span.Attributes = attrs

	now := span.StartedAt
	span.Status = models.SpanSucceeded
	span.CompletedAt = &now
	span.DurationMs = 0
	c.Record(span)
}

// WatchdogTimeout emits the dedicated reward span the watchdog fires when a
// guarded operation exceeds its timeout.
func WatchdogTimeout(c *Collector, operation string, timeoutMs int64) {
	EmitReward(c, "watchdog_timeout", -1.0, map[string]any{
		"operation":  operation,
		"timeout_ms": timeoutMs,
	})
}
