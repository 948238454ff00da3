package models

import "time"

// SpanType categorizes a structured trace record.
type SpanType string

const (
	SpanToolCall           SpanType = "tool_call"
	SpanLlmCall            SpanType = "llm_call"
	SpanPlanning           SpanType = "planning"
	SpanReward             SpanType = "reward"
	SpanAnnotation         SpanType = "annotation"
	SpanRollout            SpanType = "rollout"
	SpanWatchdog           SpanType = "watchdog"
	SpanResourceResolution SpanType = "resource_resolution"
)

// SpanStatus is the terminal or in-flight state of a Span.
type SpanStatus string

const (
	SpanRunning   SpanStatus = "running"
	SpanSucceeded SpanStatus = "succeeded"
	SpanFailed    SpanStatus = "failed"
	SpanTimedOut  SpanStatus = "timed_out"
	SpanSkipped   SpanStatus = "skipped"
	SpanCancelled SpanStatus = "cancelled"
)

// Span is one structured trace record within a rollout.
type Span struct {
	SpanID       string         `json:"span_id"`
	SequenceID   uint64         `json:"sequence_id"`
	RolloutID    string         `json:"rollout_id"`
	SessionID    string         `json:"session_id"`
	AttemptIdx   int            `json:"attempt_idx"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	SpanType     SpanType       `json:"span_type"`
	Name         string         `json:"name"`
	Status       SpanStatus     `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	DurationMs   int64          `json:"duration_ms"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// ToolExecution is an audit record of one tool call.
type ToolExecution struct {
	ChannelID   int            `json:"channel_id"`
	ToolName    string         `json:"tool_name"`
	Parameters  map[string]any `json:"parameters"`
	Success     bool           `json:"success"`
	Result      string         `json:"result"`
	DurationMs  int64          `json:"duration_ms"`
	ExecutedAt  time.Time      `json:"executed_at"`
}
