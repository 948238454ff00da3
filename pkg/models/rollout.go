package models

import "time"

// RolloutStatus is the state of a rollout's state machine.
type RolloutStatus string

const (
	RolloutQueuing   RolloutStatus = "queuing"
	RolloutPreparing RolloutStatus = "preparing"
	RolloutRunning   RolloutStatus = "running"
	RolloutSucceeded RolloutStatus = "succeeded"
	RolloutFailed    RolloutStatus = "failed"
	RolloutCancelled RolloutStatus = "cancelled"
)

// Terminal reports whether the status is one of the rollout's terminal states.
func (s RolloutStatus) Terminal() bool {
	switch s {
	case RolloutSucceeded, RolloutFailed, RolloutCancelled:
		return true
	default:
		return false
	}
}

// RetryCondition is a configured trigger for retrying a failed attempt.
type RetryCondition string

const (
	OnAnyFailure       RetryCondition = "on_any_failure"
	OnTimeout          RetryCondition = "on_timeout"
	OnLlmError         RetryCondition = "on_llm_error"
	OnToolError        RetryCondition = "on_tool_error"
	OnContextOverflow  RetryCondition = "on_context_overflow"
)

// FailureReasonKind tags the classified reason an attempt failed.
type FailureReasonKind string

const (
	FailureTimeout        FailureReasonKind = "timeout"
	FailureLlmError       FailureReasonKind = "llm_error"
	FailureToolError      FailureReasonKind = "tool_error"
	FailureContextOverflow FailureReasonKind = "context_overflow"
	FailureLoopDetected   FailureReasonKind = "loop_detected"
	FailureCancelled      FailureReasonKind = "cancelled"
	FailureUnknown        FailureReasonKind = "unknown"
)

// FailureReason is the classified cause of an attempt failure, carrying the
// original message for LlmError/ToolError/Unknown variants.
type FailureReason struct {
	Kind    FailureReasonKind `json:"kind"`
	Message string            `json:"message,omitempty"`
}

// Matches reports whether a configured retry condition covers this reason.
func (f FailureReason) Matches(cond RetryCondition) bool {
	if cond == OnAnyFailure {
		return true
	}
	switch cond {
	case OnTimeout:
		return f.Kind == FailureTimeout
	case OnLlmError:
		return f.Kind == FailureLlmError
	case OnToolError:
		return f.Kind == FailureToolError
	case OnContextOverflow:
		return f.Kind == FailureContextOverflow
	default:
		return false
	}
}

// RolloutConfig is the per-dispatch policy: timeout, retry budget, and backoff.
type RolloutConfig struct {
	TimeoutSecs        int              `json:"timeout_secs"`
	MaxAttempts        int              `json:"max_attempts"`
	RetryConditions    []RetryCondition `json:"retry_conditions"`
	RetryDelayMs       int64            `json:"retry_delay_ms"`
	ExponentialBackoff bool             `json:"exponential_backoff"`
	MaxRetryDelayMs    int64            `json:"max_retry_delay_ms"`
	MaxIterations      int              `json:"max_iterations"`
}

// HasCondition reports whether cond is in the configured retry conditions.
func (c RolloutConfig) HasCondition(cond RetryCondition) bool {
	for _, c := range c.RetryConditions {
		if c == cond {
			return true
		}
	}
	return false
}

// Attempt is one try within a rollout.
type Attempt struct {
	AttemptIdx    int            `json:"attempt_idx"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	DurationMs    int64          `json:"duration_ms"`
	Succeeded     bool           `json:"succeeded"`
	FailureReason *FailureReason `json:"failure_reason,omitempty"`
	Error         string         `json:"error,omitempty"`
	ToolCalls     int            `json:"tool_calls"`
	LlmCalls      int            `json:"llm_calls"`
	TokensUsed    int            `json:"tokens_used"`
}

// Rollout is one dispatch: the unit of work for an inbound message.
type Rollout struct {
	RolloutID   string         `json:"rollout_id"`
	SessionID   string         `json:"session_id"`
	ChannelID   int            `json:"channel_id"`
	Status      RolloutStatus  `json:"status"`
	Config      RolloutConfig  `json:"config"`
	Attempts    []*Attempt     `json:"attempts"`
	ResourcesID string         `json:"resources_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// CurrentAttempt returns the most recent (in-flight or last) attempt.
func (r *Rollout) CurrentAttempt() *Attempt {
	if len(r.Attempts) == 0 {
		return nil
	}
	return r.Attempts[len(r.Attempts)-1]
}
