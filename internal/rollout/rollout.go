// Package rollout implements the rollout manager (C7): the state machine
// that tracks one dispatch's attempts from Preparing through a terminal
// status, classifies failures, and decides whether to retry.
package rollout

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexuscore/runtime/internal/backoff"
	"github.com/nexuscore/runtime/internal/observability"
	"github.com/nexuscore/runtime/internal/spans"
	"github.com/nexuscore/runtime/pkg/models"
)

// Store persists rollouts. Implementations must be safe for concurrent use.
type Store interface {
	Save(ctx context.Context, r *models.Rollout) error
}

// Manager creates and transitions rollouts, classifying failures and
// driving the retry policy.
type Manager struct {
	store  Store
	tracer *observability.Tracer
}

// New creates a Manager backed by store.
func New(store Store) *Manager {
	return &Manager{store: store}
}

// WithTracer attaches an OpenTelemetry tracer that every collector created
// by StartRollout will mirror spans onto.
func (m *Manager) WithTracer(tracer *observability.Tracer) *Manager {
	m.tracer = tracer
	return m
}

// StartRollout creates a rollout in Preparing with a fresh attempt 0,
// persists it, and returns it alongside a span collector scoped to it.
func (m *Manager) StartRollout(ctx context.Context, sessionID string, channelID int, cfg models.RolloutConfig) (*models.Rollout, *spans.Collector, error) {
	now := time.Now()
	r := &models.Rollout{
		RolloutID: uuid.NewString(),
		SessionID: sessionID,
		ChannelID: channelID,
		Status:    models.RolloutPreparing,
		Config:    cfg,
		CreatedAt: now,
		Attempts: []*models.Attempt{
			{AttemptIdx: 0, StartedAt: now},
		},
	}

	if err := m.store.Save(ctx, r); err != nil {
		return nil, nil, err
	}

	collector := spans.NewCollector(r.RolloutID, sessionID)
	if m.tracer != nil {
		collector.SetTracer(m.tracer)
	}
	return r, collector, nil
}

// MarkRunning transitions Preparing to Running and persists.
func (m *Manager) MarkRunning(ctx context.Context, r *models.Rollout) error {
	r.Status = models.RolloutRunning
	return m.store.Save(ctx, r)
}

// SucceedRollout finalizes the current attempt as succeeded, marks the
// rollout Succeeded, and persists.
func (m *Manager) SucceedRollout(ctx context.Context, r *models.Rollout, result string) error {
	now := time.Now()
	attempt := r.CurrentAttempt()
	if attempt != nil {
		attempt.CompletedAt = &now
		attempt.DurationMs = now.Sub(attempt.StartedAt).Milliseconds()
		attempt.Succeeded = true
	}
	r.Status = models.RolloutSucceeded
	r.Result = result
	r.CompletedAt = &now
	r.DurationMs = now.Sub(r.CreatedAt).Milliseconds()
	return m.store.Save(ctx, r)
}

// FailAttempt classifies err, finalizes the current attempt as failed, and
// either appends a new attempt (if retry policy allows it) or marks the
// rollout Failed. Reports whether a retry was scheduled.
func (m *Manager) FailAttempt(ctx context.Context, r *models.Rollout, failErr error, collector *spans.Collector) (bool, error) {
	reason := Classify(failErr)
	now := time.Now()

	attempt := r.CurrentAttempt()
	if attempt != nil {
		attempt.CompletedAt = &now
		attempt.DurationMs = now.Sub(attempt.StartedAt).Milliseconds()
		attempt.Succeeded = false
		attempt.FailureReason = &reason
		attempt.Error = failErr.Error()
	}

	if err := m.store.Save(ctx, r); err != nil {
		return false, err
	}

	if retryEligible(r.Config, len(r.Attempts), reason) {
		newIdx := len(r.Attempts)
		r.Attempts = append(r.Attempts, &models.Attempt{
			AttemptIdx: newIdx,
			StartedAt:  time.Now(),
		})
		if collector != nil {
			collector.SetAttempt(newIdx)
		}
		if err := m.store.Save(ctx, r); err != nil {
			return false, err
		}
		return true, nil
	}

	r.Status = models.RolloutFailed
	r.Error = failErr.Error()
	r.CompletedAt = &now
	r.DurationMs = now.Sub(r.CreatedAt).Milliseconds()
	return false, m.store.Save(ctx, r)
}

// CancelRollout finalizes the current attempt as Cancelled and marks the
// rollout Cancelled.
func (m *Manager) CancelRollout(ctx context.Context, r *models.Rollout) error {
	now := time.Now()
	attempt := r.CurrentAttempt()
	if attempt != nil {
		attempt.CompletedAt = &now
		attempt.DurationMs = now.Sub(attempt.StartedAt).Milliseconds()
		attempt.Succeeded = false
		reason := models.FailureReason{Kind: models.FailureCancelled}
		attempt.FailureReason = &reason
	}
	r.Status = models.RolloutCancelled
	r.CompletedAt = &now
	r.DurationMs = now.Sub(r.CreatedAt).Milliseconds()
	return m.store.Save(ctx, r)
}

// RetryDelay computes the delay before the next attempt per the rollout's
// config: exponential backoff with jitter capped at MaxRetryDelayMs (via
// internal/backoff), or a flat delay when ExponentialBackoff is unset.
func RetryDelay(r *models.Rollout) time.Duration {
	cfg := r.Config
	attemptIdx := len(r.Attempts) - 1
	if attemptIdx < 0 {
		attemptIdx = 0
	}

	if !cfg.ExponentialBackoff {
		return time.Duration(cfg.RetryDelayMs) * time.Millisecond
	}

	policy := backoff.BackoffPolicy{
		InitialMs: float64(cfg.RetryDelayMs),
		MaxMs:     float64(cfg.MaxRetryDelayMs),
		Factor:    2,
		Jitter:    0.1,
	}
	if policy.MaxMs <= 0 {
		policy.MaxMs = math.MaxFloat64
	}
	return backoff.ComputeBackoff(policy, attemptIdx+1)
}

func retryEligible(cfg models.RolloutConfig, attemptCount int, reason models.FailureReason) bool {
	if attemptCount >= cfg.MaxAttempts {
		return false
	}
	for _, cond := range cfg.RetryConditions {
		if reason.Matches(cond) {
			return true
		}
	}
	return false
}

// Classify maps an error's message to a FailureReason using the
// case-insensitive substring rules: "time out"/"timeout" → Timeout;
// "context" with "too large" or "overflow" → ContextOverflow; "loop" with
// "detect" → LoopDetected; "cancel" → Cancelled; "rate limit"/"429"/"500"/
// "503" → LlmError; otherwise Unknown.
func Classify(err error) models.FailureReason {
	if err == nil {
		return models.FailureReason{Kind: models.FailureUnknown}
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "time out") || strings.Contains(lower, "timeout"):
		return models.FailureReason{Kind: models.FailureTimeout, Message: msg}
	case strings.Contains(lower, "context") && (strings.Contains(lower, "too large") || strings.Contains(lower, "overflow")):
		return models.FailureReason{Kind: models.FailureContextOverflow, Message: msg}
	case strings.Contains(lower, "loop") && strings.Contains(lower, "detect"):
		return models.FailureReason{Kind: models.FailureLoopDetected, Message: msg}
	case strings.Contains(lower, "cancel"):
		return models.FailureReason{Kind: models.FailureCancelled, Message: msg}
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "500") || strings.Contains(lower, "503"):
		return models.FailureReason{Kind: models.FailureLlmError, Message: msg}
	default:
		return models.FailureReason{Kind: models.FailureUnknown, Message: msg}
	}
}
