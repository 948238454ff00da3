// Package spans implements the span collector (C2): a thread-safe, monotone
// sequenced accumulator of structured trace records for one rollout.
package spans

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/nexuscore/runtime/internal/observability"
	"github.com/nexuscore/runtime/pkg/models"
)

// Collector accumulates spans for a single rollout. A monotone sequence
// counter is allocated under atomic fetch-add so spans emitted from
// parallel sub-tasks still sort into a contiguous, increasing order.
type Collector struct {
	rolloutID string
	sessionID string

	seq        atomic.Uint64
	attemptIdx atomic.Int32

	mu    sync.Mutex
	spans []models.Span

	tracer *observability.Tracer
}

// NewCollector creates a collector scoped to one rollout.
func NewCollector(rolloutID, sessionID string) *Collector {
	return &Collector{rolloutID: rolloutID, sessionID: sessionID}
}

// SetTracer attaches an OpenTelemetry tracer: spans started through
// StartGuardedCtx are then mirrored onto the process tracer alongside the
// structured models.Span record. Optional; a nil tracer (the default)
// leaves the collector purely in-process.
func (c *Collector) SetTracer(tracer *observability.Tracer) {
	c.tracer = tracer
}

// SetAttempt updates the attempt index stamped on subsequently started spans.
func (c *Collector) SetAttempt(idx int) {
	c.attemptIdx.Store(int32(idx))
}

// StartSpan allocates a sequence id and returns a new Running span.
func (c *Collector) StartSpan(spanType models.SpanType, name string) models.Span {
	return models.Span{
		SpanID:     uuid.NewString(),
		SequenceID: c.seq.Add(1) - 1,
		RolloutID:  c.rolloutID,
		SessionID:  c.sessionID,
		AttemptIdx: int(c.attemptIdx.Load()),
		SpanType:   spanType,
		Name:       name,
		Status:     models.SpanRunning,
		StartedAt:  time.Now(),
		Attributes: map[string]any{},
	}
}

// Record appends a (presumably finalized) span. Idempotent: recording the
// same span id twice replaces the earlier entry rather than duplicating it.
func (c *Collector) Record(span models.Span) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.spans {
		if c.spans[i].SpanID == span.SpanID {
			c.spans[i] = span
			return
		}
	}
	c.spans = append(c.spans, span)
}

// Drain returns the accumulated spans in sequence order.
func (c *Collector) Drain() []models.Span {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.Span, len(c.spans))
	copy(out, c.spans)
	return out
}

// StartGuarded begins a span and returns a Guard that finalizes it on Done.
func (c *Collector) StartGuarded(spanType models.SpanType, name string) *Guard {
	span := c.StartSpan(spanType, name)
	return &Guard{collector: c, span: span}
}

// StartGuardedCtx behaves like StartGuarded but, when the collector has a
// Tracer attached, also opens a real OpenTelemetry span for the duration so
// the structured Span and the OTEL span cover the same interval.
func (c *Collector) StartGuardedCtx(ctx context.Context, spanType models.SpanType, name string) (context.Context, *Guard) {
	span := c.StartSpan(spanType, name)
	guard := &Guard{collector: c, span: span}
	if c.tracer != nil {
		var otelSpan oteltrace.Span
		ctx, otelSpan = c.tracer.Start(ctx, name)
		guard.otelSpan = otelSpan
	}
	return ctx, guard
}

// Guard is the RAII helper described in the spec: if the caller drops it
// (calls Done in a defer) without an explicit terminal call, the span is
// finalized as Succeeded.
type Guard struct {
	collector *Collector
	span      models.Span
	otelSpan  oteltrace.Span

	mu        sync.Mutex
	finalized bool
}

// Attributes exposes the span's attribute map for the caller to populate
// before finalization.
func (g *Guard) Attributes() map[string]any {
	return g.span.Attributes
}

// SetParent stamps the parent span id.
func (g *Guard) SetParent(parentSpanID string) {
	g.span.ParentSpanID = parentSpanID
}

func (g *Guard) finalize(status models.SpanStatus, errMsg string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.finalized {
		return
	}
	g.finalized = true

	now := time.Now()
	g.span.Status = status
	g.span.CompletedAt = &now
	g.span.DurationMs = now.Sub(g.span.StartedAt).Milliseconds()
	g.span.Error = errMsg
	g.collector.Record(g.span)

	if g.otelSpan != nil {
		g.collector.tracer.SetAttributes(g.otelSpan, "status", string(status))
		if errMsg != "" {
			g.collector.tracer.RecordError(g.otelSpan, errors.New(errMsg))
		}
		g.otelSpan.End()
	}
}

// Succeed finalizes the span as Succeeded. Idempotent.
func (g *Guard) Succeed() { g.finalize(models.SpanSucceeded, "") }

// Fail finalizes the span as Failed with the given error text. Idempotent.
func (g *Guard) Fail(errMsg string) { g.finalize(models.SpanFailed, errMsg) }

// Timeout finalizes the span as TimedOut. Idempotent.
func (g *Guard) Timeout() { g.finalize(models.SpanTimedOut, "") }

// Cancel finalizes the span as Cancelled. Idempotent.
func (g *Guard) Cancel() { g.finalize(models.SpanCancelled, "") }

// Skip finalizes the span as Skipped. Idempotent.
func (g *Guard) Skip() { g.finalize(models.SpanSkipped, "") }

// Done finalizes the span as Succeeded if nothing else has finalized it yet.
// Call via defer immediately after StartGuarded to get RAII semantics.
func (g *Guard) Done() {
	g.mu.Lock()
	already := g.finalized
	g.mu.Unlock()
	if !already {
		g.Succeed()
	}
}
