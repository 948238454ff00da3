// Package watchdog enforces per-operation timeouts and a liveness heartbeat
// for one rollout's in-flight dispatch.
package watchdog

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nexuscore/runtime/internal/broadcaster"
	"github.com/nexuscore/runtime/internal/spans"
	"github.com/nexuscore/runtime/pkg/models"
)

// Config configures default and per-tool timeouts plus the heartbeat cadence.
type Config struct {
	DefaultToolTimeout  time.Duration
	DefaultModelTimeout time.Duration
	ToolOverrides       map[string]time.Duration
	HeartbeatInterval   time.Duration
	HeartbeatMaxSilence time.Duration
}

// Error wraps an underlying error or reports a plain timeout.
type Error struct {
	Timeout bool
	Cause   error
}

func (e *Error) Error() string {
	if e.Timeout {
		return "watchdog: operation timed out"
	}
	return e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// Watchdog guards tool and model calls for one rollout and tracks liveness
// via a heartbeat timestamp updated on every successful guard return.
type Watchdog struct {
	cfg      Config
	lastBeat atomic.Int64 // unix nano
}

// New creates a Watchdog and records an initial heartbeat.
func New(cfg Config) *Watchdog {
	if cfg.DefaultToolTimeout <= 0 {
		cfg.DefaultToolTimeout = 30 * time.Second
	}
	if cfg.DefaultModelTimeout <= 0 {
		cfg.DefaultModelTimeout = 60 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.HeartbeatMaxSilence <= 0 {
		cfg.HeartbeatMaxSilence = 20 * time.Second
	}
	w := &Watchdog{cfg: cfg}
	w.Heartbeat()
	return w
}

// Heartbeat records "still alive", called on every successful guard return
// and on start.
func (w *Watchdog) Heartbeat() {
	w.lastBeat.Store(time.Now().UnixNano())
}

// IsUnresponsive reports whether the silence since the last heartbeat
// exceeds HeartbeatMaxSilence.
func (w *Watchdog) IsUnresponsive() bool {
	last := time.Unix(0, w.lastBeat.Load())
	return time.Since(last) > w.cfg.HeartbeatMaxSilence
}

func (w *Watchdog) toolTimeout(name string) time.Duration {
	if d, ok := w.cfg.ToolOverrides[name]; ok {
		return d
	}
	return w.cfg.DefaultToolTimeout
}

// GuardToolCall runs an infallible future-like function under the tool's
// timeout, recording a Watchdog span and, on timeout, a reward span.
// The zero value of T is returned on timeout.
func GuardToolCall[T any](ctx context.Context, w *Watchdog, collector *spans.Collector, toolName string, fn func(context.Context) T) (T, bool) {
	var zero T
	timeout := w.toolTimeout(toolName)
	ctx, guard := collector.StartGuardedCtx(ctx, models.SpanWatchdog, "watchdog:"+toolName)
	guard.Attributes()["operation"] = toolName
	guard.Attributes()["timeout_ms"] = timeout.Milliseconds()

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan T, 1)
	go func() {
		resultCh <- fn(cctx)
	}()

	select {
	case res := <-resultCh:
		guard.Succeed()
		w.Heartbeat()
		return res, true
	case <-cctx.Done():
		guard.Timeout()
		spans.WatchdogTimeout(collector, toolName, timeout.Milliseconds())
		return zero, false
	}
}

// GuardTool runs a fallible operation under the tool's timeout.
func GuardTool[T any](ctx context.Context, w *Watchdog, collector *spans.Collector, toolName string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	timeout := w.toolTimeout(toolName)
	ctx, guard := collector.StartGuardedCtx(ctx, models.SpanWatchdog, "watchdog:"+toolName)
	guard.Attributes()["operation"] = toolName
	guard.Attributes()["timeout_ms"] = timeout.Milliseconds()

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		v, err := fn(cctx)
		resultCh <- outcome{v, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			guard.Fail(res.err.Error())
			return zero, &Error{Cause: res.err}
		}
		guard.Succeed()
		w.Heartbeat()
		return res.val, nil
	case <-cctx.Done():
		guard.Timeout()
		spans.WatchdogTimeout(collector, toolName, timeout.Milliseconds())
		return zero, &Error{Timeout: true}
	}
}

// GuardLlm runs a model call under the fixed model timeout.
func GuardLlm[T any](ctx context.Context, w *Watchdog, collector *spans.Collector, modelName string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	timeout := w.cfg.DefaultModelTimeout
	ctx, guard := collector.StartGuardedCtx(ctx, models.SpanWatchdog, "watchdog:"+modelName)
	guard.Attributes()["operation"] = modelName
	guard.Attributes()["timeout_ms"] = timeout.Milliseconds()

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		v, err := fn(cctx)
		resultCh <- outcome{v, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			guard.Fail(res.err.Error())
			return zero, &Error{Cause: res.err}
		}
		guard.Succeed()
		w.Heartbeat()
		return res.val, nil
	case <-cctx.Done():
		guard.Timeout()
		spans.WatchdogTimeout(collector, modelName, timeout.Milliseconds())
		return zero, &Error{Timeout: true}
	}
}

// MonitorHandle cancels the heartbeat monitor goroutine started by
// StartHeartbeatMonitor.
type MonitorHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Abort cancels the monitor and waits for its goroutine to exit.
func (h *MonitorHandle) Abort() {
	h.cancel()
	<-h.done
}

// StartHeartbeatMonitor ticks every HeartbeatInterval and broadcasts an
// agent.error unresponsive event once silence crosses HeartbeatMaxSilence.
// The monitor never resets the heartbeat itself; only actual execution does.
func (w *Watchdog) StartHeartbeatMonitor(ctx context.Context, channelID int, b *broadcaster.Broadcaster) *MonitorHandle {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if w.IsUnresponsive() {
					b.Broadcast(models.NewBroadcastEvent(models.EventAgentError, map[string]any{
						"channel_id": channelID,
						"message":    fmt.Sprintf("Execution may be unresponsive (no activity for over %s)", w.cfg.HeartbeatMaxSilence),
					}))
				}
			}
		}
	}()

	return &MonitorHandle{cancel: cancel, done: done}
}
